package ccan

import (
	log "github.com/sirupsen/logrus"
)

// BitTiming is the abstract timing specification of one bit on the bus.
// The effective bit rate is canclk / (BRP * (1 + PropSeg + PhaseSeg1 +
// PhaseSeg2)).
type BitTiming struct {
	SJW       uint8  // synchronization jump width, 1..4
	PropSeg   uint8  // propagation segment, with PhaseSeg1 2..16
	PhaseSeg1 uint8  // phase buffer segment 1
	PhaseSeg2 uint8  // phase buffer segment 2, 1..8
	BRP       uint16 // baud rate prescaler, 1..1024
}

// Documented hardware ranges: 6-bit BRP field plus 4-bit extension field.
const (
	timingTSeg1Min = 2
	timingTSeg1Max = 16
	timingTSeg2Min = 1
	timingTSeg2Max = 8
	timingSJWMax   = 4
	timingBRPMin   = 1
	timingBRPMax   = 1024
)

// Validate checks the parameters against the controller's ranges.
func (bt BitTiming) Validate() error {
	tseg1 := int(bt.PropSeg) + int(bt.PhaseSeg1)
	if bt.SJW < 1 || bt.SJW > timingSJWMax {
		return ErrIllegalTiming
	}
	if tseg1 < timingTSeg1Min || tseg1 > timingTSeg1Max {
		return ErrIllegalTiming
	}
	if bt.PhaseSeg2 < timingTSeg2Min || bt.PhaseSeg2 > timingTSeg2Max {
		return ErrIllegalTiming
	}
	if bt.BRP < timingBRPMin || bt.BRP > timingBRPMax {
		return ErrIllegalTiming
	}
	return nil
}

// regFields packs the timing parameters into the bit-timing register and
// the prescaler extension register.
func (bt BitTiming) regFields() (btr uint16, brpe uint16) {
	// the controller provides a 6-bit brp and a 4-bit brpe field
	tenBitBRP := bt.BRP - 1
	brp := tenBitBRP & btrBRPMask
	brpe = (tenBitBRP >> 6) & brpExtMask

	sjw := uint16(bt.SJW - 1)
	tseg1 := uint16(bt.PropSeg + bt.PhaseSeg1 - 1)
	tseg2 := uint16(bt.PhaseSeg2 - 1)

	btr = brp | sjw<<btrSJWShift | tseg1<<btrTSeg1Shift | tseg2<<btrTSeg2Shift
	return btr, brpe
}

// ConfigureBitTiming validates and caches the timing parameters; they are
// written to the hardware on the next Start.
func (c *Controller) ConfigureBitTiming(bt BitTiming) error {
	if err := bt.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.bitTiming = bt
	c.haveTiming = true
	c.mu.Unlock()
	return nil
}

// setBitTiming writes the cached timing parameters. The controller must
// already be in initialization mode; configuration-change-enable is
// asserted just for the timing writes and the control register restored
// afterwards.
func (c *Controller) setBitTiming() {
	if !c.haveTiming {
		return
	}
	regBTR, regBRPE := c.bitTiming.regFields()

	log.Infof("[CCAN] setting BTR=%04x BRPE=%04x", regBTR, regBRPE)

	ctrlSave := c.regs.ReadReg(RegCtrl)
	c.regs.WriteReg(RegCtrl, ctrlSave|ctrlCCE|ctrlInit)
	c.regs.WriteReg(RegBTR, regBTR)
	c.regs.WriteReg(RegBRPExt, regBRPE)
	c.regs.WriteReg(RegCtrl, ctrlSave)
}
