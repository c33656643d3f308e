package ccan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitTimingRegFields(t *testing.T) {
	bt := BitTiming{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10}
	btr, brpe := bt.regFields()
	assert.Equal(t, uint16(0x3749), btr)
	assert.Equal(t, uint16(0), brpe)
}

func TestBitTimingPrescalerExtension(t *testing.T) {
	bt := BitTiming{SJW: 1, PropSeg: 1, PhaseSeg1: 1, PhaseSeg2: 1, BRP: 100}
	btr, brpe := bt.regFields()
	// 99 = 0b1_100011 splits across the base and extension fields
	assert.Equal(t, uint16(0x23), btr&btrBRPMask)
	assert.Equal(t, uint16(0x01), brpe)
}

func TestBitTimingValidate(t *testing.T) {
	good := BitTiming{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10}
	assert.NoError(t, good.Validate())

	bad := []BitTiming{
		{SJW: 0, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10},
		{SJW: 5, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10},
		{SJW: 2, PropSeg: 0, PhaseSeg1: 1, PhaseSeg2: 4, BRP: 10},
		{SJW: 2, PropSeg: 10, PhaseSeg1: 7, PhaseSeg2: 4, BRP: 10},
		{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 0, BRP: 10},
		{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 9, BRP: 10},
		{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 0},
		{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 1025},
	}
	for i, bt := range bad {
		assert.ErrorIs(t, bt.Validate(), ErrIllegalTiming, "case %d", i)
	}
}

func TestStartWritesBitTiming(t *testing.T) {
	sim := NewSimDevice(BoschCCan)
	c := NewController(sim, BoschCCan, Aligned16, sim)

	bt := BitTiming{SJW: 2, PropSeg: 2, PhaseSeg1: 6, PhaseSeg2: 4, BRP: 10}
	assert.NoError(t, c.ConfigureBitTiming(bt))
	assert.NoError(t, c.Start())
	defer c.Stop()

	sim.mu.Lock()
	defer sim.mu.Unlock()
	assert.Equal(t, uint16(0x3749), sim.btr)
	assert.Equal(t, uint16(0), sim.brpe)
	// configuration-change-enable must not stay asserted
	assert.Zero(t, sim.ctrl&ctrlCCE)
	assert.Zero(t, sim.ctrl&ctrlInit)
}
