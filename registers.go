package ccan

// Logical register indices of the C_CAN/D_CAN controller. The two register
// maps below resolve an index to the byte offset for the configured variant.
type Reg int

const (
	RegCtrl Reg = iota
	RegCtrlEx
	RegStatus
	RegErrCnt
	RegBTR
	RegInt
	RegTest
	RegBRPExt
	RegIF1ComReq
	RegIF1ComMask
	RegIF1Mask1
	RegIF1Mask2
	RegIF1Arb1
	RegIF1Arb2
	RegIF1MsgCtrl
	RegIF1Data1
	RegIF1Data2
	RegIF1Data3
	RegIF1Data4
	RegIF2ComReq
	RegIF2ComMask
	RegIF2Mask1
	RegIF2Mask2
	RegIF2Arb1
	RegIF2Arb2
	RegIF2MsgCtrl
	RegIF2Data1
	RegIF2Data2
	RegIF2Data3
	RegIF2Data4
	RegTxRqst1
	RegTxRqst2
	RegNewDat1
	RegNewDat2
	RegIntPnd1
	RegIntPnd2
	RegMsgVal1
	RegMsgVal2
	regCount
)

// Number of registers in one interface port group, used to address the
// duplicated IF2 group relative to IF1.
const ifaceRegStride = Reg(RegIF2ComReq - RegIF1ComReq)

// Variant selects one of the two supported register layouts.
type Variant int

const (
	BoschCCan Variant = iota
	BoschDCan
)

var regMapCCan = [regCount]uint16{
	RegCtrl:       0x00,
	RegStatus:     0x02,
	RegErrCnt:     0x04,
	RegBTR:        0x06,
	RegInt:        0x08,
	RegTest:       0x0A,
	RegBRPExt:     0x0C,
	RegIF1ComReq:  0x10,
	RegIF1ComMask: 0x12,
	RegIF1Mask1:   0x14,
	RegIF1Mask2:   0x16,
	RegIF1Arb1:    0x18,
	RegIF1Arb2:    0x1A,
	RegIF1MsgCtrl: 0x1C,
	RegIF1Data1:   0x1E,
	RegIF1Data2:   0x20,
	RegIF1Data3:   0x22,
	RegIF1Data4:   0x24,
	RegIF2ComReq:  0x40,
	RegIF2ComMask: 0x42,
	RegIF2Mask1:   0x44,
	RegIF2Mask2:   0x46,
	RegIF2Arb1:    0x48,
	RegIF2Arb2:    0x4A,
	RegIF2MsgCtrl: 0x4C,
	RegIF2Data1:   0x4E,
	RegIF2Data2:   0x50,
	RegIF2Data3:   0x52,
	RegIF2Data4:   0x54,
	RegTxRqst1:    0x80,
	RegTxRqst2:    0x82,
	RegNewDat1:    0x90,
	RegNewDat2:    0x92,
	RegIntPnd1:    0xA0,
	RegIntPnd2:    0xA2,
	RegMsgVal1:    0xB0,
	RegMsgVal2:    0xB2,
}

var regMapDCan = [regCount]uint16{
	RegCtrl:       0x00,
	RegCtrlEx:     0x02,
	RegStatus:     0x04,
	RegErrCnt:     0x08,
	RegBTR:        0x0C,
	RegBRPExt:     0x0E,
	RegInt:        0x10,
	RegTest:       0x14,
	RegTxRqst1:    0x88,
	RegTxRqst2:    0x8A,
	RegNewDat1:    0x9C,
	RegNewDat2:    0x9E,
	RegIntPnd1:    0xB0,
	RegIntPnd2:    0xB2,
	RegMsgVal1:    0xC4,
	RegMsgVal2:    0xC6,
	RegIF1ComReq:  0x100,
	RegIF1ComMask: 0x102,
	RegIF1Mask1:   0x104,
	RegIF1Mask2:   0x106,
	RegIF1Arb1:    0x108,
	RegIF1Arb2:    0x10A,
	RegIF1MsgCtrl: 0x10C,
	RegIF1Data1:   0x110,
	RegIF1Data2:   0x112,
	RegIF1Data3:   0x114,
	RegIF1Data4:   0x116,
	RegIF2ComReq:  0x120,
	RegIF2ComMask: 0x122,
	RegIF2Mask1:   0x124,
	RegIF2Mask2:   0x126,
	RegIF2Arb1:    0x128,
	RegIF2Arb2:    0x12A,
	RegIF2MsgCtrl: 0x12C,
	RegIF2Data1:   0x130,
	RegIF2Data2:   0x132,
	RegIF2Data3:   0x134,
	RegIF2Data4:   0x136,
}

// control extension register, D_CAN specific
const ctrlExPDR = 1 << 8

// control register
const (
	ctrlTest      = 1 << 7
	ctrlCCE       = 1 << 6
	ctrlDisableAR = 1 << 5
	ctrlEnableAR  = 0 << 5
	ctrlEIE       = 1 << 3
	ctrlSIE       = 1 << 2
	ctrlIE        = 1 << 1
	ctrlInit      = 1 << 0
)

// test register
const (
	testRx     = 1 << 7
	testTx1    = 1 << 6
	testTx2    = 1 << 5
	testLback  = 1 << 4
	testSilent = 1 << 3
	testBasic  = 1 << 2
)

// status register
const (
	statusPDA   = 1 << 10
	statusBoff  = 1 << 7
	statusEWarn = 1 << 6
	statusEPass = 1 << 5
	statusRxOK  = 1 << 4
	statusTxOK  = 1 << 3
)

// error counter register
const (
	errCntTECMask  = 0xFF
	errCntRECShift = 8
	errCntRECMask  = 0x7F << errCntRECShift
	errCntRPShift  = 15
	errCntRPMask   = 0x1 << errCntRPShift
)

// bit-timing register
const (
	btrBRPMask    = 0x3F
	btrSJWShift   = 6
	btrTSeg1Shift = 8
	btrTSeg2Shift = 12
)

// brp extension register
const brpExtMask = 0x0F

// IFx command request
const ifComReqBusy = 1 << 15

// IFx command mask
const (
	ifCommWR        = 1 << 7
	ifCommMask      = 1 << 6
	ifCommArb       = 1 << 5
	ifCommControl   = 1 << 4
	ifCommClrIntPnd = 1 << 3
	ifCommTxRqst    = 1 << 2
	ifCommDataA     = 1 << 1
	ifCommDataB     = 1 << 0
	ifCommAll       = ifCommMask | ifCommArb | ifCommControl |
		ifCommTxRqst | ifCommDataA | ifCommDataB
)

// IFx arbitration
const (
	ifArbMsgVal   = 1 << 15
	ifArbMsgXtd   = 1 << 14
	ifArbTransmit = 1 << 13
)

// IFx message control
const (
	ifMContNewDat = 1 << 15
	ifMContMsgLst = 1 << 14
	ifMContIntPnd = 1 << 13
	ifMContUMask  = 1 << 12
	ifMContTxIE   = 1 << 11
	ifMContRxIE   = 1 << 10
	ifMContRmtEn  = 1 << 9
	ifMContTxRqst = 1 << 8
	ifMContEOB    = 1 << 7
	ifMContDLCMsk = 0xF
)

// Window is the memory-mapped register window of one controller instance.
// Offsets are byte offsets as resolved by the register map; accesses are
// always 16 bits wide.
type Window interface {
	ReadWord(offset uint32) uint16
	WriteWord(offset uint32, val uint16)
}

// RegisterAccessor performs 16-bit register access by logical index.
type RegisterAccessor interface {
	ReadReg(index Reg) uint16
	WriteReg(index Reg, val uint16)
}

// Alignment selects how 16-bit registers are laid out on the bus.
type Alignment int

const (
	Aligned16 Alignment = iota
	Aligned32
)

// 16-bit c_can registers can be arranged differently in the memory
// architecture of different implementations: aligned to a 16-bit boundary or
// to a 32-bit boundary. The strategy is fixed at construction.
type alignedAccessor struct {
	win   Window
	regs  *[regCount]uint16
	shift uint32
}

func (a *alignedAccessor) ReadReg(index Reg) uint16 {
	return a.win.ReadWord(uint32(a.regs[index]) << a.shift)
}

func (a *alignedAccessor) WriteReg(index Reg, val uint16) {
	a.win.WriteWord(uint32(a.regs[index])<<a.shift, val)
}

// NewRegisterAccessor builds the access strategy for a register window,
// variant and bus alignment.
func NewRegisterAccessor(win Window, variant Variant, alignment Alignment) RegisterAccessor {
	regs := &regMapCCan
	if variant == BoschDCan {
		regs = &regMapDCan
	}
	var shift uint32
	if alignment == Aligned32 {
		shift = 1
	}
	return &alignedAccessor{win: win, regs: regs, shift: shift}
}

// readReg32 combines two consecutive 16-bit registers into their 32-bit
// composite. The bitmask registers spanning 32 bits (TXRQST, NEWDAT, INTPND,
// MSGVAL) must be read through this.
func readReg32(a RegisterAccessor, index Reg) uint32 {
	val := uint32(a.ReadReg(index))
	val |= uint32(a.ReadReg(index+1)) << 16
	return val
}
