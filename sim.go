package ccan

import (
	"sync"

	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// SimDevice is a behavioural model of the controller used for testing and
// self-hosted demos: 32-slot message RAM, both interface port groups with
// command-triggered block transfers, the derived 32-bit bitmask registers
// and the interrupt line. It implements Window and IRQLine, so a Controller
// runs on it unmodified.
type SimDevice struct {
	mu      sync.Mutex
	variant Variant
	offsets map[uint32]Reg

	ctrl    uint16
	ctrlEx  uint16
	test    uint16
	status  uint16
	errCnt  uint16
	btr     uint16
	brpe    uint16
	statIRQ bool

	objects [msgObjTotal + 1]simObject
	ports   [2]simPort

	handler func() bool

	// OnTransmit is invoked, outside the model lock, whenever a message
	// object is committed with its transmit-request bit set. It runs on
	// the submitting goroutine and must not call back into the
	// controller synchronously.
	OnTransmit func(objno int, frame can.Frame)
}

type simObject struct {
	arb1  uint16
	arb2  uint16
	mctrl uint16
	mask1 uint16
	mask2 uint16
	data  [4]uint16
}

type simPort struct {
	comMask uint16
	obj     simObject
}

// NewSimDevice builds a model with the given register layout on a 16-bit
// aligned window.
func NewSimDevice(variant Variant) *SimDevice {
	return NewSimDeviceAligned(variant, Aligned16)
}

// NewSimDeviceAligned builds a model whose window matches the given bus
// alignment; the paired controller must be constructed with the same one.
func NewSimDeviceAligned(variant Variant, alignment Alignment) *SimDevice {
	d := &SimDevice{variant: variant, offsets: make(map[uint32]Reg)}
	regs := &regMapCCan
	if variant == BoschDCan {
		regs = &regMapDCan
	}
	var shift uint32
	if alignment == Aligned32 {
		shift = 1
	}
	for r := Reg(0); r < regCount; r++ {
		d.offsets[uint32(regs[r])<<shift] = r
	}
	// the unused CTRL_EX offset of the C_CAN map collides with CTRL at 0
	d.offsets[uint32(regs[RegCtrl])<<shift] = RegCtrl
	d.status = lecUnused
	return d
}

// Request implements IRQLine.
func (d *SimDevice) Request(handler func() bool) error {
	d.mu.Lock()
	d.handler = handler
	d.mu.Unlock()
	return nil
}

// Free implements IRQLine.
func (d *SimDevice) Free() {
	d.mu.Lock()
	d.handler = nil
	d.mu.Unlock()
}

// Fire invokes the registered interrupt handler once, the way the host
// would on an interrupt line edge. Returns the handler's verdict.
func (d *SimDevice) Fire() bool {
	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()
	if handler == nil {
		return false
	}
	return handler()
}

// ReadWord implements Window.
func (d *SimDevice) ReadWord(offset uint32) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()

	reg, ok := d.offsets[offset]
	if !ok {
		log.Warnf("[SIM] read of unmapped offset %#x", offset)
		return 0
	}

	switch {
	case reg == RegCtrl:
		return d.ctrl
	case reg == RegCtrlEx:
		return d.ctrlEx
	case reg == RegTest:
		return d.test
	case reg == RegStatus:
		// reading the status register acknowledges the status interrupt
		d.statIRQ = false
		return d.status
	case reg == RegErrCnt:
		return d.errCnt
	case reg == RegBTR:
		return d.btr
	case reg == RegBRPExt:
		return d.brpe
	case reg == RegInt:
		return d.intStatus()
	case reg >= RegTxRqst1 && reg <= RegMsgVal2:
		return d.bitmaskReg(reg)
	case reg >= RegIF1ComReq && reg <= RegIF2Data4:
		return d.readPortReg(reg)
	}
	return 0
}

// WriteWord implements Window.
func (d *SimDevice) WriteWord(offset uint32, val uint16) {
	var txObj int
	var txFrame can.Frame

	d.mu.Lock()
	reg, ok := d.offsets[offset]
	if !ok {
		log.Warnf("[SIM] write of unmapped offset %#x", offset)
		d.mu.Unlock()
		return
	}

	switch {
	case reg == RegCtrl:
		d.ctrl = val
	case reg == RegCtrlEx:
		d.ctrlEx = val
		// power-down acknowledge follows the request bit immediately
		if val&ctrlExPDR != 0 {
			d.status |= statusPDA
		} else {
			d.status &^= statusPDA
		}
	case reg == RegTest:
		d.test = val
	case reg == RegStatus:
		// only the acknowledge flags and the lec field are writable
		writable := uint16(lecUnused | statusTxOK | statusRxOK)
		d.status = d.status&^writable | val&writable
	case reg == RegBTR:
		d.btr = val
	case reg == RegBRPExt:
		d.brpe = val
	case reg >= RegIF1ComReq && reg <= RegIF2Data4:
		txObj, txFrame = d.writePortReg(reg, val)
	}
	onTransmit := d.OnTransmit
	d.mu.Unlock()

	if txObj != 0 && onTransmit != nil {
		onTransmit(txObj, txFrame)
	}
}

func portOf(reg Reg) (int, Reg) {
	if reg >= RegIF2ComReq {
		return 1, reg - ifaceRegStride
	}
	return 0, reg
}

func (d *SimDevice) readPortReg(reg Reg) uint16 {
	port, base := portOf(reg)
	obj := &d.ports[port].obj
	switch base {
	case RegIF1ComReq:
		return 0 // transfers complete instantly, busy never observed
	case RegIF1ComMask:
		return d.ports[port].comMask
	case RegIF1Mask1:
		return obj.mask1
	case RegIF1Mask2:
		return obj.mask2
	case RegIF1Arb1:
		return obj.arb1
	case RegIF1Arb2:
		return obj.arb2
	case RegIF1MsgCtrl:
		return obj.mctrl
	default:
		return obj.data[base-RegIF1Data1]
	}
}

// writePortReg stores a port register; writing the command request register
// performs the block transfer between the port's shadow registers and the
// message RAM. Returns a pending transmission, if the transfer committed
// one.
func (d *SimDevice) writePortReg(reg Reg, val uint16) (int, can.Frame) {
	port, base := portOf(reg)
	p := &d.ports[port]
	switch base {
	case RegIF1ComMask:
		p.comMask = val
	case RegIF1Mask1:
		p.obj.mask1 = val
	case RegIF1Mask2:
		p.obj.mask2 = val
	case RegIF1Arb1:
		p.obj.arb1 = val
	case RegIF1Arb2:
		p.obj.arb2 = val
	case RegIF1MsgCtrl:
		p.obj.mctrl = val
	case RegIF1Data1, RegIF1Data2, RegIF1Data3, RegIF1Data4:
		p.obj.data[base-RegIF1Data1] = val
	case RegIF1ComReq:
		return d.transfer(port, int(val&0x3F))
	}
	return 0, can.Frame{}
}

func (d *SimDevice) transfer(port int, objno int) (int, can.Frame) {
	if objno < 1 || objno > msgObjTotal {
		return 0, can.Frame{}
	}
	p := &d.ports[port]
	obj := &d.objects[objno]
	mask := p.comMask

	if mask&ifCommWR != 0 {
		if mask&ifCommMask != 0 {
			obj.mask1, obj.mask2 = p.obj.mask1, p.obj.mask2
		}
		if mask&ifCommArb != 0 {
			obj.arb1, obj.arb2 = p.obj.arb1, p.obj.arb2
		}
		if mask&ifCommControl != 0 {
			obj.mctrl = p.obj.mctrl
		}
		if mask&ifCommDataA != 0 {
			obj.data[0], obj.data[1] = p.obj.data[0], p.obj.data[1]
		}
		if mask&ifCommDataB != 0 {
			obj.data[2], obj.data[3] = p.obj.data[2], p.obj.data[3]
		}
		if obj.arb2&ifArbMsgVal != 0 && obj.mctrl&ifMContTxRqst != 0 {
			arb := uint32(obj.arb1) | uint32(obj.arb2)<<16
			return objno, decodeFrame(arb, obj.mctrl, obj.data)
		}
		return 0, can.Frame{}
	}

	if mask&ifCommMask != 0 {
		p.obj.mask1, p.obj.mask2 = obj.mask1, obj.mask2
	}
	if mask&ifCommArb != 0 {
		p.obj.arb1, p.obj.arb2 = obj.arb1, obj.arb2
	}
	if mask&ifCommControl != 0 {
		p.obj.mctrl = obj.mctrl
	}
	if mask&ifCommDataA != 0 {
		p.obj.data[0], p.obj.data[1] = obj.data[0], obj.data[1]
	}
	if mask&ifCommDataB != 0 {
		p.obj.data[2], p.obj.data[3] = obj.data[2], obj.data[3]
	}
	return 0, can.Frame{}
}

// bitmaskReg derives one half of the 32-bit TXRQST/NEWDAT/INTPND/MSGVAL
// composites from the message RAM. Bit n-1 corresponds to object n.
func (d *SimDevice) bitmaskReg(reg Reg) uint16 {
	var bits uint32
	for objno := 1; objno <= msgObjTotal; objno++ {
		obj := &d.objects[objno]
		var set bool
		switch reg {
		case RegTxRqst1, RegTxRqst2:
			set = obj.mctrl&ifMContTxRqst != 0
		case RegNewDat1, RegNewDat2:
			set = obj.mctrl&ifMContNewDat != 0
		case RegIntPnd1, RegIntPnd2:
			set = obj.mctrl&ifMContIntPnd != 0
		case RegMsgVal1, RegMsgVal2:
			set = obj.arb2&ifArbMsgVal != 0
		}
		if set {
			bits |= 1 << uint(objno-1)
		}
	}
	switch reg {
	case RegTxRqst2, RegNewDat2, RegIntPnd2, RegMsgVal2:
		return uint16(bits >> 16)
	default:
		return uint16(bits)
	}
}

// intStatus mirrors the interrupt register: the status interrupt wins,
// otherwise the lowest message object with a pending interrupt.
func (d *SimDevice) intStatus() uint16 {
	if d.statIRQ {
		return statusInterrupt
	}
	for objno := 1; objno <= msgObjTotal; objno++ {
		if d.objects[objno].mctrl&ifMContIntPnd != 0 {
			return uint16(objno)
		}
	}
	return 0
}

// DeliverFrame stores a bus frame into the lowest free receive slot,
// hardware fill policy. The end-of-block object only ever catches
// overflow: with no free slot below it, it is marked message-lost.
// Returns whether a slot accepted new data.
func (d *SimDevice) DeliverFrame(frame can.Frame) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	arb, _, data := encodeFrame(frame)
	for objno := msgObjRxFirst; objno < msgObjRxLast; objno++ {
		obj := &d.objects[objno]
		if obj.arb2&ifArbMsgVal == 0 {
			continue
		}
		if obj.mctrl&ifMContNewDat != 0 {
			continue
		}
		obj.arb1 = uint16(arb)
		obj.arb2 = uint16(arb >> 16)
		obj.data = data
		obj.mctrl = obj.mctrl&^uint16(ifMContDLCMsk) |
			ifMContNewDat | ifMContIntPnd | uint16(dlc(frame.Length))
		return true
	}

	// pool exhausted: the frame is lost at the end-of-block object
	eob := &d.objects[msgObjRxLast]
	if eob.arb2&ifArbMsgVal != 0 {
		eob.mctrl |= ifMContMsgLst | ifMContIntPnd
	}
	return false
}

// SetMsgLost marks a receive slot overwritten, for overflow testing.
func (d *SimDevice) SetMsgLost(objno int) {
	d.mu.Lock()
	d.objects[objno].mctrl |= ifMContMsgLst | ifMContIntPnd
	d.mu.Unlock()
}

// CompleteTx acknowledges the transmission staged in a transmit slot: the
// transmit-request bit clears and, with the transmit interrupt enabled, the
// slot raises its interrupt.
func (d *SimDevice) CompleteTx(objno int) {
	d.mu.Lock()
	obj := &d.objects[objno]
	obj.mctrl &^= ifMContTxRqst
	if obj.mctrl&ifMContTxIE != 0 {
		obj.mctrl |= ifMContIntPnd
	}
	d.status |= statusTxOK
	d.mu.Unlock()
}

// RaiseStatus sets status register bits (error warning, error passive, bus
// off, last error code) and latches the status interrupt.
func (d *SimDevice) RaiseStatus(bits uint16) {
	d.mu.Lock()
	d.status |= bits
	d.statIRQ = true
	d.mu.Unlock()
}

// ClearStatus drops status register bits, latching the status interrupt so
// recovery edges are observed.
func (d *SimDevice) ClearStatus(bits uint16) {
	d.mu.Lock()
	d.status &^= bits
	d.statIRQ = true
	d.mu.Unlock()
}

// SetErrorCounters programs the error counter register: transmit error
// count, receive error count and the receive-error-passive flag.
func (d *SimDevice) SetErrorCounters(tec uint8, rec uint8, rp bool) {
	d.mu.Lock()
	d.errCnt = uint16(tec) | uint16(rec&0x7F)<<errCntRECShift
	if rp {
		d.errCnt |= errCntRPMask
	}
	d.mu.Unlock()
}

// SetLastError places a last-error-code value into the status register and
// latches the status interrupt.
func (d *SimDevice) SetLastError(lec uint16) {
	d.mu.Lock()
	d.status = d.status&^uint16(lecUnused) | lec&lecUnused
	d.statIRQ = true
	d.mu.Unlock()
}
