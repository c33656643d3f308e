package ccan

import (
	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// Message object pool split. The 32 hardware objects are statically
// partitioned into the receive FIFO (objects 1..15, end-of-block marked on
// the last) and the transmit ring (objects 16..31, addressed by the sequence
// counters modulo the ring size). Object 32 stays invalidated.
const (
	msgObjTotal = 32

	msgObjRxFirst = 1
	msgObjRxLast  = 15
	msgObjRxSplit = 9

	msgObjTxFirst = 16
	msgObjTxLast  = msgObjTxFirst + msgObjTxNum - 1
	msgObjTxNum   = 16

	nextMsgObjMask = msgObjTxNum - 1
)

func (c *Controller) txNextMsgObj() int {
	return int(c.txNext&nextMsgObjMask) + msgObjTxFirst
}

func (c *Controller) txEchoMsgObj() int {
	return int(c.txEcho&nextMsgObjMask) + msgObjTxFirst
}

// invalMsgObject clears a message object's arbitration and control fields,
// dropping its message-valid bit.
func (c *Controller) invalMsgObject(iface int, objno int) {
	c.regs.WriteReg(ifaceReg(RegIF1Arb1, iface), 0)
	c.regs.WriteReg(ifaceReg(RegIF1Arb2, iface), 0)
	c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface), 0)

	c.objectPut(iface, objno, ifCommArb|ifCommControl)
}

// setupReceiveObject programs one receive slot: identifier mask, identifier
// and the message control word. The reserved bit in IFx_MASK2 reads back as
// fixed 1 and is written as such.
func (c *Controller) setupReceiveObject(iface int, objno int, mask uint32, id uint32, mcont uint16) {
	c.regs.WriteReg(ifaceReg(RegIF1Mask1, iface), uint16(mask))
	c.regs.WriteReg(ifaceReg(RegIF1Mask2, iface), uint16(mask>>16)|(1<<13))

	c.regs.WriteReg(ifaceReg(RegIF1Arb1, iface), uint16(id))
	c.regs.WriteReg(ifaceReg(RegIF1Arb2, iface), ifArbMsgVal|uint16(id>>16))

	c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface), mcont)
	c.objectPut(iface, objno, ifCommAll&^ifCommTxRqst)
}

// writeMsgObject encodes a frame into a transmit slot and requests its
// transmission.
func (c *Controller) writeMsgObject(iface int, frame can.Frame, objno int) {
	arb, mctrl, data := encodeFrame(frame)

	c.regs.WriteReg(ifaceReg(RegIF1Arb1, iface), uint16(arb))
	c.regs.WriteReg(ifaceReg(RegIF1Arb2, iface), uint16(arb>>16))

	for i := 0; i < int(dlc(frame.Length)); i += 2 {
		c.regs.WriteReg(ifaceReg(RegIF1Data1, iface)+Reg(i/2), data[i/2])
	}

	c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface), mctrl)
	c.objectPut(iface, objno, ifCommAll)
}

// readMsgObject decodes the frame staged in the port's shadow registers.
// The control word was already read by the caller during the drain.
func (c *Controller) readMsgObject(iface int, mctrl uint16) can.Frame {
	var data [4]uint16

	arb := uint32(c.regs.ReadReg(ifaceReg(RegIF1Arb1, iface))) |
		uint32(c.regs.ReadReg(ifaceReg(RegIF1Arb2, iface)))<<16

	if arb&(ifArbTransmit<<16) != 0 {
		length := dlc(uint8(mctrl & ifMContDLCMsk))
		for i := 0; i < int(length); i += 2 {
			data[i/2] = c.regs.ReadReg(ifaceReg(RegIF1Data1, iface) + Reg(i/2))
		}
	}
	return decodeFrame(arb, mctrl, data)
}

// markRxMsgObj reactivates a receive slot below the split boundary: the
// interrupt-pending and message-lost bits are cleared but new-data is kept
// so in-order delivery can be decided at the boundary.
func (c *Controller) markRxMsgObj(iface int, ctrlMask uint16, objno int) {
	c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface),
		ctrlMask&^(ifMContMsgLst|ifMContIntPnd))
	c.objectPut(iface, objno, ifCommControl)
}

// activateRxMsgObj reactivates a single receive slot, clearing new-data.
func (c *Controller) activateRxMsgObj(iface int, ctrlMask uint16, objno int) {
	c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface),
		ctrlMask&^(ifMContMsgLst|ifMContIntPnd|ifMContNewDat))
	c.objectPut(iface, objno, ifCommControl)
}

// activateAllLowerRxMsgObj reactivates the split boundary slot and every
// slot below it, clearing new-data on each.
func (c *Controller) activateAllLowerRxMsgObj(iface int, ctrlMask uint16) {
	for i := msgObjRxFirst; i <= msgObjRxSplit; i++ {
		c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface),
			ctrlMask&^(ifMContMsgLst|ifMContIntPnd|ifMContNewDat))
		c.objectPut(iface, i, ifCommControl)
	}
}

// handleLostMsgObj recovers a receive slot whose frame was overwritten
// before it could be read: message-lost is cleared, the slot stays
// configured, and a receive-overflow error event is delivered.
func (c *Controller) handleLostMsgObj(iface int, objno int) {
	log.Errorf("[CCAN] msg lost in buffer %v", objno)

	c.objectGet(iface, objno, ifCommAll&^ifCommTxRqst)

	c.regs.WriteReg(ifaceReg(RegIF1MsgCtrl, iface), 0)
	c.objectPut(iface, objno, ifCommControl)

	var frame can.Frame
	frame.ID = CAN_ERR_FLAG | CAN_ERR_CRTL
	frame.Length = CAN_ERR_DLC
	frame.Data[1] = CAN_ERR_CRTL_RX_OVERFLOW
	c.rcv(frame)
}

// drainRxPoll scans the receive FIFO once against the interrupt-pending
// bitmask and delivers every readable frame in arrival order.
//
// The controller saves a received message into the first free receive
// object it finds, starting with the lowest. To still deliver frames in
// arrival order despite that fill policy, reactivation is asymmetric around
// the split boundary:
//   - below the boundary, new-data is kept while clearing interrupt-pending
//   - at the boundary, new-data is cleared on the boundary slot and on all
//     slots below it
//   - above the boundary, new-data is cleared on that slot only
func (c *Controller) drainRxPoll() int {
	numRx := 0

	val := readReg32(c.regs, RegIntPnd1)
	for objno := msgObjRxFirst; objno <= msgObjRxLast; objno++ {
		// bit n-1 of the pending register corresponds to object n
		if val&(1<<uint(objno-1)) != 0 {
			c.objectGet(ifacePort1, objno, ifCommAll&^ifCommTxRqst)
			mctrl := c.regs.ReadReg(ifaceReg(RegIF1MsgCtrl, ifacePort1))

			if mctrl&ifMContEOB != 0 {
				return numRx
			}

			if mctrl&ifMContMsgLst != 0 {
				c.handleLostMsgObj(ifacePort1, objno)
				numRx++
				val = readReg32(c.regs, RegIntPnd1)
				continue
			}

			if mctrl&ifMContNewDat == 0 {
				val = readReg32(c.regs, RegIntPnd1)
				continue
			}

			frame := c.readMsgObject(ifacePort1, mctrl)

			switch {
			case objno < msgObjRxSplit:
				c.markRxMsgObj(ifacePort1, mctrl, objno)
			case objno > msgObjRxSplit:
				c.activateRxMsgObj(ifacePort1, mctrl, objno)
			default:
				c.activateAllLowerRxMsgObj(ifacePort1, mctrl)
			}

			c.rcv(frame)
			numRx++
		}
		val = readReg32(c.regs, RegIntPnd1)
	}
	return numRx
}

// drainTx retires completed transmissions.
//
// txEcho holds the sequence number of the oldest frame put into the
// hardware but not yet observed complete. The scan walks from txEcho
// towards txNext and invalidates every object whose transmit-request bit
// has cleared; a still-set bit stops the scan and releases one admission
// unit. After the scan one extra unit is released on ring wrap-up or when
// the ring fully drained; a literal count of objects freed per pass is not
// sufficient once wraparound makes slot comparisons ambiguous, so both
// release points are required to restart stalled producers.
func (c *Controller) drainTx() {
	for ; c.txNext-c.txEcho > 0; c.txEcho++ {
		objno := c.txEchoMsgObj()
		val := readReg32(c.regs, RegTxRqst1)
		// bit n-1 of the transmit-request register corresponds to object n
		if val&(1<<uint(objno-1)) == 0 {
			c.invalMsgObject(ifacePort1, objno)
		} else {
			if c.txSem != nil {
				c.txSem.Release()
			}
			break
		}
	}

	// restart producers on wrap-up or if the ring stalled on the last slot
	if c.txNext&nextMsgObjMask != 0 || c.txEcho&nextMsgObjMask == 0 {
		if c.txSem != nil {
			c.txSem.Release()
		}
	}
}

// configureMsgObjects resets the whole pool and programs the receive FIFO.
// The end of the FIFO is signified to the hardware by the end-of-block bit
// on the last receive object.
func (c *Controller) configureMsgObjects() {
	for i := msgObjRxFirst; i <= msgObjTotal; i++ {
		c.invalMsgObject(ifacePort1, i)
	}

	for i := msgObjRxFirst; i < msgObjRxLast; i++ {
		c.setupReceiveObject(ifacePort1, i, 0, 0,
			(ifMContRxIE|ifMContUMask)&^ifMContEOB)
	}
	c.setupReceiveObject(ifacePort1, msgObjRxLast, 0, 0,
		ifMContEOB|ifMContRxIE|ifMContUMask)
}
