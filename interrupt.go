package ccan

import (
	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// Distinguished interrupt-status value reporting a status or error
// interrupt rather than a message object number.
const statusInterrupt = 0x8000

// enableAllInterrupts switches the status, error and module interrupt
// sources on or off, preserving the remaining control register bits.
func (c *Controller) enableAllInterrupts(enable bool) {
	ctrlSave := c.regs.ReadReg(RegCtrl)
	if enable {
		ctrlSave |= ctrlSIE | ctrlEIE | ctrlIE
	} else {
		ctrlSave &^= ctrlEIE | ctrlIE | ctrlSIE
	}
	c.regs.WriteReg(RegCtrl, ctrlSave)
}

// ensureDeliveryLocks takes the dispatcher locks for the remainder of the
// current interrupt pass. They are taken at most once per pass no matter
// how many events are raised.
func (c *Controller) ensureDeliveryLocks() {
	if !c.passLocksHeld {
		c.passLocksHeld = true
		c.disp.lockDelivery()
	}
}

// rcv hands one decoded frame or synthesized error event to the dispatcher.
func (c *Controller) rcv(frame can.Frame) {
	c.ensureDeliveryLocks()
	c.disp.deliverLocked(frame)
}

// releaseDelivery drops the dispatcher locks at the end of a pass.
func (c *Controller) releaseDelivery() {
	if c.passLocksHeld {
		c.passLocksHeld = false
		c.disp.unlockDelivery()
	}
}

// Interrupt is the single interrupt entry point, invoked by the host on the
// controller's interrupt line. It performs exactly one dispatch pass and
// reports whether the interrupt was ours.
//
// Status events have the highest priority; the interrupt status register
// otherwise names the lowest pending message object, which selects the
// receive or transmit drain.
func (c *Controller) Interrupt() bool {
	irqstatus := c.regs.ReadReg(RegInt)
	if irqstatus == 0 {
		return false
	}

	handled := false
	c.enableAllInterrupts(false)

	c.mu.Lock()

	switch {
	case irqstatus == statusInterrupt:
		curr := c.regs.ReadReg(RegStatus)

		// handle Tx/Rx acknowledgement flags
		if curr&statusTxOK != 0 {
			c.regs.WriteReg(RegStatus, curr&^statusTxOK)
		}
		if curr&statusRxOK != 0 {
			c.regs.WriteReg(RegStatus, curr&^statusRxOK)
		}

		// handle state changes, edge triggered against the previous
		// snapshot
		if curr&statusEWarn != 0 && c.lastStatus&statusEWarn == 0 {
			log.Debugf("[CCAN] entered error warning state")
			c.handleStateChange(busErrorWarning)
		}
		if curr&statusEPass != 0 && c.lastStatus&statusEPass == 0 {
			log.Debugf("[CCAN] entered error passive state")
			c.handleStateChange(busErrorPassive)
		}
		if curr&statusBoff != 0 && c.lastStatus&statusBoff == 0 {
			log.Debugf("[CCAN] entered bus off state")
			c.handleStateChange(busErrorBusOff)
		}

		// handle bus recovery events, silent on purpose
		if curr&statusBoff == 0 && c.lastStatus&statusBoff != 0 {
			log.Debugf("[CCAN] left bus off state")
			c.state = StateErrorActive
		}
		if curr&statusEPass == 0 && c.lastStatus&statusEPass != 0 {
			log.Debugf("[CCAN] left error passive state")
			c.state = StateErrorActive
		}

		c.lastStatus = curr

		// handle lec errors on the bus
		lecType := curr & lecUnused
		if lecType != 0 {
			c.handleBusErr(lecType)
		}
		handled = true

	case irqstatus >= msgObjRxFirst && irqstatus <= msgObjRxLast:
		c.drainRxPoll()
		handled = true

	case irqstatus >= msgObjTxFirst && irqstatus <= msgObjTxLast:
		c.drainTx()
		if c.disp.loopbackPending() {
			c.ensureDeliveryLocks()
			c.disp.loopbackDeliver()
		}
		handled = true
	}

	c.releaseDelivery()
	c.mu.Unlock()

	c.enableAllInterrupts(true)
	return handled
}
