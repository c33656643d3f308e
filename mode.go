package ccan

import (
	log "github.com/sirupsen/logrus"
)

// Mode requests accepted by SetMode.
type Mode int

const (
	ModeStop Mode = iota
	ModeStart
	ModeSleep
)

func (c *Controller) resetRAM(enable bool) {
	if c.raminit != nil {
		c.raminit(enable)
	}
}

// chipConfig brings the chip into its configured operating mode: automatic
// retransmission, optional loopback/silent test modes, a freshly programmed
// message object pool, the last-error-code sentinel and the cached bit
// timing.
func (c *Controller) chipConfig() {
	// enable automatic retransmission
	c.regs.WriteReg(RegCtrl, ctrlEnableAR)

	switch {
	case c.loopback && c.silent:
		// loopback + silent mode : useful for hot self-test
		c.regs.WriteReg(RegCtrl, ctrlEIE|ctrlSIE|ctrlIE|ctrlTest)
		c.regs.WriteReg(RegTest, testLback|testSilent)
	case c.loopback:
		// loopback mode : useful for self-test function
		c.regs.WriteReg(RegCtrl, ctrlEIE|ctrlSIE|ctrlIE|ctrlTest)
		c.regs.WriteReg(RegTest, testLback)
	case c.silent:
		// silent mode : bus-monitoring mode
		c.regs.WriteReg(RegCtrl, ctrlEIE|ctrlSIE|ctrlIE|ctrlTest)
		c.regs.WriteReg(RegTest, testSilent)
	default:
		// normal mode
		c.regs.WriteReg(RegCtrl, ctrlEIE|ctrlSIE|ctrlIE)
	}

	c.configureMsgObjects()

	// set a lec value so that updates can be checked for later
	c.regs.WriteReg(RegStatus, lecUnused)

	c.setBitTiming()
}

// Start arms the controller. Starting an already operating controller is a
// no-op; from Stopped the interrupt line is requested first and a failure
// is reported synchronously, leaving the controller stopped. Restarting
// from bus off skips the interrupt registration, which is still in place.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateErrorActive, StateErrorWarning, StateErrorPassive:
		// already operating

	case StateStopped:
		if err := c.irq.Request(c.Interrupt); err != nil {
			log.Errorf("[CCAN] could not request irq: %v", err)
			return err
		}
		c.resetRAM(true)

		// start chip and queueing
		c.chipConfig()
		c.state = StateErrorActive

		// reset tx helper counters
		c.txNext = 0
		c.txEcho = 0

		// enable status change, error and module interrupts
		c.enableAllInterrupts(true)

		c.txSem = newTxSemaphore(msgObjTxNum)

	case StateBusOff:
		c.txSem = newTxSemaphore(msgObjTxNum)
		c.resetRAM(true)
		c.chipConfig()
		c.state = StateErrorActive
		c.txNext = 0
		c.txEcho = 0
		c.enableAllInterrupts(true)

	case StateSleeping:
	default:
	}

	return nil
}

// Stop disarms an operating controller: interrupt sources off, state
// Stopped, all transmit admission waiters abandoned, interrupt line freed.
// Stopping a controller that is not operating is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.operating() {
		return
	}

	c.enableAllInterrupts(false)

	c.state = StateStopped

	// wake up waiting senders
	if c.txSem != nil {
		c.txSem.Destroy()
	}

	c.irq.Free()
}

// SetMode drives a start or stop transition. Sleep is not supported by
// this controller.
func (c *Controller) SetMode(mode Mode) error {
	switch mode {
	case ModeStop:
		c.Stop()
		return nil
	case ModeStart:
		return c.Start()
	default:
		return ErrNotSupported
	}
}
