package ccan

import (
	"time"
)

// Bounded wait for the power-down acknowledge bit.
const pdaWaitTimeout = time.Second

// PowerDown puts a D_CAN controller into power-down mode: the power-down
// request bit is set and the acknowledge bit polled with a bounded wait.
// Interrupts are disabled and the state set to Stopped on success.
func (c *Controller) PowerDown() error {
	if c.variant != BoschDCan {
		return ErrWrongVariant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	val := c.regs.ReadReg(RegCtrlEx)
	c.regs.WriteReg(RegCtrlEx, val|ctrlExPDR)

	deadline := time.Now().Add(pdaWaitTimeout)
	for c.regs.ReadReg(RegStatus)&statusPDA == 0 {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(50 * time.Microsecond)
	}

	c.enableAllInterrupts(false)
	c.state = StateStopped
	c.resetRAM(false)
	return nil
}

// PowerUp wakes a powered-down D_CAN controller: message RAM back on, the
// power-down request and init bits cleared, and the acknowledge bit polled
// until it drops.
func (c *Controller) PowerUp() error {
	if c.variant != BoschDCan {
		return ErrWrongVariant
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetRAM(true)

	val := c.regs.ReadReg(RegCtrlEx)
	c.regs.WriteReg(RegCtrlEx, val&^ctrlExPDR)
	val = c.regs.ReadReg(RegCtrl)
	c.regs.WriteReg(RegCtrl, val&^ctrlInit)

	deadline := time.Now().Add(pdaWaitTimeout)
	for c.regs.ReadReg(RegStatus)&statusPDA != 0 {
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(50 * time.Microsecond)
	}
	return nil
}
