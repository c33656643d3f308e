package ccan

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// Interface port selectors. Two duplicate shadow register groups exist so
// transactions from different subsystems can be interleaved.
const (
	ifacePort1 = 0
	ifacePort2 = 1
)

// retry budget for the command-request busy bit, 1us apart
const busyRetryBudget = 6

// ifaceReg addresses a register of the selected interface port group.
func ifaceReg(base Reg, iface int) Reg {
	return base + Reg(iface)*ifaceRegStride
}

// waitBusy polls the port's busy bit for at most the retry budget. Returns
// false if the bit never cleared.
func (c *Controller) waitBusy(iface int) bool {
	count := busyRetryBudget
	for count > 0 && c.regs.ReadReg(ifaceReg(RegIF1ComReq, iface))&ifComReqBusy != 0 {
		count--
		time.Sleep(time.Microsecond)
	}
	return count > 0
}

// objectGet triggers the block transfer of a message object from the
// message RAM into the port's shadow registers. After writing the object
// number to the command request register the transfer must complete within
// 6 CAN clock periods; a transfer still busy after the retry budget is a
// soft failure, logged and never escalated.
func (c *Controller) objectGet(iface int, objno int, mask uint16) {
	c.regs.WriteReg(ifaceReg(RegIF1ComMask, iface), mask)
	c.regs.WriteReg(ifaceReg(RegIF1ComReq, iface), uint16(objno))

	if !c.waitBusy(iface) {
		log.Errorf("[CCAN] timed out in object get, obj %v", objno)
	}
}

// objectPut is the write-direction counterpart of objectGet: shadow
// registers to message RAM.
func (c *Controller) objectPut(iface int, objno int, mask uint16) {
	c.regs.WriteReg(ifaceReg(RegIF1ComMask, iface), ifCommWR|mask)
	c.regs.WriteReg(ifaceReg(RegIF1ComReq, iface), uint16(objno))

	if !c.waitBusy(iface) {
		log.Errorf("[CCAN] timed out in object put, obj %v", objno)
	}
}
