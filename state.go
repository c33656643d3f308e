package ccan

import (
	"github.com/brutella/can"
	log "github.com/sirupsen/logrus"
)

// Bus error conditions handled by the state machine. Bus off, error warning
// and error passive are supported.
type busErrorType int

const (
	busErrorNone busErrorType = iota
	busErrorBusOff
	busErrorWarning
	busErrorPassive
)

// Last-error-code field values of the status register.
const (
	lecNoError = iota
	lecStuffError
	lecFormError
	lecAckError
	lecBit1Error
	lecBit0Error
	lecCRCError
	lecUnused
)

// handleStateChange moves the controller into the given error state and
// synthesizes the matching controller-error event, carrying the transmit
// and receive error counters. Entering bus off additionally disables all
// interrupt sources and abandons every transmit admission waiter.
func (c *Controller) handleStateChange(errType busErrorType) {
	errCnt := c.regs.ReadReg(RegErrCnt)
	rxErr := uint8((errCnt & errCntRECMask) >> errCntRECShift)
	txErr := uint8(errCnt & errCntTECMask)
	rxErrPassive := errCnt&errCntRPMask != 0

	var frame can.Frame
	frame.Length = CAN_ERR_DLC

	switch errType {
	case busErrorWarning:
		c.state = StateErrorWarning
		frame.ID = CAN_ERR_FLAG | CAN_ERR_CRTL
		if txErr > rxErr {
			frame.Data[1] = CAN_ERR_CRTL_TX_WARNING
		} else {
			frame.Data[1] = CAN_ERR_CRTL_RX_WARNING
		}
		frame.Data[6] = txErr
		frame.Data[7] = rxErr

	case busErrorPassive:
		c.state = StateErrorPassive
		frame.ID = CAN_ERR_FLAG | CAN_ERR_CRTL
		if rxErrPassive {
			frame.Data[1] |= CAN_ERR_CRTL_RX_PASSIVE
		}
		if txErr > 127 {
			frame.Data[1] |= CAN_ERR_CRTL_TX_PASSIVE
		}
		frame.Data[6] = txErr
		frame.Data[7] = rxErr

	case busErrorBusOff:
		c.state = StateBusOff
		frame.ID = CAN_ERR_FLAG | CAN_ERR_BUSOFF
		// disable all interrupts in bus-off mode to ensure that the
		// CPU is not hogged down
		c.enableAllInterrupts(false)
		// wake up waiting senders
		if c.txSem != nil {
			c.txSem.Destroy()
		}

	default:
		return
	}

	c.rcv(frame)
}

// handleBusErr decodes the last-error-code field into a protocol error
// event. Writing the unused sentinel back afterwards lets the next pass
// tell a fresh error from a stale one.
func (c *Controller) handleBusErr(lecType uint16) bool {
	// no lec update means no CAN bus event has been detected since the
	// sentinel was last written
	if lecType == lecUnused || lecType == lecNoError {
		return false
	}

	var frame can.Frame
	frame.Length = CAN_ERR_DLC

	// common for all types of bus errors
	frame.ID = CAN_ERR_FLAG | CAN_ERR_PROT | CAN_ERR_BUSERROR
	frame.Data[2] |= CAN_ERR_PROT_UNSPEC

	switch lecType {
	case lecStuffError:
		log.Debugf("[CCAN] stuff error")
		frame.Data[2] |= CAN_ERR_PROT_STUFF
	case lecFormError:
		log.Debugf("[CCAN] form error")
		frame.Data[2] |= CAN_ERR_PROT_FORM
	case lecAckError:
		log.Debugf("[CCAN] ack error")
		frame.Data[3] |= CAN_ERR_PROT_LOC_ACK | CAN_ERR_PROT_LOC_ACK_DEL
	case lecBit1Error:
		log.Debugf("[CCAN] bit1 error")
		frame.Data[2] |= CAN_ERR_PROT_BIT1
	case lecBit0Error:
		log.Debugf("[CCAN] bit0 error")
		frame.Data[2] |= CAN_ERR_PROT_BIT0
	case lecCRCError:
		log.Debugf("[CCAN] CRC error")
		frame.Data[3] |= CAN_ERR_PROT_LOC_CRC_SEQ | CAN_ERR_PROT_LOC_CRC_DEL
	}

	// rewrite the sentinel so staleness can be detected next pass
	c.regs.WriteReg(RegStatus, lecUnused)

	c.rcv(frame)
	return true
}
