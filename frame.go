package ccan

import (
	"github.com/brutella/can"
)

// Identifier flag bits carried in can.Frame.ID, socketcan conventions.
const CAN_EFF_FLAG uint32 = 0x80000000
const CAN_RTR_FLAG uint32 = 0x40000000
const CAN_ERR_FLAG uint32 = 0x20000000
const CAN_SFF_MASK uint32 = 0x000007FF
const CAN_EFF_MASK uint32 = 0x1FFFFFFF

// Error frame class bits, also carried in can.Frame.ID.
const (
	CAN_ERR_CRTL     uint32 = 0x00000004
	CAN_ERR_PROT     uint32 = 0x00000008
	CAN_ERR_BUSOFF   uint32 = 0x00000040
	CAN_ERR_BUSERROR uint32 = 0x00000080
)

// Controller error details, data[1] of a CAN_ERR_CRTL frame.
const (
	CAN_ERR_CRTL_RX_OVERFLOW = 0x01
	CAN_ERR_CRTL_RX_WARNING  = 0x04
	CAN_ERR_CRTL_TX_WARNING  = 0x08
	CAN_ERR_CRTL_RX_PASSIVE  = 0x10
	CAN_ERR_CRTL_TX_PASSIVE  = 0x20
)

// Protocol violation type, data[2] of a CAN_ERR_PROT frame.
const (
	CAN_ERR_PROT_UNSPEC = 0x00
	CAN_ERR_PROT_BIT    = 0x01
	CAN_ERR_PROT_FORM   = 0x02
	CAN_ERR_PROT_STUFF  = 0x04
	CAN_ERR_PROT_BIT0   = 0x08
	CAN_ERR_PROT_BIT1   = 0x10
)

// Protocol violation location, data[3] of a CAN_ERR_PROT frame.
const (
	CAN_ERR_PROT_LOC_CRC_SEQ = 0x08
	CAN_ERR_PROT_LOC_CRC_DEL = 0x18
	CAN_ERR_PROT_LOC_ACK     = 0x19
	CAN_ERR_PROT_LOC_ACK_DEL = 0x1B
)

// Error frames always carry the full 8 data bytes.
const CAN_ERR_DLC = 8

const maxDLC = 8

// shift of an 11-bit identifier within the 29-bit arbitration field
const sffIDShift = 18

func dlc(n uint8) uint8 {
	if n > maxDLC {
		return maxDLC
	}
	return n
}

// encodeFrame converts a CAN frame into the message object register images:
// the 32-bit arbitration word, the message control word and the four data
// words. The message-valid bit is always set; the transmit-request and
// transmit-interrupt bits are set here as the encoded object is only ever
// put into a transmit slot.
func encodeFrame(frame can.Frame) (arb uint32, mctrl uint16, data [4]uint16) {
	var flags uint32

	if frame.ID&CAN_RTR_FLAG == 0 {
		flags |= ifArbTransmit << 16
	}

	var id uint32
	if frame.ID&CAN_EFF_FLAG != 0 {
		id = frame.ID & CAN_EFF_MASK
		flags |= ifArbMsgXtd << 16
	} else {
		id = (frame.ID & CAN_SFF_MASK) << sffIDShift
	}
	flags |= ifArbMsgVal << 16

	arb = id | flags

	length := dlc(frame.Length)
	for i := uint8(0); i < length; i += 2 {
		word := uint16(frame.Data[i])
		if i+1 < length {
			word |= uint16(frame.Data[i+1]) << 8
		}
		data[i/2] = word
	}

	mctrl = ifMContTxIE | ifMContTxRqst | ifMContEOB | uint16(length)
	return arb, mctrl, data
}

// decodeFrame is the exact inverse of encodeFrame: it rebuilds a CAN frame
// from the arbitration word, message control word and data words of a
// message object. Remote frames carry no payload regardless of the data
// register contents.
func decodeFrame(arb uint32, mctrl uint16, data [4]uint16) can.Frame {
	var frame can.Frame

	frame.Length = dlc(uint8(mctrl & ifMContDLCMsk))

	if arb&(ifArbMsgXtd<<16) != 0 {
		frame.ID = (arb & CAN_EFF_MASK) | CAN_EFF_FLAG
	} else {
		frame.ID = (arb >> sffIDShift) & CAN_SFF_MASK
	}

	// the direction bit is the inverse of the remote-request property
	if arb&(ifArbTransmit<<16) == 0 {
		frame.ID |= CAN_RTR_FLAG
	} else {
		for i := uint8(0); i < frame.Length; i += 2 {
			word := data[i/2]
			frame.Data[i] = byte(word)
			if i+1 < maxDLC {
				frame.Data[i+1] = byte(word >> 8)
			}
		}
	}
	return frame
}
