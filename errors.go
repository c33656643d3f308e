package ccan

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrTimeout         = errors.New("function timeout")
	ErrIllegalTiming   = errors.New("bit-timing parameters out of range")
	ErrRxOverflow      = errors.New("receive message object overwritten before read")
	ErrTxAbandoned     = errors.New("transmit admission abandoned, controller stopped or bus off")
	ErrInvalidState    = errors.New("driver not ready")
	ErrNotSupported    = errors.New("requested mode not supported")
	ErrNotOperating    = errors.New("controller is not operating")
	ErrWrongVariant    = errors.New("operation requires the D_CAN variant")
)
