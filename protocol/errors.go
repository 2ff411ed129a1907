package protocol

import "errors"

var (
	ErrShortFrame       = errors.New("frame too short")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrInvalidAnchor    = errors.New("anchor id out of range")
	ErrIncompleteSample = errors.New("incomplete timestamp set")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrTxLate           = errors.New("delayed transmit time already passed")
	ErrTimeout          = errors.New("operation timed out")
	ErrInvalidChannel   = errors.New("invalid channel (valid: 1-5, 7)")
)
