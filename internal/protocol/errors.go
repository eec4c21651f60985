package protocol

import "errors"

var (
	ErrHeaderTooShort    = errors.New("protocol: header too short")
	ErrShortBuffer       = errors.New("protocol: destination buffer too small")
	ErrInvalidLabel      = errors.New("protocol: transaction label out of range")
	ErrInvalidPacketType = errors.New("protocol: invalid packet type")
	ErrInvalidMessage    = errors.New("protocol: invalid message type")
)
