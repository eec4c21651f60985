package protocol

import (
	"encoding/binary"
	"fmt"
)

// TransactionLabel tags one in-flight transaction. The wire field is four
// bits wide, so valid labels are 0..15.
type TransactionLabel uint8

const (
	// MaxTransactionLabel is the highest label the wire format can carry.
	MaxTransactionLabel TransactionLabel = 0x0F
	// LabelSpaceSize is the number of distinct transaction labels.
	LabelSpaceSize = int(MaxTransactionLabel) + 1
)

// MessageType distinguishes commands from responses.
type MessageType uint8

const (
	MessageTypeCommand  MessageType = 0x00
	MessageTypeResponse MessageType = 0x01
)

func (m MessageType) String() string {
	switch m {
	case MessageTypeCommand:
		return "command"
	case MessageTypeResponse:
		return "response"
	default:
		return fmt.Sprintf("message_type(%d)", uint8(m))
	}
}

// PacketType marks fragmentation role. The engine passes it through
// untouched; reassembly is the caller's concern.
type PacketType uint8

const (
	PacketTypeSingle   PacketType = 0x00
	PacketTypeStart    PacketType = 0x01
	PacketTypeContinue PacketType = 0x02
	PacketTypeEnd      PacketType = 0x03
)

func (p PacketType) String() string {
	switch p {
	case PacketTypeSingle:
		return "single"
	case PacketTypeStart:
		return "start"
	case PacketTypeContinue:
		return "continue"
	case PacketTypeEnd:
		return "end"
	default:
		return fmt.Sprintf("packet_type(%d)", uint8(p))
	}
}

// ProfileID identifies the protocol family a packet belongs to.
type ProfileID uint16

func (p ProfileID) String() string {
	return fmt.Sprintf("0x%04x", uint16(p))
}

// Header is the fixed wire header preceding every message body.
//
// Wire layout, big endian:
//
//	octet 0: | label(4) | packet type(2) | message type(1) | invalid-profile(1) |
//	octet 1: fragment count            (start packets only)
//	next 2:  profile id                (single and start packets only)
//
// Continue and end packets carry octet 0 alone; the profile id travels with
// the single/start packet that opened the transaction.
type Header struct {
	Label            TransactionLabel
	PacketType       PacketType
	MessageType      MessageType
	InvalidProfileID bool
	FragmentCount    uint8
	ProfileID        ProfileID
}

const (
	headerLenSingle       = 3
	headerLenStart        = 4
	headerLenContinuation = 1
)

// EncodedLen reports the header's on-wire length for its packet type.
func (h Header) EncodedLen() int {
	switch h.PacketType {
	case PacketTypeStart:
		return headerLenStart
	case PacketTypeContinue, PacketTypeEnd:
		return headerLenContinuation
	default:
		return headerLenSingle
	}
}

// Validate checks field ranges before encode.
func (h Header) Validate() error {
	if h.Label > MaxTransactionLabel {
		return fmt.Errorf("%w: %d", ErrInvalidLabel, h.Label)
	}
	if h.PacketType > PacketTypeEnd {
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, h.PacketType)
	}
	if h.MessageType > MessageTypeResponse {
		return fmt.Errorf("%w: %d", ErrInvalidMessage, h.MessageType)
	}
	return nil
}

// Encode writes the header into dst, which must hold EncodedLen bytes.
func (h Header) Encode(dst []byte) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if len(dst) < h.EncodedLen() {
		return ErrShortBuffer
	}

	b0 := byte(h.Label)<<4 | byte(h.PacketType)<<2 | byte(h.MessageType)<<1
	if h.InvalidProfileID {
		b0 |= 0x01
	}
	dst[0] = b0

	switch h.PacketType {
	case PacketTypeSingle:
		binary.BigEndian.PutUint16(dst[1:3], uint16(h.ProfileID))
	case PacketTypeStart:
		dst[1] = h.FragmentCount
		binary.BigEndian.PutUint16(dst[2:4], uint16(h.ProfileID))
	}
	return nil
}

// DecodeHeader parses one header from the front of b. It returns
// ErrHeaderTooShort when b cannot hold a complete header for the packet
// type announced in octet 0.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLenContinuation {
		return Header{}, ErrHeaderTooShort
	}

	h := Header{
		Label:            TransactionLabel(b[0] >> 4),
		PacketType:       PacketType(b[0] >> 2 & 0x03),
		MessageType:      MessageType(b[0] >> 1 & 0x01),
		InvalidProfileID: b[0]&0x01 != 0,
	}

	switch h.PacketType {
	case PacketTypeSingle:
		if len(b) < headerLenSingle {
			return Header{}, ErrHeaderTooShort
		}
		h.ProfileID = ProfileID(binary.BigEndian.Uint16(b[1:3]))
	case PacketTypeStart:
		if len(b) < headerLenStart {
			return Header{}, ErrHeaderTooShort
		}
		h.FragmentCount = b[1]
		h.ProfileID = ProfileID(binary.BigEndian.Uint16(b[2:4]))
	}
	return h, nil
}

// CreateResponse returns the reply header for h: same label, packet type,
// and profile id, with the message type flipped to response.
func (h Header) CreateResponse() Header {
	out := h
	out.MessageType = MessageTypeResponse
	out.InvalidProfileID = false
	return out
}

// CreateInvalidProfileIDResponse returns the general-reject reply for h:
// same label and profile id, response message type, invalid-profile flag
// set. The rejected profile id is echoed back so the remote can tell which
// family was refused.
func (h Header) CreateInvalidProfileIDResponse() Header {
	out := h.CreateResponse()
	out.InvalidProfileID = true
	return out
}

// IsInvalidProfileID reports whether h carries the general-reject flag.
func (h Header) IsInvalidProfileID() bool {
	return h.InvalidProfileID
}
