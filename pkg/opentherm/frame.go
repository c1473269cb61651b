package opentherm

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	ErrBusTimeout = errors.New("opentherm: bus timeout")
	ErrBusParity  = errors.New("opentherm: bus parity error")
)

// MessageType is the 3-bit message type field of an OpenTherm frame.
type MessageType uint8

const (
	ReadData      MessageType = 0
	WriteData     MessageType = 1
	InvalidData   MessageType = 2
	Reserved      MessageType = 3
	ReadAck       MessageType = 4
	WriteAck      MessageType = 5
	DataInvalid   MessageType = 6
	UnknownDataId MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case ReadData:
		return "READ_DATA"
	case WriteData:
		return "WRITE_DATA"
	case InvalidData:
		return "INVALID_DATA"
	case Reserved:
		return "RESERVED"
	case ReadAck:
		return "READ_ACK"
	case WriteAck:
		return "WRITE_ACK"
	case DataInvalid:
		return "DATA_INVALID"
	case UnknownDataId:
		return "UNKNOWN_DATA_ID"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

// IsRequest reports whether the type is sent master to slave.
func (t MessageType) IsRequest() bool {
	return t <= Reserved
}

// IsAck reports whether the type is a positive slave response.
func (t MessageType) IsAck() bool {
	return t == ReadAck || t == WriteAck
}

// Frame is one 32-bit OpenTherm message:
// parity(1) | type(3) | spare(4) | data id(8) | data value(16).
type Frame struct {
	DataID  DataID
	Type    MessageType
	Payload uint16
}

func NewRequest(id DataID, t MessageType, payload uint16) Frame {
	return Frame{DataID: id, Type: t, Payload: payload}
}

// Pack encodes the frame, setting the parity bit so that the total number
// of ones is even.
func (f Frame) Pack() uint32 {
	v := uint32(f.Type&0x07)<<28 | uint32(f.DataID)<<16 | uint32(f.Payload)
	if bits.OnesCount32(v)%2 != 0 {
		v |= 1 << 31
	}
	return v
}

func (f Frame) HighByte() uint8 {
	return uint8(f.Payload >> 8)
}

func (f Frame) LowByte() uint8 {
	return uint8(f.Payload)
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %s(%d) 0x%04X", f.Type, f.DataID, uint8(f.DataID), f.Payload)
}

// ParseFrame decodes a raw 32-bit frame. Frames with odd parity are
// rejected with ErrBusParity.
func ParseFrame(raw uint32) (Frame, error) {
	if bits.OnesCount32(raw)%2 != 0 {
		return Frame{}, fmt.Errorf("frame %08X: %w", raw, ErrBusParity)
	}
	return Frame{
		Type:    MessageType((raw >> 28) & 0x07),
		DataID:  DataID((raw >> 16) & 0xFF),
		Payload: uint16(raw),
	}, nil
}
