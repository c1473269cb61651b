package opentherm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type ByteHalf uint8

const (
	LowByte ByteHalf = iota
	HighByte
)

func (b ByteHalf) String() string {
	if b == HighByte {
		return "hb"
	}
	return "lb"
}

type EncodingKind uint8

const (
	KindFlag8 EncodingKind = iota
	KindUInt8
	KindSInt8
	KindFixed88
	KindUInt16
	KindSInt16
	KindDate
)

// Encoding describes how an entity's value is carried in a 16-bit data value.
// Byte and Bit are only meaningful for the byte scoped kinds.
type Encoding struct {
	Kind EncodingKind
	Byte ByteHalf
	Bit  uint8
	// Text renders a flag as "ON"/"OFF" instead of a boolean.
	Text bool
}

func Flag8(b ByteHalf, bit uint8) Encoding { return Encoding{Kind: KindFlag8, Byte: b, Bit: bit} }
func UInt8(b ByteHalf) Encoding          { return Encoding{Kind: KindUInt8, Byte: b} }
func SInt8(b ByteHalf) Encoding          { return Encoding{Kind: KindSInt8, Byte: b} }
func Fixed88() Encoding                  { return Encoding{Kind: KindFixed88} }
func UInt16() Encoding                   { return Encoding{Kind: KindUInt16} }
func SInt16() Encoding                   { return Encoding{Kind: KindSInt16} }

// ByteScoped reports whether the encoding only owns one byte of the payload.
func (e Encoding) ByteScoped() bool {
	switch e.Kind {
	case KindFlag8, KindUInt8, KindSInt8:
		return true
	}
	return false
}

// Numeric reports whether decoded values can be used as a number.
func (e Encoding) Numeric() bool {
	switch e.Kind {
	case KindUInt8, KindSInt8, KindFixed88, KindUInt16, KindSInt16:
		return true
	}
	return false
}

func (e Encoding) String() string {
	switch e.Kind {
	case KindFlag8:
		s := fmt.Sprintf("flag8_%s_%d", e.Byte, e.Bit)
		if e.Text {
			s += "_str"
		}
		return s
	case KindUInt8:
		return "u8_" + e.Byte.String()
	case KindSInt8:
		return "s8_" + e.Byte.String()
	case KindFixed88:
		return "f88"
	case KindUInt16:
		return "u16"
	case KindSInt16:
		return "s16"
	case KindDate:
		return "str_date"
	}
	return fmt.Sprintf("encoding(%d)", e.Kind)
}

// ParseEncoding parses the message_data grammar:
// flag8_[hb|lb]_[0-7][_str], u8_[hb|lb], s8_[hb|lb], f88, u16, s16, str_date.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "f88":
		return Fixed88(), nil
	case "u16":
		return UInt16(), nil
	case "s16":
		return SInt16(), nil
	case "str_date":
		return Encoding{Kind: KindDate}, nil
	}

	parts := strings.Split(s, "_")
	if len(parts) < 2 {
		return Encoding{}, fmt.Errorf("unknown message_data %q", s)
	}
	half, err := parseByteHalf(parts[1])
	if err != nil {
		return Encoding{}, fmt.Errorf("message_data %q: %w", s, err)
	}

	switch parts[0] {
	case "u8", "s8":
		if len(parts) != 2 {
			return Encoding{}, fmt.Errorf("unknown message_data %q", s)
		}
		if parts[0] == "u8" {
			return UInt8(half), nil
		}
		return SInt8(half), nil
	case "flag8":
		if len(parts) < 3 || len(parts) > 4 {
			return Encoding{}, fmt.Errorf("unknown message_data %q", s)
		}
		bit, err := strconv.Atoi(parts[2])
		if err != nil || bit < 0 || bit > 7 {
			return Encoding{}, fmt.Errorf("message_data %q: bit index must be in [0,7]", s)
		}
		enc := Flag8(half, uint8(bit))
		if len(parts) == 4 {
			if parts[3] != "str" {
				return Encoding{}, fmt.Errorf("unknown message_data %q", s)
			}
			enc.Text = true
		}
		return enc, nil
	}
	return Encoding{}, fmt.Errorf("unknown message_data %q", s)
}

func parseByteHalf(s string) (ByteHalf, error) {
	switch s {
	case "hb":
		return HighByte, nil
	case "lb":
		return LowByte, nil
	}
	return 0, fmt.Errorf("byte selector must be hb or lb, got %q", s)
}

func selectByte(b ByteHalf, payload uint16) uint8 {
	if b == HighByte {
		return uint8(payload >> 8)
	}
	return uint8(payload)
}

func replaceByte(b ByteHalf, payload uint16, v uint8) uint16 {
	if b == HighByte {
		return payload&0x00FF | uint16(v)<<8
	}
	return payload&0xFF00 | uint16(v)
}

// Decode interprets payload according to the encoding. Date fields are
// assembled from several messages elsewhere; here they decode to the raw value.
func Decode(e Encoding, payload uint16) Value {
	switch e.Kind {
	case KindFlag8:
		set := selectByte(e.Byte, payload)&(1<<e.Bit) != 0
		if e.Text {
			return Text(flagText(set))
		}
		return Bool(set)
	case KindUInt8:
		return Integer(int32(selectByte(e.Byte, payload)))
	case KindSInt8:
		return Integer(int32(int8(selectByte(e.Byte, payload))))
	case KindFixed88:
		return Float(float64(int16(payload)) / 256.0)
	case KindUInt16:
		return Integer(int32(payload))
	case KindSInt16:
		return Integer(int32(int16(payload)))
	}
	return Integer(int32(payload))
}

// Encode produces the 16-bit data value carrying v. Byte scoped encodings
// merge into previous, the last known raw payload of the message, and fail
// when it is nil.
func Encode(e Encoding, v Value, previous *uint16) (uint16, error) {
	if e.ByteScoped() && previous == nil {
		return 0, &EncodingError{Encoding: e, Reason: "no previous payload known for byte scoped field"}
	}

	switch e.Kind {
	case KindFlag8:
		set, ok := v.Flag()
		if !ok {
			return 0, &EncodingError{Encoding: e, Reason: fmt.Sprintf("cannot encode %s as a flag", v)}
		}
		cur := selectByte(e.Byte, *previous)
		if set {
			cur |= 1 << e.Bit
		} else {
			cur &^= 1 << e.Bit
		}
		return replaceByte(e.Byte, *previous, cur), nil
	case KindUInt8:
		n, err := integral(e, v, 0, math.MaxUint8)
		if err != nil {
			return 0, err
		}
		return replaceByte(e.Byte, *previous, uint8(n)), nil
	case KindSInt8:
		n, err := integral(e, v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return 0, err
		}
		return replaceByte(e.Byte, *previous, uint8(int8(n))), nil
	case KindFixed88:
		f, ok := v.Number()
		if !ok {
			return 0, &EncodingError{Encoding: e, Reason: fmt.Sprintf("cannot encode %s as a number", v)}
		}
		if err := finite(e, f); err != nil {
			return 0, err
		}
		raw := math.Round(f * 256.0)
		if raw < math.MinInt16 || raw > math.MaxInt16 {
			return 0, &EncodingError{Encoding: e, Reason: fmt.Sprintf("%g out of f8.8 range", f)}
		}
		return uint16(int16(raw)), nil
	case KindUInt16:
		n, err := integral(e, v, 0, math.MaxUint16)
		if err != nil {
			return 0, err
		}
		return uint16(n), nil
	case KindSInt16:
		n, err := integral(e, v, math.MinInt16, math.MaxInt16)
		if err != nil {
			return 0, err
		}
		return uint16(int16(n)), nil
	}
	return 0, &EncodingError{Encoding: e, Reason: "encoding is read only"}
}

func integral(e Encoding, v Value, min, max float64) (int64, error) {
	f, ok := v.Number()
	if !ok {
		return 0, &EncodingError{Encoding: e, Reason: fmt.Sprintf("cannot encode %s as a number", v)}
	}
	if err := finite(e, f); err != nil {
		return 0, err
	}
	r := math.Round(f)
	if r < min || r > max {
		return 0, &EncodingError{Encoding: e, Reason: fmt.Sprintf("%g out of range [%g,%g]", f, min, max)}
	}
	return int64(r), nil
}

func finite(e Encoding, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &EncodingError{Encoding: e, Reason: fmt.Sprintf("%g is not a finite number", f)}
	}
	return nil
}

func flagText(set bool) string {
	if set {
		return "ON"
	}
	return "OFF"
}

type EncodingError struct {
	Encoding Encoding
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode %s: %s", e.Encoding, e.Reason)
}
