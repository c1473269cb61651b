package opentherm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v uint16) *uint16 {
	return &v
}

func TestParseEncoding(t *testing.T) {

	assert := assert.New(t)

	cases := map[string]Encoding{
		"flag8_hb_0":     Flag8(HighByte, 0),
		"flag8_lb_6":     Flag8(LowByte, 6),
		"flag8_hb_3_str": {Kind: KindFlag8, Byte: HighByte, Bit: 3, Text: true},
		"u8_lb":          UInt8(LowByte),
		"s8_hb":          SInt8(HighByte),
		"f88":            Fixed88(),
		"u16":            UInt16(),
		"s16":            SInt16(),
		"str_date":       {Kind: KindDate},
	}
	for in, expected := range cases {
		enc, err := ParseEncoding(in)
		if assert.NoError(err, in) {
			assert.Equal(expected, enc, in)
			assert.Equal(in, enc.String(), "round trip")
		}
	}

	for _, bad := range []string{"flag8_hb_8", "flag8_mb_1", "u8", "u32", "flag8_lb_1_txt", "s8_lb_2", ""} {
		_, err := ParseEncoding(bad)
		assert.Error(err, bad)
	}
}

func TestDecode(t *testing.T) {

	assert := assert.New(t)

	assert.Equal(Bool(true), Decode(Flag8(LowByte, 3), 0x0108))
	assert.Equal(Bool(false), Decode(Flag8(LowByte, 3), 0x0100))
	assert.Equal(Bool(true), Decode(Flag8(HighByte, 0), 0x0100))
	assert.Equal(Text("ON"), Decode(Encoding{Kind: KindFlag8, Byte: HighByte, Bit: 2, Text: true}, 0x0400))
	assert.Equal(Text("OFF"), Decode(Encoding{Kind: KindFlag8, Byte: HighByte, Bit: 2, Text: true}, 0x0004))

	assert.Equal(Integer(256), Decode(UInt16(), 0x0100))
	assert.Equal(Integer(-1), Decode(SInt16(), 0xFFFF))
	assert.Equal(Integer(0xAB), Decode(UInt8(HighByte), 0xAB12))
	assert.Equal(Integer(0x12), Decode(UInt8(LowByte), 0xAB12))
	assert.Equal(Integer(-2), Decode(SInt8(LowByte), 0x00FE))
	assert.Equal(Integer(127), Decode(SInt8(HighByte), 0x7F00))

	assert.Equal(Float(25.0), Decode(Fixed88(), 0x1900))
	assert.Equal(Float(-1.0), Decode(Fixed88(), 0xFF00))
	assert.Equal(Float(21.5), Decode(Fixed88(), 0x1580))
}

func TestFixed88RoundTrip(t *testing.T) {

	require := require.New(t)

	// every representable value with |v| < 128
	for raw := -32767; raw <= 32767; raw++ {
		v := float64(raw) / 256.0
		encoded, err := Encode(Fixed88(), Float(v), nil)
		require.NoError(err)
		require.Equal(uint16(int16(raw)), encoded)
		require.Equal(Float(v), Decode(Fixed88(), encoded))
	}
}

func TestFixed88Rounding(t *testing.T) {

	assert := assert.New(t)

	encoded, err := Encode(Fixed88(), Float(20.001), nil)
	assert.NoError(err)
	assert.Equal(uint16(0x1400), encoded, "rounds to nearest 1/256")

	encoded, err = Encode(Fixed88(), Integer(60), nil)
	assert.NoError(err)
	assert.Equal(uint16(0x3C00), encoded)

	_, err = Encode(Fixed88(), Float(128.5), nil)
	var encErr *EncodingError
	assert.True(errors.As(err, &encErr), "out of range")
}

func TestFlag8EncodePreservesOtherBits(t *testing.T) {

	assert := assert.New(t)

	previous := []uint16{0x0000, 0xFFFF, 0xA55A, 0x0108, 0x7E81}
	for _, prev := range previous {
		for bit := uint8(0); bit < 8; bit++ {
			for _, half := range []ByteHalf{LowByte, HighByte} {
				enc := Flag8(half, bit)
				mask := uint16(1) << bit
				if half == HighByte {
					mask <<= 8
				}

				set, err := Encode(enc, Bool(true), ptr(prev))
				assert.NoError(err)
				assert.Equal(prev|mask, set)

				cleared, err := Encode(enc, Bool(false), ptr(prev))
				assert.NoError(err)
				assert.Equal(prev&^mask, cleared)
			}
		}
	}
}

func TestByteEncodePreservesOtherByte(t *testing.T) {

	assert := assert.New(t)

	encoded, err := Encode(UInt8(HighByte), Integer(0x3C), ptr(0x1234))
	assert.NoError(err)
	assert.Equal(uint16(0x3C34), encoded)

	encoded, err = Encode(SInt8(LowByte), Integer(-2), ptr(0x1234))
	assert.NoError(err)
	assert.Equal(uint16(0x12FE), encoded)

	_, err = Encode(UInt8(LowByte), Integer(256), ptr(0))
	assert.Error(err)

	_, err = Encode(SInt8(LowByte), Integer(-129), ptr(0))
	assert.Error(err)
}

func TestByteScopedEncodeRequiresPrevious(t *testing.T) {

	assert := assert.New(t)

	for _, enc := range []Encoding{Flag8(LowByte, 1), UInt8(HighByte), SInt8(LowByte)} {
		_, err := Encode(enc, Integer(1), nil)
		var encErr *EncodingError
		assert.True(errors.As(err, &encErr), enc.String())
	}

	_, err := Encode(UInt16(), Integer(1), nil)
	assert.NoError(err, "full payload encodings need no previous value")
}

func TestWordEncode(t *testing.T) {

	assert := assert.New(t)

	encoded, err := Encode(SInt16(), Integer(-1), nil)
	assert.NoError(err)
	assert.Equal(uint16(0xFFFF), encoded)

	encoded, err = Encode(UInt16(), Integer(256), nil)
	assert.NoError(err)
	assert.Equal(uint16(0x0100), encoded)

	_, err = Encode(UInt16(), Integer(-1), nil)
	assert.Error(err)

	_, err = Encode(Encoding{Kind: KindDate}, Text("12:00"), nil)
	assert.Error(err, "date is read only")

	_, err = Encode(UInt16(), Text("abc"), nil)
	assert.Error(err)
}

func TestValueConversions(t *testing.T) {

	assert := assert.New(t)

	b, ok := Text("ON").Flag()
	assert.True(ok)
	assert.True(b)

	_, ok = Text("maybe").Flag()
	assert.False(ok)

	n, ok := Bool(true).Number()
	assert.True(ok)
	assert.Equal(1.0, n)

	assert.Equal("21.50", Float(21.5).Format(2))
	assert.Equal("12", Integer(12).Format(2))

	out, err := Float(1.5).MarshalJSON()
	assert.NoError(err)
	assert.Equal("1.5", string(out))
}

func TestEncodeRejectsNonFinite(t *testing.T) {

	assert := assert.New(t)

	for _, enc := range []Encoding{Fixed88(), UInt16(), SInt16(), UInt8(HighByte), SInt8(LowByte)} {
		for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			_, err := Encode(enc, Float(f), ptr(0x1234))
			var eerr *EncodingError
			assert.True(errors.As(err, &eerr), "%s %g", enc, f)
		}
	}
}
