package opentherm

import (
	"encoding/json"
	"strconv"
)

type ValueKind uint8

const (
	BoolValue ValueKind = iota
	IntegerValue
	FloatValue
	TextValue
)

// Value is a decoded data value.
type Value struct {
	kind ValueKind
	b    bool
	i    int32
	f    float64
	s    string
}

func Bool(b bool) Value     { return Value{kind: BoolValue, b: b} }
func Integer(i int32) Value { return Value{kind: IntegerValue, i: i} }
func Float(f float64) Value { return Value{kind: FloatValue, f: f} }
func Text(s string) Value   { return Value{kind: TextValue, s: s} }

func (v Value) Kind() ValueKind {
	return v.kind
}

// Number returns the value as float64. Booleans map to 0/1, text is not a number.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case IntegerValue:
		return float64(v.i), true
	case FloatValue:
		return v.f, true
	case BoolValue:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Flag returns the value as a boolean. Numbers are true when non zero and
// text is true for "ON".
func (v Value) Flag() (bool, bool) {
	switch v.kind {
	case BoolValue:
		return v.b, true
	case IntegerValue:
		return v.i != 0, true
	case FloatValue:
		return v.f != 0, true
	case TextValue:
		switch v.s {
		case "ON", "on":
			return true, true
		case "OFF", "off":
			return false, true
		}
	}
	return false, false
}

func (v Value) String() string {
	switch v.kind {
	case BoolValue:
		return strconv.FormatBool(v.b)
	case IntegerValue:
		return strconv.FormatInt(int64(v.i), 10)
	case FloatValue:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	}
	return v.s
}

// Format renders numbers with a fixed number of decimals.
func (v Value) Format(decimals int) string {
	if v.kind == FloatValue {
		return strconv.FormatFloat(v.f, 'f', decimals, 64)
	}
	return v.String()
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case BoolValue:
		return json.Marshal(v.b)
	case IntegerValue:
		return json.Marshal(v.i)
	case FloatValue:
		return json.Marshal(v.f)
	}
	return json.Marshal(v.s)
}
