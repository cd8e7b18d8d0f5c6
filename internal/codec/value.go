// internal/codec/value.go
package codec

import (
	"fmt"
	"strconv"
)

// Type is the dynamic type of a decoded Value.
type Type uint8

const (
	TypeNone Type = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeEnum
	TypeString
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeEnum:
		return "enum"
	case TypeString:
		return "string"
	default:
		return "none"
	}
}

// Value is one typed signal value.
// Values are comparable with ==.
type Value struct {
	Type  Type
	Int   int64
	Float float64
	Bool  bool
	Str   string

	// Known is false for an enum code outside the declared alphabet.
	Known bool
}

func Int(v int64) Value     { return Value{Type: TypeInt, Int: v} }
func Float(v float64) Value { return Value{Type: TypeFloat, Float: v} }
func Bool(v bool) Value     { return Value{Type: TypeBool, Bool: v} }
func String(v string) Value { return Value{Type: TypeString, Str: v} }

// Enum is a known alphabet member.
func Enum(code uint16, name string) Value {
	return Value{Type: TypeEnum, Int: int64(code), Str: name, Known: true}
}

// Unknown is an enum code the alphabet does not define.
func Unknown(code uint16) Value {
	return Value{Type: TypeEnum, Int: int64(code)}
}

// noCode is outside every 16-bit register alphabet.
const noCode = -1

// NoReading is the enum held while the device is not answering. It has
// no code and never equals a decoded value, Unknown(0) included.
func NoReading() Value {
	return Value{Type: TypeEnum, Int: noCode}
}

// IsNoReading reports whether v is the NoReading sentinel.
func (v Value) IsNoReading() bool { return v.Type == TypeEnum && v.Int == noCode }

// IsSet reports whether v carries a value at all.
func (v Value) IsSet() bool { return v.Type != TypeNone }

// Number returns a numeric view of v.
// Enums yield their raw code, bools 0 or 1.
func (v Value) Number() (float64, bool) {
	if v.IsNoReading() {
		return 0, false
	}
	switch v.Type {
	case TypeInt, TypeEnum:
		return float64(v.Int), true
	case TypeFloat:
		return v.Float, true
	case TypeBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Code returns the raw code of an enum value.
func (v Value) Code() (uint16, bool) {
	if v.Type != TypeEnum || v.IsNoReading() {
		return 0, false
	}
	return uint16(v.Int), true
}

// Zero returns the zero-equivalent of v's type.
func (v Value) Zero() Value {
	switch v.Type {
	case TypeInt:
		return Int(0)
	case TypeFloat:
		return Float(0)
	case TypeBool:
		return Bool(false)
	case TypeString:
		return String("")
	case TypeEnum:
		return NoReading()
	default:
		return Value{}
	}
}

// Interface returns v as a plain Go value for serialization.
func (v Value) Interface() any {
	switch v.Type {
	case TypeInt:
		return v.Int
	case TypeFloat:
		return v.Float
	case TypeBool:
		return v.Bool
	case TypeString:
		return v.Str
	case TypeEnum:
		if v.Known {
			return v.Str
		}
		if v.IsNoReading() {
			return "unknown"
		}
		return fmt.Sprintf("unknown(%d)", v.Int)
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeString:
		return v.Str
	case TypeEnum:
		if v.Known {
			return fmt.Sprintf("%s(%d)", v.Str, v.Int)
		}
		if v.IsNoReading() {
			return "unknown"
		}
		return fmt.Sprintf("unknown(%d)", v.Int)
	default:
		return "<none>"
	}
}
