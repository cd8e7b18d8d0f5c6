// internal/codec/codec.go
package codec

import (
	"fmt"
	"math"
	"strings"

	"github.com/tamzrod/chargerlink/internal/fault"
)

// Kind is the wire layout of one signal.
type Kind uint8

const (
	KindUint16 Kind = iota
	KindInt16
	KindUint32
	KindInt32
	KindScaledU16
	KindScaledI16
	KindScaledU32
	KindScaledI32
	KindEnum
	KindBool
	KindString
)

// Function codes the codec knows about.
const (
	FCHolding uint8 = 3
	FCInput   uint8 = 4
)

// Signal declares how one named value is laid out in device memory.
// Static configuration: no I/O, no state.
type Signal struct {
	Name    string
	FC      uint8
	Address uint16
	Kind    Kind

	// Scale is the divisor for scaled kinds (1000 for milli-units).
	Scale float64

	// Length is the word count of a KindString signal.
	Length uint16

	// Enum is the closed alphabet of a KindEnum signal.
	Enum map[uint16]string
}

// Words returns how many registers the signal spans.
func (s Signal) Words() uint16 {
	switch s.Kind {
	case KindUint32, KindInt32, KindScaledU32, KindScaledI32:
		return 2
	case KindString:
		if s.Length == 0 {
			return 1
		}
		return s.Length
	default:
		return 1
	}
}

// Addresses returns every register address the signal occupies.
func (s Signal) Addresses() []uint16 {
	n := s.Words()
	out := make([]uint16, n)
	for i := uint16(0); i < n; i++ {
		out[i] = s.Address + i
	}
	return out
}

// RegisterValue is one decoded signal on its way to the state store.
// Valid=false values must never overwrite state.
type RegisterValue struct {
	Name      string
	Value     Value
	Valid     bool
	Addresses []uint16
}

// ---- 32-bit helpers ----

// Combine32 joins a big-endian register pair.
func Combine32(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

// Split32 is the inverse of Combine32.
func Split32(v uint32) (hi, lo uint16) {
	return uint16(v >> 16), uint16(v)
}

// ---- decode ----

// Decode maps raw words to a typed value.
// Unknown enum codes decode to Unknown(code), never to an error.
func Decode(s Signal, words []uint16) (Value, error) {
	if want := s.Words(); len(words) != int(want) {
		return Value{}, fmt.Errorf("codec: %s: want %d words, got %d: %w", s.Name, want, len(words), fault.ErrInvalidValue)
	}

	switch s.Kind {
	case KindUint16:
		return Int(int64(words[0])), nil
	case KindInt16:
		return Int(int64(int16(words[0]))), nil
	case KindUint32:
		return Int(int64(Combine32(words[0], words[1]))), nil
	case KindInt32:
		return Int(int64(int32(Combine32(words[0], words[1])))), nil
	case KindScaledU16:
		return Float(float64(words[0]) / scale(s)), nil
	case KindScaledI16:
		return Float(float64(int16(words[0])) / scale(s)), nil
	case KindScaledU32:
		return Float(float64(Combine32(words[0], words[1])) / scale(s)), nil
	case KindScaledI32:
		return Float(float64(int32(Combine32(words[0], words[1]))) / scale(s)), nil
	case KindEnum:
		if name, ok := s.Enum[words[0]]; ok {
			return Enum(words[0], name), nil
		}
		return Unknown(words[0]), nil
	case KindBool:
		return Bool(words[0] != 0), nil
	case KindString:
		return String(decodeASCII(words)), nil
	default:
		return Value{}, fmt.Errorf("codec: %s: unsupported kind %d", s.Name, s.Kind)
	}
}

// ---- encode ----

// Encode maps a typed value back to raw words for a write.
func Encode(s Signal, v Value) ([]uint16, error) {
	if s.Kind == KindString {
		if v.Type != TypeString {
			return nil, fmt.Errorf("codec: %s: want string, got %s: %w", s.Name, v.Type, fault.ErrInvalidValue)
		}
		return encodeASCII(v.Str, s.Words()), nil
	}

	if s.Kind == KindEnum {
		code, err := enumCode(s, v)
		if err != nil {
			return nil, err
		}
		return []uint16{code}, nil
	}

	n, ok := v.Number()
	if !ok {
		return nil, fmt.Errorf("codec: %s: %s is not numeric: %w", s.Name, v.Type, fault.ErrInvalidValue)
	}

	switch s.Kind {
	case KindScaledU16, KindScaledI16, KindScaledU32, KindScaledI32:
		n = math.Round(n * scale(s))
	}

	switch s.Kind {
	case KindUint16, KindScaledU16, KindBool:
		if n < 0 || n > math.MaxUint16 {
			return nil, outOfRange(s, n)
		}
		return []uint16{uint16(n)}, nil
	case KindInt16, KindScaledI16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, outOfRange(s, n)
		}
		return []uint16{uint16(int16(n))}, nil
	case KindUint32, KindScaledU32:
		if n < 0 || n > math.MaxUint32 {
			return nil, outOfRange(s, n)
		}
		hi, lo := Split32(uint32(n))
		return []uint16{hi, lo}, nil
	case KindInt32, KindScaledI32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, outOfRange(s, n)
		}
		hi, lo := Split32(uint32(int32(n)))
		return []uint16{hi, lo}, nil
	default:
		return nil, fmt.Errorf("codec: %s: unsupported kind %d", s.Name, s.Kind)
	}
}

func enumCode(s Signal, v Value) (uint16, error) {
	switch v.Type {
	case TypeEnum, TypeInt:
		if v.Int < 0 || v.Int > math.MaxUint16 {
			return 0, outOfRange(s, float64(v.Int))
		}
		return uint16(v.Int), nil
	case TypeString:
		for code, name := range s.Enum {
			if name == v.Str {
				return code, nil
			}
		}
		return 0, fmt.Errorf("codec: %s: %q not in alphabet: %w", s.Name, v.Str, fault.ErrUnknownCode)
	default:
		return 0, fmt.Errorf("codec: %s: cannot encode %s as enum: %w", s.Name, v.Type, fault.ErrInvalidValue)
	}
}

func outOfRange(s Signal, n float64) error {
	return fmt.Errorf("codec: %s: %v out of range: %w", s.Name, n, fault.ErrInvalidValue)
}

func scale(s Signal) float64 {
	if s.Scale <= 0 {
		return 1
	}
	return s.Scale
}

// ---- ASCII packing ----

// decodeASCII unpacks two big-endian ASCII bytes per register.
func decodeASCII(words []uint16) string {
	b := make([]byte, 0, len(words)*2)
	for _, w := range words {
		b = append(b, byte(w>>8), byte(w))
	}
	return strings.TrimRight(string(b), "\x00 ")
}

// encodeASCII packs s into n registers, zero padded and truncated.
func encodeASCII(s string, n uint16) []uint16 {
	out := make([]uint16, n)
	b := []byte(s)
	if len(b) > int(n)*2 {
		b = b[:int(n)*2]
	}
	for i := 0; i < len(b); i += 2 {
		hi := uint16(b[i])
		var lo uint16
		if i+1 < len(b) {
			lo = uint16(b[i+1])
		}
		out[i/2] = hi<<8 | lo
	}
	return out
}
