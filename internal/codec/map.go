// internal/codec/map.go
package codec

import (
	"fmt"

	"github.com/tamzrod/chargerlink/internal/fault"
)

type regKey struct {
	fc   uint8
	addr uint16
}

// Map is the register table of one device family.
// Signals keep their declaration order; that order is the decode order.
type Map struct {
	signals []Signal
	byName  map[string]int
	byAddr  map[regKey]int
}

// NewMap validates and indexes a signal table.
// Names must be unique and no two signals may share a register.
func NewMap(signals ...Signal) (*Map, error) {
	m := &Map{
		signals: signals,
		byName:  make(map[string]int, len(signals)),
		byAddr:  make(map[regKey]int, len(signals)),
	}

	for i, s := range signals {
		if s.Name == "" {
			return nil, fmt.Errorf("codec: signal %d: name required", i)
		}
		if s.FC != FCHolding && s.FC != FCInput {
			return nil, fmt.Errorf("codec: %s: unsupported function code %d", s.Name, s.FC)
		}
		if _, dup := m.byName[s.Name]; dup {
			return nil, fmt.Errorf("codec: duplicate signal %q", s.Name)
		}
		m.byName[s.Name] = i

		for _, a := range s.Addresses() {
			k := regKey{fc: s.FC, addr: a}
			if prev, taken := m.byAddr[k]; taken {
				return nil, fmt.Errorf("codec: %s overlaps %s at fc=%d addr=%d", s.Name, signals[prev].Name, s.FC, a)
			}
			m.byAddr[k] = i
		}
	}

	return m, nil
}

// MustMap is NewMap for static vendor tables.
func MustMap(signals ...Signal) *Map {
	m, err := NewMap(signals...)
	if err != nil {
		panic(err)
	}
	return m
}

// Signals returns the table in declaration order.
func (m *Map) Signals() []Signal {
	out := make([]Signal, len(m.signals))
	copy(out, m.signals)
	return out
}

// Lookup finds a signal by name.
func (m *Map) Lookup(name string) (Signal, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Signal{}, false
	}
	return m.signals[i], true
}

// Decode decodes the signal starting at address.
func (m *Map) Decode(fc uint8, address uint16, words []uint16) (RegisterValue, error) {
	i, ok := m.byAddr[regKey{fc: fc, addr: address}]
	if !ok || m.signals[i].Address != address {
		return RegisterValue{}, fmt.Errorf("codec: no signal starts at fc=%d addr=%d: %w", fc, address, fault.ErrInvalidValue)
	}
	s := m.signals[i]

	v, err := Decode(s, words)
	if err != nil {
		return RegisterValue{}, err
	}
	return RegisterValue{Name: s.Name, Value: v, Valid: true, Addresses: s.Addresses()}, nil
}

// Encode encodes a value for the named signal and returns its start address.
func (m *Map) Encode(name string, v Value) (uint16, []uint16, error) {
	s, ok := m.Lookup(name)
	if !ok {
		return 0, nil, fmt.Errorf("codec: unknown signal %q", name)
	}
	words, err := Encode(s, v)
	if err != nil {
		return 0, nil, err
	}
	return s.Address, words, nil
}

// WordSource yields the raw words of one read cycle.
type WordSource func(fc uint8, address, quantity uint16) ([]uint16, bool)

// DecodeAll decodes every signal the source covers, in table order.
// Signals outside the source are skipped; decode failures are returned
// alongside the values that did decode.
func (m *Map) DecodeAll(src WordSource) ([]RegisterValue, []error) {
	var (
		out  []RegisterValue
		errs []error
	)
	for _, s := range m.signals {
		words, ok := src(s.FC, s.Address, s.Words())
		if !ok {
			continue
		}
		v, err := Decode(s, words)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, RegisterValue{Name: s.Name, Value: v, Valid: true, Addresses: s.Addresses()})
	}
	return out, errs
}
