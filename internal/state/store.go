// internal/state/store.go
package state

import (
	"sync"
	"time"

	"github.com/tamzrod/chargerlink/internal/codec"
)

// Notifier receives value changes. Called outside the store lock.
type Notifier interface {
	StateChanged(deviceID, signal string, v codec.Value)
}

// BoundsNotifier receives min/max changes, if the host cares.
type BoundsNotifier interface {
	BoundsChanged(deviceID, signal string, min, max *float64)
}

// Entry is one signal's current state.
type Entry struct {
	Value   codec.Value
	Min     *float64
	Max     *float64
	Updated time.Time
}

// Update is one ordered mutation of the store.
// A value and/or bounds may be carried; zero fields are left alone.
type Update struct {
	Signal   string
	Value    codec.Value
	HasValue bool
	Min      *float64
	Max      *float64
}

func Set(signal string, v codec.Value) Update {
	return Update{Signal: signal, Value: v, HasValue: true}
}

func SetMin(signal string, min float64) Update {
	return Update{Signal: signal, Min: &min}
}

func SetMax(signal string, max float64) Update {
	return Update{Signal: signal, Max: &max}
}

// Reader is the read-only view of a store.
type Reader interface {
	Get(signal string) (codec.Value, bool)
}

type change struct {
	signal string
	value  codec.Value
	bounds bool
	min    *float64
	max    *float64
}

// Store is the canonical state of one device.
// Mutated only by the owning device's update path; read freely.
type Store struct {
	deviceID string

	mu      sync.RWMutex
	entries map[string]*Entry

	notify Notifier
	bounds BoundsNotifier
	now    func() time.Time
}

// NewStore creates an empty store. notify may be nil.
func NewStore(deviceID string, notify Notifier) *Store {
	s := &Store{
		deviceID: deviceID,
		entries:  make(map[string]*Entry),
		notify:   notify,
		now:      time.Now,
	}
	if bn, ok := notify.(BoundsNotifier); ok {
		s.bounds = bn
	}
	return s
}

func (s *Store) DeviceID() string { return s.deviceID }

// Get returns the current value of signal.
func (s *Store) Get(signal string) (codec.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[signal]
	if !ok || !e.Value.IsSet() {
		return codec.Value{}, false
	}
	return e.Value, true
}

// Number returns a numeric view of signal.
func (s *Store) Number(signal string) (float64, bool) {
	v, ok := s.Get(signal)
	if !ok {
		return 0, false
	}
	return v.Number()
}

// Bounds returns the declared min/max of signal, if any.
func (s *Store) Bounds(signal string) (min, max *float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[signal]
	if !ok {
		return nil, nil
	}
	return copyF(e.Min), copyF(e.Max)
}

// Set stores one value and reports whether it changed.
func (s *Store) Set(signal string, v codec.Value) bool {
	return s.Apply(Set(signal, v)) > 0
}

func (s *Store) SetMin(signal string, min float64) { s.Apply(SetMin(signal, min)) }
func (s *Store) SetMax(signal string, max float64) { s.Apply(SetMax(signal, max)) }

// Apply applies updates in order and returns the number of value changes.
// Notifications fire after the lock is released, in update order.
func (s *Store) Apply(updates ...Update) int {
	if len(updates) == 0 {
		return 0
	}

	var changes []change
	now := s.now()

	s.mu.Lock()
	for _, u := range updates {
		e, ok := s.entries[u.Signal]
		if !ok {
			e = &Entry{}
			s.entries[u.Signal] = e
		}

		boundsChanged := false
		if u.Min != nil && !sameF(e.Min, u.Min) {
			e.Min = copyF(u.Min)
			boundsChanged = true
		}
		if u.Max != nil && !sameF(e.Max, u.Max) {
			e.Max = copyF(u.Max)
			boundsChanged = true
		}
		if boundsChanged {
			changes = append(changes, change{signal: u.Signal, bounds: true, min: copyF(e.Min), max: copyF(e.Max)})
		}

		if u.HasValue && e.Value != u.Value {
			e.Value = u.Value
			e.Updated = now
			changes = append(changes, change{signal: u.Signal, value: u.Value})
		}
	}
	s.mu.Unlock()

	n := 0
	for _, c := range changes {
		if c.bounds {
			if s.bounds != nil {
				s.bounds.BoundsChanged(s.deviceID, c.signal, c.min, c.max)
			}
			continue
		}
		n++
		if s.notify != nil {
			s.notify.StateChanged(s.deviceID, c.signal, c.value)
		}
	}
	return n
}

// ApplyReadings stores valid readings and skips invalid ones.
func (s *Store) ApplyReadings(readings []codec.RegisterValue) int {
	updates := make([]Update, 0, len(readings))
	for _, r := range readings {
		if !r.Valid {
			continue
		}
		updates = append(updates, Set(r.Name, r.Value))
	}
	return s.Apply(updates...)
}

// ZeroLive resets the named signals to their zero-equivalents.
// Signals never set are left unset.
func (s *Store) ZeroLive(signals []string) int {
	s.mu.RLock()
	updates := make([]Update, 0, len(signals))
	for _, name := range signals {
		e, ok := s.entries[name]
		if !ok || !e.Value.IsSet() {
			continue
		}
		updates = append(updates, Set(name, e.Value.Zero()))
	}
	s.mu.RUnlock()

	return s.Apply(updates...)
}

// Snapshot returns a copy of every entry.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		out[k] = Entry{Value: e.Value, Min: copyF(e.Min), Max: copyF(e.Max), Updated: e.Updated}
	}
	return out
}

func copyF(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func sameF(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
