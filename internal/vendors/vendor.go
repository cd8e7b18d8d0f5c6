// internal/vendors/vendor.go
package vendor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/quirk"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/writer"
)

// ActionOptions carries who asked for an action.
type ActionOptions struct {
	// TriggeredByUser is false for automated charging logic.
	TriggeredByUser bool
}

// Plan is one encoded control action.
//
// Steps are sent in order and only the final outcome is reported.
// A plan without steps is satisfied locally: Updates are applied and the
// action succeeds without touching the hardware.
type Plan struct {
	Signal   string
	Expected codec.Value
	Steps    writer.Sequence
	Updates  []state.Update
}

// Local reports whether the plan needs no hardware write.
func (p Plan) Local() bool { return len(p.Steps) == 0 }

// Settings are per-device vendor settings from configuration.
type Settings map[string]string

// Int returns an integer setting.
func (s Settings) Int(key string) (int, bool, error) {
	raw, ok := s[key]
	if !ok || raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, true, fmt.Errorf("setting %s: %w", key, err)
	}
	return n, true, nil
}

// String returns a string setting or def.
func (s Settings) String(key, def string) string {
	if v, ok := s[key]; ok && v != "" {
		return v
	}
	return def
}

// Adapter is the fixed capability set of one hardware family.
// Adapters are stateless; per-device memory lives in the state store.
type Adapter interface {
	// Name is the vendor part of the device identity.
	Name() string

	// Class is the device class used for discovery and configuration.
	Class() string

	// Cadence is the poll interval of this family.
	Cadence() time.Duration

	Registers() *codec.Map
	ReadPlan() []poller.ReadBlock
	Quirks() []quirk.Rule

	// LiveSignals are zeroed when the device becomes unreachable.
	LiveSignals() []string

	// Setup returns initial state and the writes to issue once connected.
	Setup(settings Settings) ([]state.Update, writer.Sequence, error)

	// Translate maps one cycle's filtered readings to canonical updates.
	// Invalid readings must be skipped.
	Translate(readings []codec.RegisterValue, cur state.Reader) []state.Update

	// AfterCycle returns housekeeping writes, e.g. a watchdog reset.
	// cur is the state before this cycle's updates are applied.
	AfterCycle(readings []codec.RegisterValue, cur state.Reader) writer.Sequence

	EncodePower(on bool, cur state.Reader, opts ActionOptions) (Plan, error)
	EncodeMaxCurrent(amps float64, cur state.Reader) (Plan, error)
}

// BusProber is the slice of a shared serial master a sweep needs.
type BusProber interface {
	Check(ctx context.Context) error
	// SweepHoldingRegisters reads with timeout in place of the bus
	// timeout, so an absent slave costs one short wait.
	SweepHoldingRegisters(ctx context.Context, slave uint8, addr, qty uint16, timeout time.Duration) ([]uint16, error)
}

// DiscoveryDeps are the transports a discovery procedure may use.
type DiscoveryDeps struct {
	Dialer transport.Dialer
	Buses  map[string]BusProber

	// Window is the listening window of broadcast and mDNS methods.
	Window time.Duration

	// PerAddressTimeout bounds one identity read of a sweep.
	PerAddressTimeout time.Duration

	// Hosts are network hosts addressed directly besides any multicast.
	Hosts []string

	Log *zap.Logger
}

// Discoverer is implemented by adapters that can find their devices.
type Discoverer interface {
	Discovery(deps DiscoveryDeps) discovery.Method
}

// DiscoveryFunc builds a discovery method for a discovery-only class.
type DiscoveryFunc func(deps DiscoveryDeps) discovery.Method

// ---- registry ----

// Registry maps device classes to adapters and discovery procedures.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	methods  map[string]DiscoveryFunc
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		methods:  make(map[string]DiscoveryFunc),
	}
}

// Register adds an adapter. Its discovery, if any, is registered too.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.adapters[a.Class()]; dup {
		return fmt.Errorf("vendor: duplicate class %q", a.Class())
	}
	if err := poller.ValidateCoverage(a.ReadPlan(), readable(a)); err != nil {
		return fmt.Errorf("vendor: %s: %w", a.Class(), err)
	}
	r.adapters[a.Class()] = a
	if d, ok := a.(Discoverer); ok {
		r.methods[a.Class()] = d.Discovery
	}
	return nil
}

// RegisterDiscovery adds a discovery-only class.
func (r *Registry) RegisterDiscovery(class string, fn DiscoveryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[class] = fn
}

// Adapter looks up the adapter of a class.
func (r *Registry) Adapter(class string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[class]
	return a, ok
}

// Classes lists every class that can be configured.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Methods builds every registered discovery procedure.
func (r *Registry) Methods(deps DiscoveryDeps) map[string]discovery.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]discovery.Method, len(r.methods))
	for c, fn := range r.methods {
		out[c] = fn(deps)
	}
	return out
}

// readable is the subset of the register map the read plan must cover.
func readable(a Adapter) []codec.Signal {
	var out []codec.Signal
	plan := a.ReadPlan()
	for _, s := range a.Registers().Signals() {
		for _, b := range plan {
			if b.Covers(s.FC, s.Address, 1) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Lookup returns the reading of name among readings, valid ones only.
func Lookup(readings []codec.RegisterValue, name string) (codec.Value, bool) {
	for _, r := range readings {
		if r.Name == name && r.Valid {
			return r.Value, true
		}
	}
	return codec.Value{}, false
}

// PhasesFromCurrents derives used phases from per-phase currents.
// ok is false when no phase carries current.
func PhasesFromCurrents(a, b, c float64) (used string, count int, ok bool) {
	names := []string{"A", "B", "C"}
	var parts []string
	for i, v := range []float64{a, b, c} {
		if v > 0 {
			parts = append(parts, names[i])
		}
	}
	if len(parts) == 0 {
		return "", 0, false
	}
	used = parts[0]
	for _, p := range parts[1:] {
		used += ", " + p
	}
	return used, len(parts), true
}

// PhaseCount parses a configured phases string like "A, B, C".
func PhaseCount(phases string) int {
	n := 0
	for _, r := range phases {
		if r == 'A' || r == 'B' || r == 'C' {
			n++
		}
	}
	return n
}
