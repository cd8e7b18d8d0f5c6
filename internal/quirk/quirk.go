// internal/quirk/quirk.go
package quirk

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
)

// Reader is the read-only view of current device state a rule may consult.
type Reader interface {
	Get(signal string) (codec.Value, bool)
}

// Rule rejects implausible readings of one signal.
// Reject must be pure: no I/O, no state mutation.
type Rule struct {
	Signal string
	Reason string
	Reject func(v codec.Value, cur Reader) bool
}

// ---- rule builders ----

// Above rejects numeric readings strictly greater than max.
func Above(signal string, max float64) Rule {
	return Rule{
		Signal: signal,
		Reason: fmt.Sprintf("above %v", max),
		Reject: func(v codec.Value, _ Reader) bool {
			n, ok := v.Number()
			return ok && n > max
		},
	}
}

// Zero rejects zero readings (hardware reporting zero as "not set").
func Zero(signal string) Rule {
	return Rule{
		Signal: signal,
		Reason: "zero",
		Reject: func(v codec.Value, _ Reader) bool {
			n, ok := v.Number()
			return ok && n == 0
		},
	}
}

// OutsideRange rejects numeric readings outside [lo, hi].
func OutsideRange(signal string, lo, hi float64) Rule {
	return Rule{
		Signal: signal,
		Reason: fmt.Sprintf("outside %v..%v", lo, hi),
		Reject: func(v codec.Value, _ Reader) bool {
			n, ok := v.Number()
			return ok && (n < lo || n > hi)
		},
	}
}

// UnknownEnum rejects enum codes outside the declared alphabet.
func UnknownEnum(signal string) Rule {
	return Rule{
		Signal: signal,
		Reason: "unknown code",
		Reject: func(v codec.Value, _ Reader) bool {
			return v.Type == codec.TypeEnum && !v.Known
		},
	}
}

// ---- filter ----

// RejectFunc observes every rejection (metrics hook).
type RejectFunc func(signal, reason string)

// Filter applies a vendor's rule set uniformly.
// Rejections are warnings, never errors.
type Filter struct {
	log      *zap.Logger
	rules    map[string][]Rule
	onReject RejectFunc
}

// New builds a filter. A nil logger is allowed.
func New(log *zap.Logger, rules ...Rule) *Filter {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Filter{
		log:   log,
		rules: make(map[string][]Rule, len(rules)),
	}
	for _, r := range rules {
		if r.Reject == nil {
			continue
		}
		f.rules[r.Signal] = append(f.rules[r.Signal], r)
	}
	return f
}

// OnReject installs a rejection observer.
func (f *Filter) OnReject(fn RejectFunc) { f.onReject = fn }

// Accept reports whether v may reach state.
func (f *Filter) Accept(signal string, v codec.Value, cur Reader) bool {
	for _, r := range f.rules[signal] {
		if !r.Reject(v, cur) {
			continue
		}
		f.log.Warn("reading rejected",
			zap.String("signal", signal),
			zap.Stringer("value", v),
			zap.String("reason", r.Reason),
		)
		if f.onReject != nil {
			f.onReject(signal, r.Reason)
		}
		return false
	}
	return true
}

// Apply marks rejected readings invalid in place and returns them.
func (f *Filter) Apply(readings []codec.RegisterValue, cur Reader) []codec.RegisterValue {
	for i := range readings {
		if !readings[i].Valid {
			continue
		}
		if !f.Accept(readings[i].Name, readings[i].Value, cur) {
			readings[i].Valid = false
		}
	}
	return readings
}
