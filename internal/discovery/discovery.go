// internal/discovery/discovery.go
package discovery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/transport"
)

// Outcome tells "found nothing" apart from "could not look".
type Outcome uint8

const (
	Completed Outcome = iota
	TransportUnavailable
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TransportUnavailable:
		return "transport_unavailable"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is one candidate device. Ephemeral: never persisted.
type Result struct {
	Descriptor transport.Descriptor
	Vendor     string
	Model      string
	Firmware   string
	Serial     string

	// ExistingID is set when the candidate is an already configured device.
	ExistingID string
}

// Identity is the vendor+address key used to match configured devices.
func (r Result) Identity() string { return r.Descriptor.Identity(r.Vendor) }

func (r Result) key() string {
	if r.Serial != "" {
		return r.Vendor + "/sn:" + r.Serial
	}
	return r.Identity()
}

// Report is the single, complete answer of one discovery run.
type Report struct {
	Outcome Outcome
	Results []Result
	Err     error
}

func unavailable(err error) Report {
	return Report{Outcome: TransportUnavailable, Err: fmt.Errorf("%w: %v", fault.ErrTransportUnavailable, err)}
}

func cancelled(results []Result, err error) Report {
	return Report{Outcome: Cancelled, Results: results, Err: fmt.Errorf("%w: %v", fault.ErrCancelled, err)}
}

// Method is one vendor discovery procedure.
// Discover completes exactly once and never streams.
type Method interface {
	Discover(ctx context.Context) Report
}

// MethodFunc adapts a function to Method.
type MethodFunc func(ctx context.Context) Report

func (f MethodFunc) Discover(ctx context.Context) Report { return f(ctx) }

// KnownFunc maps a candidate to an already configured device id.
type KnownFunc func(r Result) (deviceID string, ok bool)

// Service runs the method registered for a device class.
type Service struct {
	log   *zap.Logger
	known KnownFunc

	mu      sync.RWMutex
	methods map[string]Method
}

func NewService(known KnownFunc, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		log:     log,
		known:   known,
		methods: make(map[string]Method),
	}
}

// Register sets the method for a device class, replacing any previous one.
func (s *Service) Register(class string, m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[class] = m
}

// Classes lists registered device classes.
func (s *Service) Classes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.methods))
	for c := range s.methods {
		out = append(out, c)
	}
	return out
}

// Discover runs one discovery for class. Results are deduplicated and
// marked with the id of a matching configured device.
func (s *Service) Discover(ctx context.Context, class string) Report {
	s.mu.RLock()
	m, ok := s.methods[class]
	s.mu.RUnlock()
	if !ok {
		return unavailable(fmt.Errorf("no discovery method for class %q", class))
	}

	rep := m.Discover(ctx)
	rep.Results = dedupe(rep.Results)

	if s.known != nil {
		for i := range rep.Results {
			if id, ok := s.known(rep.Results[i]); ok {
				rep.Results[i].ExistingID = id
			}
		}
	}

	s.log.Info("discovery finished",
		zap.String("class", class),
		zap.Stringer("outcome", rep.Outcome),
		zap.Int("results", len(rep.Results)),
		zap.Error(rep.Err),
	)
	return rep
}

func dedupe(in []Result) []Result {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, r := range in {
		k := r.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}
