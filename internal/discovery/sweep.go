// internal/discovery/sweep.go
package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/transport"
)

// ProbeFunc issues one identity read. found=false with a nil or timeout
// error means "absent at this address". ErrTransportUnavailable aborts.
type ProbeFunc func(ctx context.Context, d transport.Descriptor) (r Result, found bool, err error)

// Sweep enumerates candidate addresses with an identity read each.
type Sweep struct {
	Candidates        []transport.Descriptor
	Probe             ProbeFunc
	PerAddressTimeout time.Duration

	// Parallel bounds concurrent probes. Use 1 on a shared bus.
	Parallel int

	// Available checks the transport before sweeping.
	Available func(ctx context.Context) error

	Log *zap.Logger
}

// SlaveRange lists RTU candidates from..to on one bus.
func SlaveRange(bus string, from, to uint8) []transport.Descriptor {
	if to < from {
		return nil
	}
	out := make([]transport.Descriptor, 0, int(to-from)+1)
	for a := int(from); a <= int(to); a++ {
		out = append(out, transport.Descriptor{Kind: transport.KindRTU, Bus: bus, Slave: uint8(a)})
	}
	return out
}

func (s *Sweep) Discover(ctx context.Context) Report {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	if s.Available != nil {
		if err := s.Available(ctx); err != nil {
			return unavailable(err)
		}
	}

	timeout := s.PerAddressTimeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	parallel := s.Parallel
	if parallel <= 0 {
		parallel = 1
	}

	type hit struct {
		idx int
		r   Result
	}
	var (
		mu   sync.Mutex
		hits []hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, d := range s.Candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			r, found, err := s.Probe(pctx, d)
			if errors.Is(err, fault.ErrTransportUnavailable) {
				return err
			}
			if !found {
				if err != nil && !fault.IsStrike(err) {
					log.Debug("probe failed", zap.Stringer("candidate", d), zap.Error(err))
				}
				return nil
			}
			if r.Descriptor.Kind == "" {
				r.Descriptor = d
			}
			mu.Lock()
			hits = append(hits, hit{idx: i, r: r})
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()

	sort.Slice(hits, func(a, b int) bool { return hits[a].idx < hits[b].idx })
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, h.r)
	}

	switch {
	case ctx.Err() != nil:
		return cancelled(results, ctx.Err())
	case err != nil:
		return Report{Outcome: TransportUnavailable, Results: results, Err: err}
	default:
		return Report{Outcome: Completed, Results: results}
	}
}
