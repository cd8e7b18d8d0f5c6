// internal/discovery/mdns.go
package discovery

import (
	"context"
	"time"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"
)

// MDNS browses a DNS-SD service type for a fixed window.
type MDNS struct {
	Service string
	Domain  string
	Window  time.Duration

	// Build turns an entry into a candidate. false skips it.
	Build func(e *zeroconf.ServiceEntry) (Result, bool)

	// Verify optionally confirms a candidate, e.g. with an identity read.
	Verify func(ctx context.Context, r Result) (Result, bool)

	Log *zap.Logger
}

func (m *MDNS) Discover(ctx context.Context) Report {
	log := m.Log
	if log == nil {
		log = zap.NewNop()
	}
	domain := m.Domain
	if domain == "" {
		domain = "local."
	}

	bctx, cancel := context.WithTimeout(ctx, m.Window)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	removed := make(chan *zeroconf.ServiceEntry, 16)
	browseErr := make(chan error, 1)

	go func() {
		browseErr <- zeroconf.Browse(bctx, m.Service, domain, entries, removed)
	}()

	var candidates []Result
	seen := map[string]bool{}

collect:
	for {
		select {
		case err := <-browseErr:
			if err != nil {
				return unavailable(err)
			}
			browseErr = nil // browse returned; keep reading until the window ends
		case e, ok := <-entries:
			if !ok {
				break collect
			}
			r, ok := m.Build(e)
			if !ok || seen[r.key()] {
				continue
			}
			seen[r.key()] = true
			candidates = append(candidates, r)
		case <-removed:
		case <-bctx.Done():
			break collect
		}
	}

	if ctx.Err() != nil {
		return cancelled(candidates, ctx.Err())
	}
	if m.Verify == nil {
		return Report{Outcome: Completed, Results: candidates}
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if ctx.Err() != nil {
			return cancelled(results, ctx.Err())
		}
		if r, ok := m.Verify(ctx, c); ok {
			results = append(results, r)
		} else {
			log.Debug("mdns candidate not verified", zap.String("identity", c.Identity()))
		}
	}
	return Report{Outcome: Completed, Results: results}
}
