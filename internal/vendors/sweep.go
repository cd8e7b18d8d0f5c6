// internal/vendors/sweep.go
package vendor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/codec"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/transport"
)

var errNoMaster = errors.New("no modbus RTU master available")

// BusSweep identifies RTU wallboxes by reading one holding-register
// signal from every slave of every usable bus.
type BusSweep struct {
	// Identity is read from each slave. It must be a holding register.
	Identity codec.Signal

	// Result builds the candidate from a decoded identity. false skips it.
	Result func(d transport.Descriptor, identity codec.Value) (discovery.Result, bool)

	// First and Last bound the slave range, 1..254 when zero.
	First, Last uint8

	// NoMaster is reported when no bus passes its check.
	NoMaster error
}

// Method builds the sweep over deps.Buses.
func (s BusSweep) Method(deps DiscoveryDeps) discovery.Method {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	first, last := s.First, s.Last
	if first == 0 {
		first = 1
	}
	if last == 0 {
		last = 254
	}
	noMaster := s.NoMaster
	if noMaster == nil {
		noMaster = errNoMaster
	}

	return discovery.MethodFunc(func(ctx context.Context) discovery.Report {
		ids := make([]string, 0, len(deps.Buses))
		for id := range deps.Buses {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		var candidates []transport.Descriptor
		for _, id := range ids {
			if err := deps.Buses[id].Check(ctx); err != nil {
				log.Warn("rtu master not usable", zap.String("bus", id), zap.Error(err))
				continue
			}
			candidates = append(candidates, discovery.SlaveRange(id, first, last)...)
		}

		sw := &discovery.Sweep{
			Candidates:        candidates,
			Probe:             s.read(deps),
			PerAddressTimeout: deps.PerAddressTimeout,
			Parallel:          1,
			Available: func(context.Context) error {
				if len(candidates) == 0 {
					return noMaster
				}
				return nil
			},
			Log: log,
		}
		return sw.Discover(ctx)
	})
}

func (s BusSweep) read(deps DiscoveryDeps) discovery.ProbeFunc {
	return func(ctx context.Context, d transport.Descriptor) (discovery.Result, bool, error) {
		bus, ok := deps.Buses[d.Bus]
		if !ok {
			return discovery.Result{}, false, fmt.Errorf("%w: bus %q", fault.ErrTransportUnavailable, d.Bus)
		}
		words, err := bus.SweepHoldingRegisters(ctx, d.Slave, s.Identity.Address, s.Identity.Words(), deps.PerAddressTimeout)
		if err != nil {
			return discovery.Result{}, false, err
		}
		v, err := codec.Decode(s.Identity, words)
		if err != nil {
			return discovery.Result{}, false, err
		}
		r, ok := s.Result(d, v)
		return r, ok, nil
	}
}
