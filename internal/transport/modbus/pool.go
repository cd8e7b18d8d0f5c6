// internal/transport/modbus/pool.go
package modbus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/transport"
)

// Pool owns every serial bus and dials per-device connections.
// It implements transport.Dialer.
type Pool struct {
	log     *zap.Logger
	timeout time.Duration

	mu    sync.Mutex
	buses map[string]*Bus
}

// NewPool creates an empty pool. timeout applies to TCP devices.
func NewPool(timeout time.Duration, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		log:     log,
		timeout: timeout,
		buses:   make(map[string]*Bus),
	}
}

// AddBus registers a serial master. Duplicate ids are rejected.
func (p *Pool) AddBus(cfg BusConfig) error {
	b, err := NewBus(cfg, p.log.With(zap.String("bus", cfg.ID)))
	if err != nil {
		return err
	}
	return p.add(b)
}

func (p *Pool) add(b *Bus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.buses[b.id]; dup {
		return fmt.Errorf("modbus: duplicate bus %q", b.id)
	}
	p.buses[b.id] = b
	return nil
}

// Bus returns a registered bus.
func (p *Pool) Bus(id string) (*Bus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buses[id]
	return b, ok
}

// Dial builds an unconnected Conn for d.
func (p *Pool) Dial(d transport.Descriptor) (transport.Conn, error) {
	switch d.Kind {
	case transport.KindTCP:
		return NewTCPClient(TCPConfig{
			Address: d.Address(),
			UnitID:  d.UnitID,
			Timeout: p.timeout,
		}, p.log.With(zap.String("endpoint", d.Address())))

	case transport.KindRTU:
		b, ok := p.Bus(d.Bus)
		if !ok {
			return nil, fmt.Errorf("%w: no bus %q", fault.ErrTransportUnavailable, d.Bus)
		}
		return b.Slave(d.Slave), nil

	default:
		return nil, fmt.Errorf("%w: no register transport for %q", fault.ErrTransportUnavailable, d.Kind)
	}
}

// Close closes every bus.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, b := range p.buses {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
