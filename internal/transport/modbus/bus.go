// internal/transport/modbus/bus.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"go.uber.org/zap"
)

type rtuPort struct{ *modbus.RTUClientHandler }

func (p rtuPort) SetSlave(id byte)            { p.SlaveId = id }
func (p rtuPort) SetTimeout(d time.Duration) { p.Timeout = d }

// BusConfig describes one serial RTU master.
type BusConfig struct {
	ID       string
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // "N", "E", "O"
	Timeout  time.Duration
}

// serialConfig maps BusConfig onto goburrow/serial.
func (c BusConfig) serialConfig() serial.Config {
	return serial.Config{
		Address:  c.Port,
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
		Timeout:  c.Timeout,
	}
}

// Bus is one serial master shared by every slave on the wire.
// Requests from all slaves are serialized; a timeout reopens the port.
type Bus struct {
	id string
	l  *link

	mu   sync.Mutex
	refs int
}

// NewBus builds an unopened bus.
func NewBus(cfg BusConfig, log *zap.Logger) (*Bus, error) {
	if cfg.ID == "" {
		return nil, errors.New("modbus rtu: bus id required")
	}
	if cfg.Port == "" {
		return nil, fmt.Errorf("modbus rtu: bus %s: port required", cfg.ID)
	}

	h := modbus.NewRTUClientHandler(cfg.Port)
	def := h.Timeout
	h.Config = cfg.serialConfig()
	if h.Timeout <= 0 {
		h.Timeout = def
	}

	b := newBus(cfg.ID, rtuPort{h}, modbus.NewClient(h), log)
	b.l.timeout, b.l.cur = h.Timeout, h.Timeout
	return b, nil
}

func newBus(id string, p port, c registerClient, log *zap.Logger) *Bus {
	return &Bus{id: id, l: newLink("rtu "+id, p, c, log)}
}

func (b *Bus) ID() string { return b.id }

// Check opens the port if it is not already open.
// ErrTransportUnavailable means no master is present.
func (b *Bus) Check(ctx context.Context) error {
	return b.l.check(ctx)
}

// Close closes the port regardless of attached slaves.
func (b *Bus) Close() error {
	return b.l.shutdown()
}

func (b *Bus) attach(ctx context.Context) error {
	if err := b.l.check(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	b.refs++
	b.mu.Unlock()
	return nil
}

func (b *Bus) detach() error {
	b.mu.Lock()
	if b.refs > 0 {
		b.refs--
	}
	last := b.refs == 0
	b.mu.Unlock()

	if last {
		return b.l.shutdown()
	}
	return nil
}

// Slave returns a Conn addressing one slave on the bus.
func (b *Bus) Slave(id uint8) *RTUClient {
	return &RTUClient{bus: b, slave: id}
}

// SweepHoldingRegisters issues one identity read on behalf of slave
// during an address sweep. timeout replaces the bus timeout for this
// read; the bus timeout comes back with the next regular request.
func (b *Bus) SweepHoldingRegisters(ctx context.Context, slave uint8, addr, qty uint16, timeout time.Duration) ([]uint16, error) {
	return b.l.readHolding(ctx, slave, timeout, addr, qty)
}

// RTUClient implements transport.Conn for one slave on a shared Bus.
type RTUClient struct {
	bus   *Bus
	slave uint8

	mu       sync.Mutex
	attached bool
}

func (c *RTUClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return c.bus.l.check(ctx)
	}
	if err := c.bus.attach(ctx); err != nil {
		return err
	}
	c.attached = true
	return nil
}

func (c *RTUClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return nil
	}
	c.attached = false
	return c.bus.detach()
}

// ---- transport.Conn ----

func (c *RTUClient) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.bus.l.readHolding(ctx, c.slave, 0, addr, qty)
}

func (c *RTUClient) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.bus.l.readInput(ctx, c.slave, addr, qty)
}

func (c *RTUClient) WriteRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return c.bus.l.write(ctx, c.slave, addr, values)
}
