// internal/transport/modbus/tcp.go
package modbus

import (
	"context"
	"errors"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

type tcpPort struct{ *modbus.TCPClientHandler }

func (p tcpPort) SetSlave(id byte)            { p.SlaveId = id }
func (p tcpPort) SetTimeout(d time.Duration) { p.Timeout = d }

// TCPConfig is minimal transport config.
type TCPConfig struct {
	Address     string
	UnitID      uint8
	Timeout     time.Duration
	IdleTimeout time.Duration
}

// TCPClient implements transport.Conn over Modbus TCP.
// One connection per device.
type TCPClient struct {
	l      *link
	unitID uint8
}

// NewTCPClient builds an unconnected client.
func NewTCPClient(cfg TCPConfig, log *zap.Logger) (*TCPClient, error) {
	if cfg.Address == "" {
		return nil, errors.New("modbus tcp: address required")
	}

	h := modbus.NewTCPClientHandler(cfg.Address)
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	if cfg.IdleTimeout > 0 {
		h.IdleTimeout = cfg.IdleTimeout
	}
	h.SlaveId = cfg.UnitID

	l := newLink("tcp "+cfg.Address, tcpPort{h}, modbus.NewClient(h), log)
	l.timeout, l.cur = h.Timeout, h.Timeout
	return &TCPClient{l: l, unitID: cfg.UnitID}, nil
}

// Connect dials once. Failure means the device is absent.
func (c *TCPClient) Connect(ctx context.Context) error {
	return c.l.check(ctx)
}

func (c *TCPClient) Close() error {
	return c.l.shutdown()
}

// ---- transport.Conn ----

func (c *TCPClient) ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.l.readHolding(ctx, c.unitID, 0, addr, qty)
}

func (c *TCPClient) ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) {
	return c.l.readInput(ctx, c.unitID, addr, qty)
}

func (c *TCPClient) WriteRegisters(ctx context.Context, addr uint16, values []uint16) error {
	return c.l.write(ctx, c.unitID, addr, values)
}
