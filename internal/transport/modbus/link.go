// internal/transport/modbus/link.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/fault"
)

// registerClient is the slice of goburrow's modbus.Client we use.
type registerClient interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// port is the lifecycle half of a goburrow client handler.
// A serial handler applies its timeout when the port is opened.
type port interface {
	Connect() error
	Close() error
	SetSlave(id byte)
	SetTimeout(d time.Duration)
}

// link serializes every request on one physical connection.
// The goburrow client is not safe for concurrent use.
type link struct {
	name   string
	log    *zap.Logger
	sem    chan struct{}
	port   port
	client registerClient
	open   bool // guarded by sem

	// timeout is the configured request timeout, cur the one the port
	// was last set to. Zero leaves the handler's own default.
	timeout time.Duration
	cur     time.Duration // guarded by sem
}

func newLink(name string, p port, c registerClient, log *zap.Logger) *link {
	if log == nil {
		log = zap.NewNop()
	}
	return &link{
		name:   name,
		log:    log,
		sem:    make(chan struct{}, 1),
		port:   p,
		client: c,
	}
}

// acquire takes the link. A context that is already done never wins,
// even when the link is free.
func (l *link) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return classify(ctx.Err())
	}
	if err := ctx.Err(); err != nil {
		l.release()
		return classify(err)
	}
	return nil
}

func (l *link) release() { <-l.sem }

// ensureOpen opens the port if needed. Caller holds sem.
func (l *link) ensureOpen() error {
	if l.open {
		return nil
	}
	if err := l.port.Connect(); err != nil {
		return fmt.Errorf("%w: %s: %v", fault.ErrTransportUnavailable, l.name, err)
	}
	l.open = true
	return nil
}

// useTimeout switches the port to d, reopening it if the timeout
// changes. d <= 0 selects the configured timeout. Caller holds sem.
func (l *link) useTimeout(d time.Duration) {
	if d <= 0 {
		d = l.timeout
	}
	if d <= 0 || d == l.cur {
		return
	}
	_ = l.closeLocked()
	l.port.SetTimeout(d)
	l.cur = d
}

// closeLocked closes the port. Caller holds sem.
func (l *link) closeLocked() error {
	if !l.open {
		return nil
	}
	l.open = false
	return l.port.Close()
}

// check opens the port without issuing a request.
func (l *link) check(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()
	l.useTimeout(0)
	return l.ensureOpen()
}

func (l *link) shutdown() error {
	l.sem <- struct{}{}
	defer l.release()
	return l.closeLocked()
}

// do runs one request against slave. One in flight at a time.
// A timeout or lost link closes the port; the next request reopens it.
// timeout overrides the configured request timeout for this request.
func (l *link) do(ctx context.Context, slave byte, timeout time.Duration, fn func(c registerClient) error) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	l.useTimeout(timeout)
	if err := l.ensureOpen(); err != nil {
		return err
	}

	l.port.SetSlave(slave)
	err := classify(fn(l.client))

	if errors.Is(err, fault.ErrTimeout) || errors.Is(err, fault.ErrLinkLost) {
		l.log.Debug("reopening link after failure",
			zap.String("link", l.name),
			zap.Uint8("slave", slave),
			zap.Error(err),
		)
		_ = l.closeLocked()
	}
	return err
}

// ---- register operations ----

func (l *link) readHolding(ctx context.Context, slave byte, timeout time.Duration, addr, qty uint16) ([]uint16, error) {
	var out []uint16
	err := l.do(ctx, slave, timeout, func(c registerClient) error {
		b, err := c.ReadHoldingRegisters(addr, qty)
		if err != nil {
			return err
		}
		out, err = unpackRegisters(b, qty)
		return err
	})
	return out, err
}

func (l *link) readInput(ctx context.Context, slave byte, addr, qty uint16) ([]uint16, error) {
	var out []uint16
	err := l.do(ctx, slave, 0, func(c registerClient) error {
		b, err := c.ReadInputRegisters(addr, qty)
		if err != nil {
			return err
		}
		out, err = unpackRegisters(b, qty)
		return err
	})
	return out, err
}

func (l *link) write(ctx context.Context, slave byte, addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}
	return l.do(ctx, slave, 0, func(c registerClient) error {
		if len(regs) == 1 {
			_, err := c.WriteSingleRegister(addr, regs[0])
			return err
		}
		_, err := c.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
		return err
	})
}

// ---- helpers (pure geometry) ----

func unpackRegisters(data []byte, qty uint16) ([]uint16, error) {
	if len(data) != int(qty)*2 {
		return nil, fmt.Errorf("modbus: want %d bytes, got %d", int(qty)*2, len(data))
	}
	out := make([]uint16, qty)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out, nil
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
