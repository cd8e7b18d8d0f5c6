// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client abstracts the register reads the poller needs.
// The poller depends on geometry only.
type Client interface {
	ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) // FC 3
	ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error)   // FC 4
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	DeviceID string
	Reads    []ReadBlock
}

// Poller executes one device's read plan.
type Poller struct {
	cfg    Config
	client Client
}

// New creates a poller with immutable config.
func New(cfg Config, client Client) (*Poller, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("poller: device id required")
	}
	if len(cfg.Reads) == 0 {
		return nil, errors.New("poller: at least one read block required")
	}
	if client == nil {
		return nil, errors.New("poller: client required")
	}
	for _, rb := range cfg.Reads {
		if rb.FC != 3 && rb.FC != 4 {
			return nil, fmt.Errorf("poller: unsupported function code %d", rb.FC)
		}
		if rb.Quantity == 0 || rb.Quantity > 125 {
			return nil, fmt.Errorf("poller: fc=%d addr=%d: quantity %d out of range 1..125", rb.FC, rb.Address, rb.Quantity)
		}
	}
	return &Poller{cfg: cfg, client: client}, nil
}

// PollOnce performs exactly one poll cycle.
// All-or-nothing: any failure aborts the cycle.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	res := PollResult{
		DeviceID: p.cfg.DeviceID,
		At:       time.Now(),
	}

	blocks := make([]BlockResult, 0, len(p.cfg.Reads))

	for _, rb := range p.cfg.Reads {
		var (
			regs []uint16
			err  error
		)
		switch rb.FC {
		case 3:
			regs, err = p.client.ReadHoldingRegisters(ctx, rb.Address, rb.Quantity)
		case 4:
			regs, err = p.client.ReadInputRegisters(ctx, rb.Address, rb.Quantity)
		}
		if err != nil {
			res.Err = fmt.Errorf("poller: fc=%d addr=%d qty=%d: %w", rb.FC, rb.Address, rb.Quantity, err)
			return res
		}
		blocks = append(blocks, BlockResult{
			FC: rb.FC, Address: rb.Address, Quantity: rb.Quantity, Registers: regs,
		})
	}

	// Commit only if all reads succeeded
	res.Blocks = blocks
	return res
}

// Verify reads the first register of the plan. It is the lightest
// request that proves the device answers.
func (p *Poller) Verify(ctx context.Context) error {
	rb := p.cfg.Reads[0]
	var err error
	switch rb.FC {
	case 3:
		_, err = p.client.ReadHoldingRegisters(ctx, rb.Address, 1)
	case 4:
		_, err = p.client.ReadInputRegisters(ctx, rb.Address, 1)
	}
	if err != nil {
		return fmt.Errorf("poller: verify fc=%d addr=%d: %w", rb.FC, rb.Address, err)
	}
	return nil
}
