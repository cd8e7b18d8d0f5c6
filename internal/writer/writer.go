// internal/writer/writer.go
package writer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/fault"
)

// Client is the exact contract the writer uses.
type Client interface {
	WriteRegisters(ctx context.Context, addr uint16, values []uint16) error
}

// Writer delivers write sequences to one device.
type Writer struct {
	client Client
	log    *zap.Logger
}

func New(client Client, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{client: client, log: log}
}

// Run executes every step in order and returns the final step's outcome.
// Earlier failures are logged, not returned. A cancelled context stops
// the sequence and is reported as ErrCancelled.
func (w *Writer) Run(ctx context.Context, seq Sequence) error {
	if len(seq) == 0 {
		return nil
	}

	var last error
	for i, st := range seq {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %d of %d writes not sent", fault.ErrCancelled, len(seq)-i, len(seq))
		}

		last = w.client.WriteRegisters(ctx, st.Address, st.Values)
		if last == nil {
			continue
		}
		if errors.Is(last, fault.ErrCancelled) {
			return last
		}
		w.log.Warn("sub-write failed",
			zap.String("signal", st.Name),
			zap.Uint16("addr", st.Address),
			zap.Int("step", i+1),
			zap.Int("steps", len(seq)),
			zap.Error(last),
		)
	}
	if last != nil {
		return fmt.Errorf("writer: %s: %w", seq[len(seq)-1].Name, last)
	}
	return nil
}
