// internal/transport/modbus/errors.go
package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"

	"github.com/tamzrod/chargerlink/internal/fault"
)

// classify maps a goburrow/serial/net error onto the fault taxonomy.
// The original error stays in the chain for status.ErrorCode.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return fmt.Errorf("%w: %w", fault.ErrHardwareRejected, err)
	}

	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", fault.ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, serial.ErrTimeout):
		return fmt.Errorf("%w: %w", fault.ErrTimeout, err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", fault.ErrTimeout, err)
	}

	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %w", fault.ErrLinkLost, err)
	}

	// Framing noise (CRC, length, transaction id): no usable reply.
	return fmt.Errorf("%w: %w", fault.ErrTimeout, err)
}
