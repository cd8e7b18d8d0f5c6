// internal/fault/fault.go
package fault

import (
	"context"
	"errors"
)

// Engine error taxonomy.
// Every error crossing a package boundary wraps exactly one of these.
var (
	// ErrTransportUnavailable: no link or bus present at all.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrTimeout: a request did not get a reply in time.
	ErrTimeout = errors.New("timeout")

	// ErrLinkLost: the link broke mid-request (EOF, reset, refused).
	ErrLinkLost = errors.New("link lost")

	// ErrInvalidValue: a value failed validation or a quirk rule.
	ErrInvalidValue = errors.New("invalid value")

	// ErrUnknownCode: a raw code outside a closed alphabet.
	ErrUnknownCode = errors.New("unknown code")

	// ErrHardwareRejected: the device replied with an exception.
	ErrHardwareRejected = errors.New("hardware rejected request")

	// ErrCancelled: device removed or operation aborted while pending.
	ErrCancelled = errors.New("cancelled")

	// ErrHardwareUnavailable: device known but not reachable right now.
	ErrHardwareUnavailable = errors.New("hardware unavailable")

	// ErrUnknownDevice: no device with that id.
	ErrUnknownDevice = errors.New("unknown device")
)

// Kind is the host-facing error classification.
type Kind uint8

const (
	KindNone Kind = iota
	KindTransportUnavailable
	KindTimeout
	KindInvalidValue
	KindUnknownCode
	KindHardwareRejected
	KindCancelled
	KindHardwareUnavailable
	KindUnknownDevice
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransportUnavailable:
		return "transport_unavailable"
	case KindTimeout:
		return "timeout"
	case KindInvalidValue:
		return "invalid_value"
	case KindUnknownCode:
		return "unknown_code"
	case KindHardwareRejected:
		return "hardware_rejected"
	case KindCancelled:
		return "cancelled"
	case KindHardwareUnavailable:
		return "hardware_unavailable"
	case KindUnknownDevice:
		return "unknown_device"
	default:
		return "internal"
	}
}

// KindOf classifies err. A nil error is KindNone.
// A lost link is reported as transport unavailable: the caller cannot
// tell the difference and the remedy is the same.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrTransportUnavailable), errors.Is(err, ErrLinkLost):
		return KindTransportUnavailable
	case errors.Is(err, ErrHardwareRejected):
		return KindHardwareRejected
	case errors.Is(err, ErrHardwareUnavailable):
		return KindHardwareUnavailable
	case errors.Is(err, ErrInvalidValue):
		return KindInvalidValue
	case errors.Is(err, ErrUnknownCode):
		return KindUnknownCode
	case errors.Is(err, ErrUnknownDevice):
		return KindUnknownDevice
	default:
		return KindInternal
	}
}

// IsStrike reports whether err counts against reachability.
// Only timeouts do; a rejected request proves the device is alive.
func IsStrike(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
