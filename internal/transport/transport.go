// internal/transport/transport.go
package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Kind names the wire a device lives on.
type Kind string

const (
	KindTCP Kind = "tcp"
	KindRTU Kind = "rtu"
	KindUDP Kind = "udp"
)

// Descriptor locates one device. Exactly one of the TCP (Host/Port/UnitID)
// or RTU (Bus/Slave) halves is meaningful, per Kind.
type Descriptor struct {
	Kind Kind

	Host   string
	Port   int
	UnitID uint8

	Bus   string
	Slave uint8

	// Serial is the device serial number when discovery learned it.
	Serial string
}

// Address is the dialable host:port of a network descriptor.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Identity is the stable vendor+address key of the device.
func (d Descriptor) Identity(vendor string) string {
	switch d.Kind {
	case KindRTU:
		return fmt.Sprintf("%s/rtu:%s@%d", vendor, d.Bus, d.Slave)
	default:
		return fmt.Sprintf("%s/%s:%s#%d", vendor, d.Kind, d.Address(), d.UnitID)
	}
}

func (d Descriptor) String() string {
	if d.Kind == KindRTU {
		return fmt.Sprintf("rtu %s slave=%d", d.Bus, d.Slave)
	}
	return fmt.Sprintf("%s %s unit=%d", d.Kind, d.Address(), d.UnitID)
}

// Conn is a register-level link to one device.
// Errors wrap the fault taxonomy: ErrTimeout, ErrLinkLost,
// ErrHardwareRejected, ErrTransportUnavailable.
type Conn interface {
	Connect(ctx context.Context) error
	Close() error

	ReadHoldingRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error) // FC 3
	ReadInputRegisters(ctx context.Context, addr, qty uint16) ([]uint16, error)   // FC 4
	WriteRegisters(ctx context.Context, addr uint16, values []uint16) error       // FC 6/16
}

// Dialer builds a Conn for a descriptor. It does not connect.
type Dialer interface {
	Dial(d Descriptor) (Conn, error)
}
