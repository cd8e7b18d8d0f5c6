// internal/discovery/broadcast.go
package discovery

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
)

// Framing is a vendor's discovery packet format. Static data plus a parser.
type Framing interface {
	Probe() []byte

	// Parse classifies one reply. false means not a device of ours.
	Parse(from net.Addr, payload []byte) (Result, bool)
}

// Broadcast sends one request to a broadcast or multicast address, and to
// each unicast target, then collects replies for a fixed window.
type Broadcast struct {
	Addr    string
	Window  time.Duration
	Framing Framing
	Log     *zap.Logger

	// Unicast are host:port targets addressed directly. Devices on routed
	// segments never see the multicast.
	Unicast []string

	// Listen opens the socket; defaults to an ephemeral udp4 port.
	Listen func() (net.PacketConn, error)
}

func (b *Broadcast) Discover(ctx context.Context) Report {
	log := b.Log
	if log == nil {
		log = zap.NewNop()
	}
	listen := b.Listen
	if listen == nil {
		listen = func() (net.PacketConn, error) { return net.ListenPacket("udp4", ":0") }
	}

	dst, err := net.ResolveUDPAddr("udp", b.Addr)
	if err != nil {
		return unavailable(err)
	}

	conn, err := listen()
	if err != nil {
		return unavailable(err)
	}
	defer conn.Close()

	if err := b.send(conn, dst, log); err != nil {
		return unavailable(err)
	}

	deadline := time.Now().Add(b.Window)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return unavailable(err)
	}
	// cancellation cuts the window short
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	var results []Result
	seen := map[string]bool{}
	buf := make([]byte, 1500)

	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				log.Debug("discovery read ended", zap.Error(err))
			}
			break
		}

		r, ok := b.Framing.Parse(from, buf[:n])
		if !ok {
			continue
		}
		if seen[r.key()] {
			continue
		}
		seen[r.key()] = true
		results = append(results, r)
	}

	if ctx.Err() != nil {
		return cancelled(results, ctx.Err())
	}
	return Report{Outcome: Completed, Results: results}
}

// send fails only when nothing left the socket.
func (b *Broadcast) send(conn net.PacketConn, dst net.Addr, log *zap.Logger) error {
	sent := 0
	firstErr := error(nil)
	note := func(target string, err error) {
		if err == nil {
			sent++
			return
		}
		log.Debug("discovery request not sent", zap.String("target", target), zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}

	_, err := conn.WriteTo(b.Framing.Probe(), dst)
	note(b.Addr, err)

	for _, target := range b.Unicast {
		ua, err := net.ResolveUDPAddr("udp", target)
		if err != nil {
			note(target, err)
			continue
		}
		_, err = conn.WriteTo(b.Framing.Probe(), ua)
		note(target, err)
	}

	if sent == 0 {
		return firstErr
	}
	return nil
}
