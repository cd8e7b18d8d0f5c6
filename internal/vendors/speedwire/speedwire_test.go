// internal/vendors/speedwire/speedwire_test.go
package speedwire

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

func reply(protocol, susy uint16, serial uint32) []byte {
	b := make([]byte, 32)
	copy(b, header)
	binary.BigEndian.PutUint16(b[offProtocol:], protocol)
	binary.BigEndian.PutUint16(b[offSusyID:], susy)
	binary.BigEndian.PutUint32(b[offSerial:], serial)
	return b
}

var from = &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: Port}

func TestProbeBytes(t *testing.T) {
	p := Framing{}.Probe()
	require.Len(t, p, 20)
	assert.Equal(t, header, p[:4])

	// callers may not corrupt the template
	p[0] = 0
	assert.Equal(t, byte('S'), Framing{}.Probe()[0])
}

func TestParse(t *testing.T) {
	r, ok := Framing{}.Parse(from, reply(ProtocolMeter, 349, 3004906543))
	require.True(t, ok)
	assert.Equal(t, "energy-meter/349", r.Model)
	assert.Equal(t, "3004906543", r.Serial)
	assert.Equal(t, transport.Descriptor{Kind: transport.KindUDP, Host: "192.168.1.50", Port: Port, Serial: "3004906543"}, r.Descriptor)

	r, ok = Framing{}.Parse(from, reply(ProtocolInverter, 128, 1901234567))
	require.True(t, ok)
	assert.Equal(t, "inverter/128", r.Model)

	_, ok = Framing{}.Parse(from, reply(0x1234, 1, 1))
	assert.False(t, ok, "unknown protocol")
	_, ok = Framing{}.Parse(from, reply(ProtocolMeter, 1, 0))
	assert.False(t, ok, "no serial")
	_, ok = Framing{}.Parse(from, Framing{}.Probe())
	assert.False(t, ok, "own probe echo")
	_, ok = Framing{}.Parse(from, []byte("SMA"))
	assert.False(t, ok, "short")
}

func TestBroadcastOverLoopback(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 64)
		n, src, err := pc.ReadFrom(buf)
		if err != nil || n != len(probe) {
			return
		}
		_, _ = pc.WriteTo(reply(ProtocolMeter, 349, 42), src)
		_, _ = pc.WriteTo(reply(ProtocolMeter, 349, 42), src)
		_, _ = pc.WriteTo(reply(ProtocolInverter, 128, 43), src)
	}()

	b := &discovery.Broadcast{Addr: pc.LocalAddr().String(), Window: 200 * time.Millisecond, Framing: Framing{}}
	rep := b.Discover(context.Background())

	require.Equal(t, discovery.Completed, rep.Outcome)
	require.Len(t, rep.Results, 2)
	assert.Equal(t, "42", rep.Results[0].Serial)
	assert.Equal(t, "43", rep.Results[1].Serial)
}

func TestDiscoveryAddressesConfiguredHosts(t *testing.T) {
	m := Discovery(vendor.DiscoveryDeps{Hosts: []string{"192.168.1.50", "fd00::7"}, Window: time.Second})
	b, ok := m.(*discovery.Broadcast)
	require.True(t, ok)
	assert.Equal(t, MulticastAddr, b.Addr)
	assert.Equal(t, []string{"192.168.1.50:9522", "[fd00::7]:9522"}, b.Unicast)
}

func TestUnicastOverLoopback(t *testing.T) {
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	go func() {
		buf := make([]byte, 64)
		n, src, err := pc.ReadFrom(buf)
		if err != nil || n != len(probe) {
			return
		}
		_, _ = pc.WriteTo(reply(ProtocolInverter, 128, 77), src)
	}()

	// the group address is never answered here
	b := &discovery.Broadcast{
		Addr:    "127.0.0.1:9",
		Unicast: []string{pc.LocalAddr().String()},
		Window:  200 * time.Millisecond,
		Framing: Framing{},
	}
	rep := b.Discover(context.Background())

	require.Equal(t, discovery.Completed, rep.Outcome)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "77", rep.Results[0].Serial)
	assert.Equal(t, "127.0.0.1", rep.Results[0].Descriptor.Host)
}
