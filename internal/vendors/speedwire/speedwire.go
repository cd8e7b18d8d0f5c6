// internal/vendors/speedwire/speedwire.go
package speedwire

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"net"
	"strconv"

	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

const (
	Name  = "sma"
	Class = "sma-speedwire"

	Port          = 9522
	MulticastAddr = "239.12.255.254:9522"
)

// Protocol ids at offset 16 of a reply.
const (
	ProtocolMeter    uint16 = 0x6069
	ProtocolInverter uint16 = 0x6065
)

const (
	offProtocol = 16
	offSusyID   = 18
	offSerial   = 20
	minReply    = offSerial + 4
)

var (
	header = []byte("SMA\x00")
	probe  = mustHex("534d4100000402a0ffffffff0000002000000000")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Framing is the Speedwire discovery packet format.
type Framing struct{}

func (Framing) Probe() []byte {
	out := make([]byte, len(probe))
	copy(out, probe)
	return out
}

// Parse classifies a reply as an energy meter or an inverter.
// The probe echo and unknown protocols are ignored.
func (Framing) Parse(from net.Addr, b []byte) (discovery.Result, bool) {
	if len(b) < minReply || !bytes.HasPrefix(b, header) {
		return discovery.Result{}, false
	}

	var model string
	switch binary.BigEndian.Uint16(b[offProtocol:]) {
	case ProtocolMeter:
		model = "energy-meter"
	case ProtocolInverter:
		model = "inverter"
	default:
		return discovery.Result{}, false
	}

	serial := binary.BigEndian.Uint32(b[offSerial:])
	if serial == 0 || serial == 0xffffffff {
		return discovery.Result{}, false
	}
	sn := strconv.FormatUint(uint64(serial), 10)

	host := from.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return discovery.Result{
		Descriptor: transport.Descriptor{Kind: transport.KindUDP, Host: host, Port: Port, Serial: sn},
		Vendor:     Name,
		Model:      model + "/" + strconv.Itoa(int(binary.BigEndian.Uint16(b[offSusyID:]))),
		Serial:     sn,
	}, true
}

// Discovery is the discovery-only procedure registered for Class.
// Configured hosts get the same request by unicast.
func Discovery(deps vendor.DiscoveryDeps) discovery.Method {
	unicast := make([]string, 0, len(deps.Hosts))
	for _, h := range deps.Hosts {
		unicast = append(unicast, net.JoinHostPort(h, strconv.Itoa(Port)))
	}
	return &discovery.Broadcast{
		Addr:    MulticastAddr,
		Unicast: unicast,
		Window:  deps.Window,
		Framing: Framing{},
		Log:     deps.Log,
	}
}
