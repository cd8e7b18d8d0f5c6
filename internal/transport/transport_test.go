// internal/transport/transport_test.go
package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentity(t *testing.T) {
	tcp := Descriptor{Kind: KindTCP, Host: "10.0.0.5", Port: 502, UnitID: 255}
	assert.Equal(t, "webasto/tcp:10.0.0.5:502#255", tcp.Identity("webasto"))

	rtu := Descriptor{Kind: KindRTU, Bus: "bus0", Slave: 5}
	assert.Equal(t, "schrack/rtu:bus0@5", rtu.Identity("schrack"))

	sn := Descriptor{Kind: KindUDP, Host: "10.0.0.9", Port: 9522, Serial: "3004123456"}
	assert.Equal(t, "sma/udp:10.0.0.9:9522#0", sn.Identity("sma"), "serial is not part of the address key")
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "[fe80::1]:502", Descriptor{Host: "fe80::1", Port: 502}.Address())
}
