// cmd/chargerlink/wire_test.go
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/chargerlink/internal/config"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/engine"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors/mennekes"
	"github.com/tamzrod/chargerlink/internal/vendors/schrack"
	"github.com/tamzrod/chargerlink/internal/vendors/webasto"
)

func TestDescriptor(t *testing.T) {
	d := descriptor(config.DeviceConfig{Class: webasto.Class, Transport: "tcp", Host: "10.0.0.7", Port: 502})
	assert.Equal(t, transport.KindTCP, d.Kind)
	assert.Equal(t, uint8(webasto.DefaultUnitID), d.UnitID)

	d = descriptor(config.DeviceConfig{Class: webasto.Class, Transport: "tcp", Host: "10.0.0.7", Port: 502, UnitID: 3})
	assert.Equal(t, uint8(3), d.UnitID)

	d = descriptor(config.DeviceConfig{Class: mennekes.ClassHCC3, Transport: "tcp", Host: "10.0.0.8", Port: 502})
	assert.Equal(t, uint8(mennekes.DefaultUnitID), d.UnitID)

	d = descriptor(config.DeviceConfig{Class: schrack.Class, Transport: "rtu", Bus: "bus0", Slave: 4})
	assert.Equal(t, transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 4}, d)
}

func TestMarkConfigured(t *testing.T) {
	reg, err := engine.Builtin()
	require.NoError(t, err)

	devices := []config.DeviceConfig{
		{ID: "garage", Class: schrack.Class, Transport: "rtu", Bus: "bus0", Slave: 4},
		{ID: "ghost", Class: "unknown", Transport: "rtu", Bus: "bus0", Slave: 5},
	}
	results := []discovery.Result{
		{Vendor: schrack.Name, Descriptor: transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 4}},
		{Vendor: schrack.Name, Descriptor: transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 5}},
		{Vendor: schrack.Name, Descriptor: transport.Descriptor{Kind: transport.KindRTU, Bus: "bus0", Slave: 6}, ExistingID: "kept"},
	}

	markConfigured(results, devices, reg)

	assert.Equal(t, "garage", results[0].ExistingID)
	assert.Empty(t, results[1].ExistingID)
	assert.Equal(t, "kept", results[2].ExistingID)
}

func TestDash(t *testing.T) {
	assert.Equal(t, "-", dash(" "))
	assert.Equal(t, "1.2", dash("1.2"))
}
