// cmd/chargerlink/wire.go
package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/config"
	"github.com/tamzrod/chargerlink/internal/engine"
	"github.com/tamzrod/chargerlink/internal/host"
	"github.com/tamzrod/chargerlink/internal/metrics"
	"github.com/tamzrod/chargerlink/internal/reachability"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/transport/modbus"
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/vendors/mennekes"
	"github.com/tamzrod/chargerlink/internal/vendors/webasto"
)

// buildPool opens no ports; buses are attached on first use.
func buildPool(cfg *config.Config, log *zap.Logger) (*modbus.Pool, map[string]vendor.BusProber, error) {
	pool := modbus.NewPool(config.Ms(cfg.Poll.TimeoutMs), log.Named("modbus"))
	buses := make(map[string]vendor.BusProber, len(cfg.Buses))

	for _, b := range cfg.Buses {
		err := pool.AddBus(modbus.BusConfig{
			ID:       b.ID,
			Port:     b.Port,
			BaudRate: b.BaudRate,
			DataBits: b.DataBits,
			StopBits: b.StopBits,
			Parity:   b.Parity,
			Timeout:  config.Ms(b.TimeoutMs),
		})
		if err != nil {
			_ = pool.Close()
			return nil, nil, fmt.Errorf("bus %s: %w", b.ID, err)
		}
		bus, _ := pool.Bus(b.ID)
		buses[b.ID] = bus
	}
	return pool, buses, nil
}

func buildEngine(cfg *config.Config, pool *modbus.Pool, buses map[string]vendor.BusProber, notify host.Notifier, col *metrics.Collector, log *zap.Logger) (*engine.Engine, error) {
	reg, err := engine.Builtin()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Registry:          reg,
		Dialer:            pool,
		Buses:             buses,
		Notifier:          notify,
		Metrics:           col,
		Log:               log.Named("engine"),
		MaxFailures:       cfg.Poll.MaxFailures,
		RequestTimeout:    config.Ms(cfg.Poll.TimeoutMs),
		ActionTimeout:     config.Ms(cfg.Actions.TimeoutMs),
		Backoff:           reachability.BackoffConfig{Max: config.Ms(cfg.Poll.BackoffMaxMs)},
		ProbeInterval:     config.Ms(cfg.Poll.ProbeIntervalMs),
		DiscoveryWindow:   config.Ms(cfg.Discovery.WindowMs),
		PerAddressTimeout: config.Ms(cfg.Discovery.PerAddressTimeoutMs),
		DiscoveryHosts:    cfg.Discovery.UnicastHosts,
	})
}

func deviceConfig(d config.DeviceConfig) engine.DeviceConfig {
	return engine.DeviceConfig{
		ID:         d.ID,
		Class:      d.Class,
		Descriptor: descriptor(d),
		Settings:   vendor.Settings(d.Settings),
	}
}

func descriptor(d config.DeviceConfig) transport.Descriptor {
	if d.Transport == "rtu" {
		return transport.Descriptor{Kind: transport.KindRTU, Bus: d.Bus, Slave: d.Slave}
	}
	unit := d.UnitID
	if unit == 0 {
		switch d.Class {
		case webasto.Class, webasto.LiveClass:
			unit = webasto.DefaultUnitID
		case mennekes.ClassECU, mennekes.ClassHCC3:
			unit = mennekes.DefaultUnitID
		}
	}
	return transport.Descriptor{Kind: transport.KindTCP, Host: d.Host, Port: d.Port, UnitID: unit}
}
