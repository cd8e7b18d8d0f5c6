// internal/config/validate.go
package config

import (
	"fmt"
	"strings"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	// ------------------------------------------------------------
	// AMBIENT
	// ------------------------------------------------------------

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q: want debug, info, warn or error", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q: want console or json", cfg.Logging.Format)
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}

	for name, v := range map[string]int{
		"poll.timeout_ms":                  cfg.Poll.TimeoutMs,
		"poll.probe_interval_ms":           cfg.Poll.ProbeIntervalMs,
		"poll.backoff_max_ms":              cfg.Poll.BackoffMaxMs,
		"poll.max_failures":                cfg.Poll.MaxFailures,
		"actions.timeout_ms":               cfg.Actions.TimeoutMs,
		"discovery.window_ms":              cfg.Discovery.WindowMs,
		"discovery.per_address_timeout_ms": cfg.Discovery.PerAddressTimeoutMs,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	for _, h := range cfg.Discovery.UnicastHosts {
		if strings.TrimSpace(h) == "" || strings.Contains(h, "/") {
			return fmt.Errorf("discovery.unicast_hosts: invalid host %q", h)
		}
	}

	// ------------------------------------------------------------
	// BUSES
	// ------------------------------------------------------------

	buses := make(map[string]bool)
	ports := make(map[string]string)

	for _, b := range cfg.Buses {
		if b.ID == "" {
			return fmt.Errorf("bus with port %q has no id", b.Port)
		}
		if buses[b.ID] {
			return fmt.Errorf("bus %q defined twice", b.ID)
		}
		buses[b.ID] = true

		if b.Port == "" {
			return fmt.Errorf("bus %q: port is required", b.ID)
		}
		// one master per serial line
		if prev, exists := ports[b.Port]; exists {
			return fmt.Errorf("bus %q: port %s already used by bus %q", b.ID, b.Port, prev)
		}
		ports[b.Port] = b.ID

		switch strings.ToUpper(b.Parity) {
		case "", "N", "E", "O":
		default:
			return fmt.Errorf("bus %q: parity %q: want N, E or O", b.ID, b.Parity)
		}
		if b.BaudRate < 0 || b.TimeoutMs < 0 {
			return fmt.Errorf("bus %q: baud_rate and timeout_ms must not be negative", b.ID)
		}
		if b.DataBits != 0 && (b.DataBits < 5 || b.DataBits > 8) {
			return fmt.Errorf("bus %q: data_bits %d out of range 5..8", b.ID, b.DataBits)
		}
		if b.StopBits != 0 && b.StopBits != 1 && b.StopBits != 2 {
			return fmt.Errorf("bus %q: stop_bits must be 1 or 2", b.ID)
		}
	}

	// ------------------------------------------------------------
	// DEVICES
	// ------------------------------------------------------------

	ids := make(map[string]bool)

	// key = transport address; one device per address
	owner := make(map[string]string)

	for _, d := range cfg.Devices {
		if d.ID == "" {
			return fmt.Errorf("device without id")
		}
		if strings.ContainsAny(d.ID, "/+#") {
			return fmt.Errorf("device %q: id must not contain '/', '+' or '#'", d.ID)
		}
		if ids[d.ID] {
			return fmt.Errorf("device %q defined twice", d.ID)
		}
		ids[d.ID] = true

		if d.Class == "" {
			return fmt.Errorf("device %q: class is required", d.ID)
		}

		var key string
		switch strings.ToLower(d.Transport) {
		case "tcp":
			if d.Host == "" {
				return fmt.Errorf("device %q: host is required for tcp", d.ID)
			}
			if d.Port < 0 || d.Port > 65535 {
				return fmt.Errorf("device %q: port %d out of range", d.ID, d.Port)
			}
			key = fmt.Sprintf("tcp|%s|%d|%d", d.Host, d.Port, d.UnitID)

		case "rtu":
			if !buses[d.Bus] {
				return fmt.Errorf("device %q: unknown bus %q", d.ID, d.Bus)
			}
			if d.Slave == 0 || d.Slave > 254 {
				return fmt.Errorf("device %q: slave %d out of range 1..254", d.ID, d.Slave)
			}
			key = fmt.Sprintf("rtu|%s|%d", d.Bus, d.Slave)

		default:
			return fmt.Errorf("device %q: transport %q: want tcp or rtu", d.ID, d.Transport)
		}

		if prev, exists := owner[key]; exists {
			return fmt.Errorf("address collision: devices %q and %q share %s", prev, d.ID, key)
		}
		owner[key] = d.ID
	}

	return nil
}
