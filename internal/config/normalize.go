// internal/config/normalize.go
package config

import "strings"

// Serial line defaults of the supported wallboxes.
const (
	DefaultBaudRate   = 57600
	DefaultDataBits   = 8
	DefaultStopBits   = 1
	DefaultParity     = "N"
	DefaultBusTimeout = 1000
	DefaultModbusPort = 502
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")

	for i := range cfg.Buses {
		b := &cfg.Buses[i]
		if b.BaudRate == 0 {
			b.BaudRate = DefaultBaudRate
		}
		if b.DataBits == 0 {
			b.DataBits = DefaultDataBits
		}
		if b.StopBits == 0 {
			b.StopBits = DefaultStopBits
		}
		if b.Parity == "" {
			b.Parity = DefaultParity
		}
		b.Parity = strings.ToUpper(b.Parity)
		if b.TimeoutMs == 0 {
			b.TimeoutMs = DefaultBusTimeout
		}
	}

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		d.Transport = strings.ToLower(d.Transport)
		if d.Transport == "tcp" && d.Port == 0 {
			d.Port = DefaultModbusPort
		}
		if d.Settings == nil {
			d.Settings = map[string]string{}
		}
	}
}
