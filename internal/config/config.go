// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CHARGERLINK_MQTT_BROKER.
const EnvPrefix = "CHARGERLINK"

type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Poll      PollConfig      `mapstructure:"poll"`
	Actions   ActionsConfig   `mapstructure:"actions"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Buses     []BusConfig     `mapstructure:"buses"`
	Devices   []DeviceConfig  `mapstructure:"devices"`
}

// ---- AMBIENT ----

type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug | info | warn | error
	Format string `mapstructure:"format"` // console | json
	File   string `mapstructure:"file"`   // optional, in addition to stderr
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"` // tcp://host:1883
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ---- ENGINE ----

type PollConfig struct {
	MaxFailures     int `mapstructure:"max_failures"`
	TimeoutMs       int `mapstructure:"timeout_ms"`
	ProbeIntervalMs int `mapstructure:"probe_interval_ms"`
	BackoffMaxMs    int `mapstructure:"backoff_max_ms"`
}

type ActionsConfig struct {
	TimeoutMs int `mapstructure:"timeout_ms"`
}

type DiscoveryConfig struct {
	WindowMs            int `mapstructure:"window_ms"`
	PerAddressTimeoutMs int `mapstructure:"per_address_timeout_ms"`

	// UnicastHosts are addressed directly by broadcast discovery.
	UnicastHosts []string `mapstructure:"unicast_hosts"`
}

// ---- BUS ----

// BusConfig is one serial RTU master shared by its slaves.
type BusConfig struct {
	ID        string `mapstructure:"id"`
	Port      string `mapstructure:"port"`
	BaudRate  int    `mapstructure:"baud_rate"`
	DataBits  int    `mapstructure:"data_bits"`
	StopBits  int    `mapstructure:"stop_bits"`
	Parity    string `mapstructure:"parity"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ID    string `mapstructure:"id"`
	Class string `mapstructure:"class"`

	// Transport is tcp or rtu.
	Transport string `mapstructure:"transport"`

	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	UnitID uint8  `mapstructure:"unit_id"`

	Bus   string `mapstructure:"bus"`
	Slave uint8  `mapstructure:"slave"`

	Settings map[string]string `mapstructure:"settings"`
}

// Ms converts a millisecond setting.
func Ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// Load reads path, or config.yaml from the usual places when path is
// empty, over the defaults and CHARGERLINK_* environment overrides.
// It does not validate.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.chargerlink")
		v.AddConfigPath("/etc/chargerlink")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "chargerlink")
	v.SetDefault("mqtt.topic_prefix", "chargerlink")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9464")

	v.SetDefault("poll.max_failures", 3)
	v.SetDefault("poll.timeout_ms", 5000)
	v.SetDefault("poll.probe_interval_ms", 10000)
	v.SetDefault("poll.backoff_max_ms", 60000)

	v.SetDefault("actions.timeout_ms", 10000)

	v.SetDefault("discovery.window_ms", 3000)
	v.SetDefault("discovery.per_address_timeout_ms", 300)
}
