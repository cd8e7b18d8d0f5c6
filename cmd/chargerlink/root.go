// cmd/chargerlink/root.go
package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tamzrod/chargerlink/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chargerlink",
	Short: "EV charger connectivity and state sync",
	Long: `chargerlink keeps Modbus EV chargers connected, polls their state
into a canonical model and forwards control actions to them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

// loadConfig loads, validates and normalizes the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// newLogger builds the process logger. A log file is written in
// addition to stderr.
func newLogger(c config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if c.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if c.File != "" {
		zc.OutputPaths = []string{"stderr", c.File}
		zc.ErrorOutputPaths = []string{"stderr", c.File}
	}
	return zc.Build()
}
