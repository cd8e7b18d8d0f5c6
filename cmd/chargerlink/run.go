// cmd/chargerlink/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/chargerlink/internal/config"
	"github.com/tamzrod/chargerlink/internal/host"
	"github.com/tamzrod/chargerlink/internal/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Supervise and poll every configured charger",
	Long: `Connect to every configured charger, keep its state in sync and
accept control actions over MQTT until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting chargerlink",
		zap.Int("devices", len(cfg.Devices)),
		zap.Int("buses", len(cfg.Buses)),
		zap.Bool("mqtt", cfg.MQTT.Enabled),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)

	// --------------------
	// Host notifications
	// --------------------

	notify := host.Fanout{host.LogNotifier{Log: log.Named("host")}}

	var bridge *host.MQTT
	if cfg.MQTT.Enabled {
		m, disconnect, err := host.DialMQTT(host.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.TopicPrefix,
			QoS:      byte(cfg.MQTT.QoS),
		}, log.Named("mqtt"))
		if err != nil {
			return err
		}
		defer disconnect()
		bridge = m
		notify = append(notify, m)
	}

	// --------------------
	// Metrics
	// --------------------

	var (
		col *metrics.Collector
		srv *http.Server
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if col, err = metrics.New(reg); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	// --------------------
	// Engine
	// --------------------

	pool, buses, err := buildPool(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	e, err := buildEngine(cfg, pool, buses, notify, col, log)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, d := range cfg.Devices {
		if err := e.Add(ctx, deviceConfig(d)); err != nil {
			// contained to this device
			log.Error("device not added", zap.String("device", d.ID), zap.Error(err))
		}
	}

	if bridge != nil {
		if err := bridge.Serve(e); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.Run(gctx) })
	if srv != nil {
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info("chargerlink stopped")
	return err
}
