// cmd/chargerlink/discover.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/config"
	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/engine"
	"github.com/tamzrod/chargerlink/internal/vendors"
)

var discoverWindow time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover [class]",
	Short: "Look for chargers of a device class",
	Long: `Run the discovery procedure of a device class once and print the
candidates. Configured devices are marked but never supervised.
Without a class the discoverable classes are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverWindow, "window", 0, "listening window for broadcast and mDNS discovery")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if discoverWindow > 0 {
		cfg.Discovery.WindowMs = int(discoverWindow / time.Millisecond)
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	pool, buses, err := buildPool(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = pool.Close() }()

	reg, err := engine.Builtin()
	if err != nil {
		return err
	}
	e, err := buildEngine(cfg, pool, buses, nil, nil, log)
	if err != nil {
		return err
	}
	defer e.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		for _, c := range e.DiscoveryClasses() {
			fmt.Fprintln(out, c)
		}
		return nil
	}
	class := args[0]

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rep := e.Discover(ctx, class)
	markConfigured(rep.Results, cfg.Devices, reg)

	if rep.Outcome == discovery.TransportUnavailable {
		return rep.Err
	}
	if rep.Err != nil {
		log.Warn("discovery incomplete", zap.String("class", class), zap.Error(rep.Err))
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VENDOR\tMODEL\tADDRESS\tSERIAL\tFIRMWARE\tCONFIGURED")
	for _, r := range rep.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Vendor, dash(r.Model), r.Descriptor, dash(r.Serial), dash(r.Firmware), dash(r.ExistingID))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s: %d candidate(s)\n", rep.Outcome, len(rep.Results))
	return nil
}

// markConfigured matches candidates against configured devices by
// vendor+address identity.
func markConfigured(results []discovery.Result, devices []config.DeviceConfig, reg *vendor.Registry) {
	ids := make(map[string]string, len(devices))
	for _, d := range devices {
		a, ok := reg.Adapter(d.Class)
		if !ok {
			continue
		}
		ids[descriptor(d).Identity(a.Name())] = d.ID
	}
	for i := range results {
		if results[i].ExistingID != "" {
			continue
		}
		if id, ok := ids[results[i].Identity()]; ok {
			results[i].ExistingID = id
		}
	}
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
