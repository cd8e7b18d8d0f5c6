// internal/engine/device.go
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/tamzrod/chargerlink/internal/metrics"
	"github.com/tamzrod/chargerlink/internal/poller"
	"github.com/tamzrod/chargerlink/internal/quirk"
	"github.com/tamzrod/chargerlink/internal/reachability"
	"github.com/tamzrod/chargerlink/internal/state"
	"github.com/tamzrod/chargerlink/internal/supervisor"
	"github.com/tamzrod/chargerlink/internal/transport"
	"github.com/tamzrod/chargerlink/internal/vendors"
	"github.com/tamzrod/chargerlink/internal/writer"
)

// device is one configured charger and its update path.
// It is the scheduler's Subscriber.
type device struct {
	id       string
	cfg      DeviceConfig
	identity string

	adapter  vendor.Adapter
	store    *state.Store
	filter   *quirk.Filter
	poller   *poller.Poller
	sup      *supervisor.Supervisor
	presence reachability.Monitor
	sched    *poller.Scheduler
	setup    writer.Sequence

	log     *zap.Logger
	metrics *metrics.Collector

	// ctx ends at removal.
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *device) ID() string  { return d.id }
func (d *device) Ready() bool { return d.sup.Reachable() }

// Cycle is one update: poll, decode, filter, translate, store, then the
// adapter's housekeeping writes. A failed poll leaves state untouched.
func (d *device) Cycle(ctx context.Context) {
	var res poller.PollResult
	err := d.sup.Do(ctx, func(ctx context.Context, _ transport.Conn) error {
		res = d.poller.PollOnce(ctx)
		return res.Err
	})
	d.metrics.PollCycle(d.id, err)
	if err != nil {
		d.log.Debug("poll cycle failed", zap.Error(err))
		return
	}

	readings, errs := d.adapter.Registers().DecodeAll(res.Words)
	for _, err := range errs {
		d.log.Debug("decode failed", zap.Error(err))
	}

	readings = d.filter.Apply(readings, d.store)
	updates := d.adapter.Translate(readings, d.store)
	after := d.adapter.AfterCycle(readings, d.store)

	if n := d.store.Apply(updates...); n > 0 {
		d.log.Debug("state updated", zap.Int("changes", n))
	}

	if len(after) > 0 {
		if err := d.write(ctx, after); err != nil {
			d.log.Warn("housekeeping write failed", zap.Error(err))
		}
	}
}

// write runs a sequence through the supervisor.
func (d *device) write(ctx context.Context, seq writer.Sequence) error {
	return d.sup.Do(ctx, func(ctx context.Context, conn transport.Conn) error {
		return writer.New(conn, d.log.Named("writer")).Run(ctx, seq)
	})
}

// watch feeds presence edges to the supervisor until removal.
func (d *device) watch() {
	for present := range d.presence.Watch(d.ctx) {
		d.sup.OnReachability(d.ctx, present)
	}
}
