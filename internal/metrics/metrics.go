// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tamzrod/chargerlink/internal/discovery"
	"github.com/tamzrod/chargerlink/internal/fault"
	"github.com/tamzrod/chargerlink/internal/status"
)

const namespace = "chargerlink"

// Collector holds the engine's Prometheus series.
// A nil *Collector is valid and records nothing.
type Collector struct {
	polls      *prometheus.CounterVec
	skips      *prometheus.CounterVec
	link       *prometheus.GaugeVec
	rejections *prometheus.CounterVec
	actions    *prometheus.CounterVec
	discovery  *prometheus.CounterVec
}

// New creates and registers every series on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Poll cycles by device and result.",
		}, []string{"device", "result"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_skipped_total",
			Help:      "Ticks skipped because the previous cycle was still running.",
		}, []string{"device"}),
		link: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_link_state",
			Help:      "1 for the current link state of each device.",
		}, []string{"device", "state"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quirk_rejections_total",
			Help:      "Readings rejected as implausible.",
		}, []string{"signal", "reason"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Resolved control actions by outcome.",
		}, []string{"outcome"}),
		discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_runs_total",
			Help:      "Discovery runs by class and outcome.",
		}, []string{"class", "outcome"}),
	}

	for _, col := range []prometheus.Collector{c.polls, c.skips, c.link, c.rejections, c.actions, c.discovery} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Handler serves the series gathered from g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (c *Collector) PollCycle(device string, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = fault.KindOf(err).String()
	}
	c.polls.WithLabelValues(device, result).Inc()
}

func (c *Collector) CycleSkipped(device string) {
	if c == nil {
		return
	}
	c.skips.WithLabelValues(device).Inc()
}

// LinkChanged moves the device's 1 to the new state.
func (c *Collector) LinkChanged(device string, from, to status.Link) {
	if c == nil {
		return
	}
	c.link.WithLabelValues(device, from.String()).Set(0)
	c.link.WithLabelValues(device, to.String()).Set(1)
}

func (c *Collector) QuirkRejected(signal, reason string) {
	if c == nil {
		return
	}
	c.rejections.WithLabelValues(signal, reason).Inc()
}

func (c *Collector) ActionResolved(kind fault.Kind) {
	if c == nil {
		return
	}
	c.actions.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) Discovery(class string, outcome discovery.Outcome) {
	if c == nil {
		return
	}
	c.discovery.WithLabelValues(class, outcome.String()).Inc()
}

// Forget drops the per-device series of a removed device.
func (c *Collector) Forget(device string) {
	if c == nil {
		return
	}
	labels := prometheus.Labels{"device": device}
	c.polls.DeletePartialMatch(labels)
	c.skips.DeletePartialMatch(labels)
	c.link.DeletePartialMatch(labels)
}
