// Package metrics exposes sync client counters to Prometheus.
//
// A nil *Collector is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "statsync"

// Collector is a prometheus.Collector for the sync client.
type Collector struct {
	connectionState  *prometheus.GaugeVec
	generation       prometheus.Gauge
	reconnects       prometheus.Counter
	probeLatency     prometheus.Histogram
	probesMissed     prometheus.Counter
	frames           *prometheus.CounterVec
	protocolFailures *prometheus.CounterVec
	cacheWrites      *prometheus.CounterVec
	pulls            *prometheus.CounterVec
	pullLatency      *prometheus.HistogramVec
	mountedViews     prometheus.Gauge
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		connectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connection_state",
				Help:      "Push connection state; the current state is 1.",
			}, []string{"state"},
		),
		generation: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "connection_generation",
				Help:      "Current push connection generation.",
			},
		),
		reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "reconnects_total",
				Help:      "Reconnect attempts scheduled after a failed or closed connection.",
			},
		),
		probeLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "probe_latency_seconds",
				Help:      "Round trip time of health probes.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		probesMissed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "probes_missed_total",
				Help:      "Health probes not acknowledged before the next was due.",
			},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "frames_total",
				Help:      "Push frames by direction and type.",
			}, []string{"direction", "type"},
		),
		protocolFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "protocol_failures_total",
				Help:      "Inbound frames discarded, by reason.",
			}, []string{"reason"},
		),
		cacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "cache_writes_total",
				Help:      "Cache writes by provenance and outcome.",
			}, []string{"provenance", "outcome"},
		),
		pulls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pulls_total",
				Help:      "Pull requests by view kind and result.",
			}, []string{"kind", "result"},
		),
		pullLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "pull_duration_seconds",
				Help:      "Pull request duration.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			}, []string{"kind"},
		),
		mountedViews: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "mounted_views",
				Help:      "Views currently mounted by consumers.",
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.connectionState.Describe(ch)
	c.generation.Describe(ch)
	c.reconnects.Describe(ch)
	c.probeLatency.Describe(ch)
	c.probesMissed.Describe(ch)
	c.frames.Describe(ch)
	c.protocolFailures.Describe(ch)
	c.cacheWrites.Describe(ch)
	c.pulls.Describe(ch)
	c.pullLatency.Describe(ch)
	c.mountedViews.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.connectionState.Collect(ch)
	c.generation.Collect(ch)
	c.reconnects.Collect(ch)
	c.probeLatency.Collect(ch)
	c.probesMissed.Collect(ch)
	c.frames.Collect(ch)
	c.protocolFailures.Collect(ch)
	c.cacheWrites.Collect(ch)
	c.pulls.Collect(ch)
	c.pullLatency.Collect(ch)
	c.mountedViews.Collect(ch)
}

// ConnectionState marks state as the current connection state.
func (c *Collector) ConnectionState(state string) {
	if c == nil {
		return
	}
	c.connectionState.Reset()
	c.connectionState.WithLabelValues(state).Set(1)
}

// Generation records the current connection generation.
func (c *Collector) Generation(gen uint64) {
	if c == nil {
		return
	}
	c.generation.Set(float64(gen))
}

// Reconnect counts a scheduled reconnect.
func (c *Collector) Reconnect() {
	if c == nil {
		return
	}
	c.reconnects.Inc()
}

// ProbeLatency records one acknowledged probe.
func (c *Collector) ProbeLatency(d time.Duration) {
	if c == nil {
		return
	}
	c.probeLatency.Observe(d.Seconds())
}

// ProbeMissed counts one unacknowledged probe.
func (c *Collector) ProbeMissed() {
	if c == nil {
		return
	}
	c.probesMissed.Inc()
}

// Frame counts one push frame.
func (c *Collector) Frame(direction, frameType string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(direction, frameType).Inc()
}

// ProtocolFailure counts one discarded inbound frame.
func (c *Collector) ProtocolFailure(reason string) {
	if c == nil {
		return
	}
	c.protocolFailures.WithLabelValues(reason).Inc()
}

// CacheWrite counts one cache write decision.
func (c *Collector) CacheWrite(provenance string, accepted bool) {
	if c == nil {
		return
	}
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	c.cacheWrites.WithLabelValues(provenance, outcome).Inc()
}

// Pull records one pull request.
func (c *Collector) Pull(kind, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.pulls.WithLabelValues(kind, result).Inc()
	c.pullLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// MountedViews records the number of mounted views.
func (c *Collector) MountedViews(n int) {
	if c == nil {
		return
	}
	c.mountedViews.Set(float64(n))
}

var _ prometheus.Collector = (*Collector)(nil)
