// Package metrics records collection run counters in a private Prometheus
// registry. A run is a batch job, so metrics are exported by writing a
// textfile for the node_exporter textfile collector rather than serving HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventcollector"

// Collector is nil-safe: every method on a nil *Collector is a no-op so
// components can be used without metrics.
type Collector struct {
	registry *prometheus.Registry

	fetchAttempts  *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	fetchFailures  prometheus.Counter
	sourcesSkipped *prometheus.CounterVec
	added          prometheus.Counter
	skipped        prometheus.Counter
	removed        prometheus.Counter
	runDuration    prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// New creates a Collector with all metrics registered.
func New() *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}
	c.fetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_attempts_total",
		Help:      "Page fetch attempts by method (static or browser)",
	}, []string{"method"})
	c.escalations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_escalations_total",
		Help:      "Escalations from static fetch to browser rendering by reason",
	}, []string{"reason"})
	c.fetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Fetches that ended in a failure result",
	})
	c.sourcesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sources_skipped_total",
		Help:      "Sources skipped during a run by stage",
	}, []string{"stage"})
	c.added = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_added_total",
		Help:      "Events added to the dataset",
	})
	c.skipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_skipped_duplicates_total",
		Help:      "Events discarded as duplicates",
	})
	c.removed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_removed_expired_total",
		Help:      "Events pruned as expired",
	})
	c.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last collection run",
	})
	c.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last run that persisted successfully",
	})
	c.registry.MustRegister(
		c.fetchAttempts, c.escalations, c.fetchFailures, c.sourcesSkipped,
		c.added, c.skipped, c.removed, c.runDuration, c.lastSuccess,
	)
	return c
}

// Registry exposes the underlying registry, e.g. for tests or a push gateway.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) FetchAttempt(method string) {
	if c == nil {
		return
	}
	c.fetchAttempts.WithLabelValues(method).Inc()
}

func (c *Collector) FetchEscalation(reason string) {
	if c == nil {
		return
	}
	c.escalations.WithLabelValues(reason).Inc()
}

func (c *Collector) FetchFailure() {
	if c == nil {
		return
	}
	c.fetchFailures.Inc()
}

func (c *Collector) SourceSkipped(stage string) {
	if c == nil {
		return
	}
	c.sourcesSkipped.WithLabelValues(stage).Inc()
}

// Persisted adds the counters of one store write.
func (c *Collector) Persisted(added, skipped, removed int) {
	if c == nil {
		return
	}
	c.added.Add(float64(added))
	c.skipped.Add(float64(skipped))
	c.removed.Add(float64(removed))
}

// RunFinished records the run duration and, when ok, the success time.
func (c *Collector) RunFinished(d time.Duration, ok bool, now time.Time) {
	if c == nil {
		return
	}
	c.runDuration.Set(d.Seconds())
	if ok {
		c.lastSuccess.Set(float64(now.Unix()))
	}
}

// WriteTextfile writes all metrics in text exposition format to path. The
// file is written to a temp file and renamed, as node_exporter expects.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
