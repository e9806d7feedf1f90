// Package metrics exposes Prometheus collectors for the swipe engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Swipe outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Collector holds the application metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	Swipes            *prometheus.CounterVec
	SwipeDuration     prometheus.Histogram
	MatchesFormed     prometheus.Counter
	SessionsStarted   prometheus.Counter
	SessionsFinished  *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	DroppedBroadcasts prometheus.Counter
	LiveConnections   prometheus.Gauge
	ReconciledMatches prometheus.Counter
}

// NewCollector creates and registers the collectors under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		Swipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swipes_total",
			Help:      "Swipes received, by direction and outcome",
		}, []string{"direction", "outcome"}),
		SwipeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "swipe_duration_seconds",
			Help:      "Time to apply one swipe",
			Buckets:   prometheus.DefBuckets,
		}),
		MatchesFormed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_formed_total",
			Help:      "Matches created",
		}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Sessions started",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached a terminal status",
		}, []string{"status"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Events broadcast to group rooms, by type",
		}, []string{"type"}),
		DroppedBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_broadcasts_total",
			Help:      "Room messages dropped because the hub queue was full or stopped",
		}),
		LiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open websocket connections",
		}),
		ReconciledMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_matches_total",
			Help:      "Matches formed while rebuilding a tally from the swipe log",
		}),
	}

	registry.MustRegister(
		c.Swipes,
		c.SwipeDuration,
		c.MatchesFormed,
		c.SessionsStarted,
		c.SessionsFinished,
		c.Broadcasts,
		c.DroppedBroadcasts,
		c.LiveConnections,
		c.ReconciledMatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveSwipe records one swipe attempt.
func (c *Collector) ObserveSwipe(direction, outcome string, started time.Time) {
	c.Swipes.WithLabelValues(direction, outcome).Inc()
	c.SwipeDuration.Observe(time.Since(started).Seconds())
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
