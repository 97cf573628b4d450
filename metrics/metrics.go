// Package metrics exposes client-side prometheus collectors. How the host
// application serves or pushes them is its own concern; the SDK only
// records.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Refresh outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeRetried     = "retried"
	OutcomeTerminal    = "terminal"
)

// Metrics holds the SDK collectors. A nil *Metrics is a valid no-op
// recorder, so wiring metrics stays optional.
type Metrics struct {
	registry *prometheus.Registry

	refreshAttempts   *prometheus.CounterVec
	refreshDuration   prometheus.Histogram
	queuedRequests    prometheus.Gauge
	reconnectAttempts *prometheus.CounterVec
	openChannels      prometheus.Gauge
}

// New creates and registers the SDK collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		refreshAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketbay",
			Subsystem: "auth",
			Name:      "refresh_attempts_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "marketbay",
			Subsystem: "auth",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of token refresh calls.",
			Buckets:   prometheus.DefBuckets,
		}),
		queuedRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketbay",
			Subsystem: "auth",
			Name:      "queued_requests",
			Help:      "Requests waiting on an in-flight refresh.",
		}),
		reconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "marketbay",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Channel reconnect attempts.",
		}, []string{"channel"}),
		openChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "marketbay",
			Subsystem: "realtime",
			Name:      "open_channels",
			Help:      "Currently open realtime channels.",
		}),
	}

	m.registry.MustRegister(
		m.refreshAttempts,
		m.refreshDuration,
		m.queuedRequests,
		m.reconnectAttempts,
		m.openChannels,
	)

	return m
}

// Registry returns the registry for the host application to serve.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRefresh records one refresh attempt.
func (m *Metrics) ObserveRefresh(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshAttempts.WithLabelValues(outcome).Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

// QueuedRequestAdded records a request entering the refresh queue.
func (m *Metrics) QueuedRequestAdded() {
	if m == nil {
		return
	}
	m.queuedRequests.Inc()
}

// QueuedRequestDone records a queued request leaving the queue.
func (m *Metrics) QueuedRequestDone() {
	if m == nil {
		return
	}
	m.queuedRequests.Dec()
}

// ReconnectAttempt records one reconnect attempt on a channel.
func (m *Metrics) ReconnectAttempt(channel string) {
	if m == nil {
		return
	}
	m.reconnectAttempts.WithLabelValues(channel).Inc()
}

// ChannelOpened records a channel transitioning to open.
func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.openChannels.Inc()
}

// ChannelClosed records a channel closing.
func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.openChannels.Dec()
}
