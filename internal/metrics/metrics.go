// ABOUTME: Prometheus collectors for presence, routing, bot and persistence activity
// ABOUTME: A nil *Metrics is valid and records nothing

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parlor"

// Delivery outcomes.
const (
	DeliveredLive = "live"
	DeliveredMail = "queued"
	DeliveryFail  = "failed"
)

// Metrics owns a private registry so several gateways can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	frames       *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	duplicates   prometheus.Counter
	botLatency   prometheus.Histogram
	persistFails *prometheus.CounterVec
}

// New creates the collectors. liveSessions is sampled on every scrape.
func New(liveSessions func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Message deliveries by outcome.",
		}, []string{"outcome"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_sends_total",
			Help:      "Client retries dropped by client_msg_id.",
		}),
		botLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bot_reply_seconds",
			Help:      "Time taken to produce a bot reply.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		persistFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Failed snapshot writes by document.",
		}, []string{"document"}),
	}

	m.registry.MustRegister(
		m.frames,
		m.deliveries,
		m.duplicates,
		m.botLatency,
		m.persistFails,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if liveSessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions",
			Help:      "Identities with a live connection.",
		}, func() float64 { return float64(liveSessions()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(frameType).Inc()
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DuplicateSend() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) BotReply(took time.Duration) {
	if m == nil {
		return
	}
	m.botLatency.Observe(took.Seconds())
}

// PersistFailed matches store.Writer's OnError hook.
func (m *Metrics) PersistFailed(document string, _ error) {
	if m == nil {
		return
	}
	m.persistFails.WithLabelValues(document).Inc()
}
