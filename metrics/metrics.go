// Package metrics provides Prometheus metrics for the conversation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Query outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeReported  = "reported_failure"
	OutcomeTransport = "transport_failure"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	QueriesTotal        *prometheus.CounterVec
	QueryDuration       prometheus.Histogram
	UploadsTotal        *prometheus.CounterVec
	ChartRendersTotal   *prometheus.CounterVec
	AudioFailuresTotal  prometheus.Counter
	ActiveConversations prometheus.Gauge
}

// New creates and registers all metrics on a fresh registry, together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QueriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_queries_total",
				Help: "Total number of submitted queries by outcome",
			},
			[]string{"outcome"},
		),
		QueryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "analyst_query_duration_seconds",
				Help:    "Duration of backend queries in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_uploads_total",
				Help: "Total number of file uploads by kind and status",
			},
			[]string{"kind", "status"},
		),
		ChartRendersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analyst_chart_renders_total",
				Help: "Total number of charts rendered by kind",
			},
			[]string{"kind"},
		),
		AudioFailuresTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "analyst_audio_failures_total",
				Help: "Total number of audio decode or playback failures",
			},
		),
		ActiveConversations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "analyst_active_conversations",
				Help: "Number of open conversations",
			},
		),
	}
}

func (m *Metrics) RecordQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordUpload(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.UploadsTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordChartRender(kind string) {
	if m == nil {
		return
	}
	m.ChartRendersTotal.WithLabelValues(kind).Inc()
}

// AudioFailed matches the audio adapter's failure hook signature.
func (m *Metrics) AudioFailed(error) {
	if m == nil {
		return
	}
	m.AudioFailuresTotal.Inc()
}

func (m *Metrics) ConversationOpened() {
	if m == nil {
		return
	}
	m.ActiveConversations.Inc()
}

func (m *Metrics) ConversationClosed() {
	if m == nil {
		return
	}
	m.ActiveConversations.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
