package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors shared by the orchestration core.
type Metrics struct {
	RequestCount      *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	GenerationLatency *prometheus.HistogramVec
	Fallbacks         *prometheus.CounterVec
	RetrievalTimeouts prometheus.Counter
	DegradedSteps     *prometheus.CounterVec
	IndexSize         prometheus.Gauge
	Consolidations    prometheus.Counter
}

// New registers all collectors on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated from the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestCount: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tutor_request_duration_seconds",
				Help: "HTTP request duration in seconds",
			},
			[]string{"method", "endpoint"},
		),
		GenerationLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tutor_generation_latency_seconds",
				Help: "Provider completion latency in seconds",
			},
			[]string{"provider"},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_provider_fallbacks_total",
				Help: "Generation calls that fell back to the fallback provider",
			},
			[]string{"from", "to"},
		),
		RetrievalTimeouts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tutor_retrieval_timeouts_total",
				Help: "Vector index calls that exceeded their deadline",
			},
		),
		DegradedSteps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tutor_degraded_steps_total",
				Help: "Non-fatal pipeline steps that failed and were skipped",
			},
			[]string{"step"},
		),
		IndexSize: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tutor_index_chunks",
				Help: "Number of content chunks in the vector index",
			},
		),
		Consolidations: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tutor_memory_consolidations_total",
				Help: "Total number of memory consolidation steps",
			},
		),
	}
}

// RecordFallback satisfies provider.FallbackRecorder.
func (m *Metrics) RecordFallback(from, to string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(from, to).Inc()
}
