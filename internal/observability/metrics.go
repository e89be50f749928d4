package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	TurnOutcomes      *prometheus.CounterVec
	SubmitRejections  *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	SentenceUnits     prometheus.Counter
	SpeakingSessions  prometheus.Gauge
	StreamFailures    prometheus.Counter
	FirstSpeakLatency prometheus.Histogram

	stages *latencyWindow
}

// NewMetrics registers all instruments under namespace. perfWindowSamples
// sizes the rolling latency window; non-positive falls back to the default.
func NewMetrics(namespace string, perfWindowSamples int) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live tutoring sessions.",
		}),
		TurnOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Finished turns by outcome.",
		}, []string{"outcome", "channel"}),
		SubmitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_rejections_total",
			Help:      "Rejected input events by reason.",
		}, []string{"reason"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		SentenceUnits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentence_units_total",
			Help:      "Speakable units dispatched to renderers.",
		}),
		SpeakingSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaking_sessions",
			Help:      "Sessions with an utterance currently being rendered.",
		}),
		StreamFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_failures_total",
			Help:      "Model streams that ended in an error.",
		}),
		FirstSpeakLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_speak_latency_ms",
			Help:      "Latency from turn acceptance to the first unit handed to the renderer, in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		stages: newLatencyWindow(perfWindowSamples),
	}
}

func (m *Metrics) ObserveFirstSpeakLatency(d time.Duration) {
	m.FirstSpeakLatency.Observe(float64(d.Milliseconds()))
	m.ObserveTurnStage(StageAcceptToFirstSpeak, d)
}

// ObserveTurnStage records one stage duration into the rolling perf window.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

// ObserveTurnIndicator bumps a named counter in the rolling perf window.
func (m *Metrics) ObserveTurnIndicator(name string) {
	m.stages.ObserveCounter(name)
}

// SnapshotTurnStages serves the perf endpoint.
func (m *Metrics) SnapshotTurnStages() PerfSnapshot {
	return m.stages.Snapshot()
}

func (m *Metrics) ResetTurnStages() {
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
