package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	SessionEvents     *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	GenerationLatency prometheus.Histogram
	ProviderErrors    *prometheus.CounterVec
	Insights          *prometheus.CounterVec
	PatternUpserts    *prometheus.CounterVec
	WriteErrors       *prometheus.CounterVec
	RiskAssessments   *prometheus.CounterVec
	Alerts            *prometheus.CounterVec
	ChannelDeliveries *prometheus.CounterVec
	FatalEscalation   prometheus.Counter
	EventsPublished   *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open counseling sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Processed turns by outcome.",
		}, []string{"outcome"}),
		GenerationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_ms",
			Help:      "Latency of the language-generation call in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Generation provider errors by provider and code.",
		}, []string{"provider", "code"}),
		Insights: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_total",
			Help:      "Extracted insights by memory type.",
		}, []string{"type"}),
		PatternUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_upserts_total",
			Help:      "Emotional pattern upserts by pattern type.",
		}, []string{"pattern_type"}),
		WriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Repository write failures by operation.",
		}, []string{"op"}),
		RiskAssessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_assessments_total",
			Help:      "Risk evaluations by band.",
		}, []string{"band"}),
		Alerts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crisis_alerts_total",
			Help:      "Crisis alerts by severity and final status.",
		}, []string{"severity", "status"}),
		ChannelDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Escalation channel deliveries by channel and status.",
		}, []string{"channel", "status"}),
		FatalEscalation: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalation_config_errors_total",
			Help:      "Alerts that could not be dispatched because no channel is configured.",
		}),
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Engine events by type.",
		}, []string{"type"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by stream and outcome.",
		}, []string{"stream", "outcome"}),
		stages: newStageWindow(512),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) TurnOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Insight(memoryType string) {
	if m == nil {
		return
	}
	m.Insights.WithLabelValues(memoryType).Inc()
}

func (m *Metrics) PatternUpsert(patternType string) {
	if m == nil {
		return
	}
	m.PatternUpserts.WithLabelValues(patternType).Inc()
}

func (m *Metrics) WriteError(op string) {
	if m == nil {
		return
	}
	m.WriteErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) RiskBand(band string) {
	if m == nil {
		return
	}
	m.RiskAssessments.WithLabelValues(band).Inc()
}

func (m *Metrics) AlertFinalized(severity, status string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(severity, status).Inc()
}

func (m *Metrics) ChannelDelivery(channel, status string) {
	if m == nil {
		return
	}
	m.ChannelDeliveries.WithLabelValues(channel, status).Inc()
}

func (m *Metrics) FatalEscalationConfig() {
	if m == nil {
		return
	}
	m.FatalEscalation.Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) WSMessage(stream, outcome string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(stream, outcome).Inc()
}

// ObserveStage records a turn stage latency in the rolling window.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.observe(stage, d)
}

// CountTurnEvent bumps a named counter reported next to stage latencies.
func (m *Metrics) CountTurnEvent(name string) {
	if m == nil {
		return
	}
	m.stages.count(name)
}

func (m *Metrics) LatencyReport() LatencyReport {
	if m == nil {
		return LatencyReport{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.report()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
