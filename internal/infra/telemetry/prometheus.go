package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusMetrics struct {
	chatDuration           *prometheus.HistogramVec
	sessionConnects        *prometheus.CounterVec
	sessionConnectDuration *prometheus.HistogramVec
	sessionDisconnects     *prometheus.CounterVec
	activeSessions         *prometheus.GaugeVec
	toolCallDuration       *prometheus.HistogramVec
	modelCallDuration      *prometheus.HistogramVec
	modelTokens            *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		chatDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_chat_duration_seconds",
				Help:    "Duration of chat requests in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"server_id", "status"},
		),
		sessionConnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_session_connects_total",
				Help: "Total number of tool session connect attempts",
			},
			[]string{"server_id", "status"},
		),
		sessionConnectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_session_connect_duration_seconds",
				Help:    "Duration of tool session connect attempts in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server_id", "status"},
		),
		sessionDisconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_session_disconnects_total",
				Help: "Total number of tool session disconnects",
			},
			[]string{"server_id", "reason"},
		),
		activeSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcpgate_active_sessions",
				Help: "Current number of live tool sessions",
			},
			[]string{"server_id"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_tool_call_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"server_id", "tool", "status"},
		),
		modelCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcpgate_model_call_duration_seconds",
				Help:    "Latency of language model calls in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model", "status"},
		),
		modelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcpgate_model_tokens_total",
				Help: "Total number of tokens consumed by model calls",
			},
			[]string{"model", "kind"},
		),
	}
}

func (m *PrometheusMetrics) ObserveChat(serverID, status string, duration time.Duration) {
	m.chatDuration.WithLabelValues(serverID, status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveSessionConnect(serverID string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sessionConnects.WithLabelValues(serverID, status).Inc()
	m.sessionConnectDuration.WithLabelValues(serverID, status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveSessionDisconnect(serverID, reason string) {
	m.sessionDisconnects.WithLabelValues(serverID, reason).Inc()
}

func (m *PrometheusMetrics) SetActiveSessions(serverID string, count int) {
	m.activeSessions.WithLabelValues(serverID).Set(float64(count))
}

func (m *PrometheusMetrics) ObserveToolCall(serverID, tool, status string, duration time.Duration) {
	m.toolCallDuration.WithLabelValues(serverID, tool, status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveModelCall(model string, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.modelCallDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) ObserveModelTokens(model string, prompt, completion int) {
	if prompt > 0 {
		m.modelTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.modelTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}
