// Package metrics exposes the agent runtime's Prometheus instrumentation,
// grounded on the teacher's internal/observability.Metrics: one struct of
// pre-built CounterVec/HistogramVec/GaugeVec fields constructed once at
// startup and passed down to the components that record against them,
// rather than a package-level global touched from hot paths.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/histogram/gauge the runtime records against.
// Unlike the teacher, which registers into the default global registry via
// promauto, each Metrics owns its own *prometheus.Registry so tests (and a
// headless run with metrics disabled) can construct independent instances
// without colliding on duplicate registration.
type Metrics struct {
	Registry *prometheus.Registry

	// EventLoopTickDuration measures one Run iteration's wall time
	// (spec.md §4.9's per-iteration steps), labeled by which branch fired.
	EventLoopTickDuration *prometheus.HistogramVec

	// ToolExecutionDuration measures one tool call's wall time (spec.md
	// §4.7), labeled by tool name and success.
	ToolExecutionDuration *prometheus.HistogramVec

	// ToolExecutionTotal counts tool calls by name and outcome.
	ToolExecutionTotal *prometheus.CounterVec

	// ProviderStreamTotal counts provider streams by provider, model, and
	// outcome (spec.md §4.4).
	ProviderStreamTotal *prometheus.CounterVec

	// ProviderTokensTotal tracks token usage by provider, model, and kind
	// (input|output|thinking), fed from models.DataUsage events.
	ProviderTokensTotal *prometheus.CounterVec

	// ActiveAgents is a gauge of currently live (non-dead) agents per
	// session, for capacity and leak tracking.
	ActiveAgents *prometheus.GaugeVec

	// EventStoreWriteDuration measures one EventStore.AppendEvent call,
	// labeled by backend (memory|sqlite|postgres).
	EventStoreWriteDuration *prometheus.HistogramVec
}

// New builds a Metrics with a fresh, private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		EventLoopTickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ikigai_event_loop_tick_duration_seconds",
				Help:    "Duration of one event-loop iteration in seconds, by branch",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"branch"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ikigai_tool_execution_duration_seconds",
				Help:    "Duration of one tool execution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		ToolExecutionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ikigai_tool_executions_total",
				Help: "Total number of tool executions by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		ProviderStreamTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ikigai_provider_streams_total",
				Help: "Total number of provider streams by provider, model, and outcome",
			},
			[]string{"provider", "model", "status"},
		),
		ProviderTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ikigai_provider_tokens_total",
				Help: "Total tokens consumed by provider, model, and token kind",
			},
			[]string{"provider", "model", "kind"},
		),
		ActiveAgents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ikigai_active_agents",
				Help: "Number of currently live agents, by session",
			},
			[]string{"session_id"},
		),
		EventStoreWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ikigai_event_store_write_duration_seconds",
				Help:    "Duration of one EventStore.AppendEvent call in seconds, by backend",
				Buckets: []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"backend"},
		),
	}
	reg.MustRegister(
		m.EventLoopTickDuration,
		m.ToolExecutionDuration,
		m.ToolExecutionTotal,
		m.ProviderStreamTotal,
		m.ProviderTokensTotal,
		m.ActiveAgents,
		m.EventStoreWriteDuration,
	)
	return m
}

// RecordToolExecution records one tool call's outcome and duration.
func (m *Metrics) RecordToolExecution(toolName string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionTotal.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(seconds)
}

// RecordUsage feeds one DataUsage event's token counts into
// ProviderTokensTotal.
func (m *Metrics) RecordUsage(provider, model string, input, output, thinking int) {
	m.ProviderTokensTotal.WithLabelValues(provider, model, "input").Add(float64(input))
	m.ProviderTokensTotal.WithLabelValues(provider, model, "output").Add(float64(output))
	if thinking > 0 {
		m.ProviderTokensTotal.WithLabelValues(provider, model, "thinking").Add(float64(thinking))
	}
}
