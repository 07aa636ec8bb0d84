// Package observability wires runtime telemetry: Prometheus metrics fed
// off the event bus, OTLP trace export, and slog handler setup.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openfork/openfork/internal/bus"
)

// Metrics holds the Prometheus collectors for the agent runtime.
//
// Nothing in the hot path writes these directly; Bind subscribes to the
// event bus and every subsystem that publishes lifecycle events is
// counted for free.
type Metrics struct {
	// ToolExecutions counts tool runs.
	// Labels: tool, status (ok|error|cancelled)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// Turns counts finished agent turns.
	// Labels: agent
	Turns *prometheus.CounterVec

	// TurnIterations observes tool rounds per turn.
	// Labels: agent
	TurnIterations *prometheus.HistogramVec

	// HookVetoes counts pre-trigger vetoes.
	// Labels: trigger, hook
	HookVetoes *prometheus.CounterVec

	// Truncations counts L1 output truncations.
	// Labels: tool
	Truncations *prometheus.CounterVec

	// PrunedParts counts tool outputs dropped by L2 pruning.
	PrunedParts prometheus.Counter

	// ReclaimedTokens counts estimated tokens reclaimed by pruning.
	ReclaimedTokens prometheus.Counter

	// Compactions counts L3 compaction passes.
	Compactions prometheus.Counter

	// SubSessions counts finished subagent runs.
	// Labels: agent, status (completed|failed|cancelled)
	SubSessions *prometheus.CounterVec

	// Errors counts error events.
	Errors prometheus.Counter
}

// NewMetrics registers the collectors. reg nil uses the default
// registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openfork_tool_executions_total",
			Help: "Tool runs by tool name and outcome",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openfork_tool_duration_seconds",
			Help:    "Tool execution time in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openfork_agent_turns_total",
			Help: "Completed agent turns by profile",
		}, []string{"agent"}),

		TurnIterations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openfork_agent_turn_iterations",
			Help:    "Tool rounds used per turn",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 50},
		}, []string{"agent"}),

		HookVetoes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openfork_hook_vetoes_total",
			Help: "Operations blocked by pre-trigger hooks",
		}, []string{"trigger", "hook"}),

		Truncations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openfork_output_truncations_total",
			Help: "Tool outputs cut down by the L1 caps",
		}, []string{"tool"}),

		PrunedParts: factory.NewCounter(prometheus.CounterOpts{
			Name: "openfork_pruned_parts_total",
			Help: "Tool outputs dropped by history pruning",
		}),

		ReclaimedTokens: factory.NewCounter(prometheus.CounterOpts{
			Name: "openfork_reclaimed_tokens_total",
			Help: "Estimated tokens reclaimed by history pruning",
		}),

		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "openfork_compactions_total",
			Help: "History compaction passes",
		}),

		SubSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openfork_subsessions_total",
			Help: "Finished subagent runs by profile and status",
		}, []string{"agent", "status"}),

		Errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "openfork_errors_total",
			Help: "Error events published on the bus",
		}),
	}
}

// Bind subscribes the collectors to the event bus. The returned
// subscriptions can be unsubscribed to stop collection.
func (m *Metrics) Bind(events *bus.Bus) []*bus.Subscription {
	return []*bus.Subscription{
		events.Subscribe(bus.KindTool, func(ev bus.Event) {
			switch e := ev.(type) {
			case bus.ToolExecutionCompletedEvent:
				status := "ok"
				if e.IsError {
					status = "error"
				}
				m.ToolExecutions.WithLabelValues(e.ToolName, status).Inc()
				m.ToolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
			case bus.ToolExecutionCancelledEvent:
				m.ToolExecutions.WithLabelValues(e.ToolName, "cancelled").Inc()
			}
		}),
		events.Subscribe(bus.KindAgent, func(ev bus.Event) {
			if e, ok := ev.(bus.AgentTurnCompletedEvent); ok {
				m.Turns.WithLabelValues(e.AgentSlug).Inc()
				m.TurnIterations.WithLabelValues(e.AgentSlug).Observe(float64(e.Iterations))
			}
		}),
		events.Subscribe(bus.KindHook, func(ev bus.Event) {
			if e, ok := ev.(bus.HookVetoedEvent); ok {
				m.HookVetoes.WithLabelValues(string(e.Trigger), e.HookName).Inc()
			}
		}),
		events.Subscribe(bus.KindToken, func(ev bus.Event) {
			switch e := ev.(type) {
			case bus.OutputTruncatedEvent:
				m.Truncations.WithLabelValues(e.ToolName).Inc()
			case bus.OutputsPrunedEvent:
				m.PrunedParts.Add(float64(e.PrunedParts))
				m.ReclaimedTokens.Add(float64(e.ReclaimedTokens))
			case bus.CompactionCompletedEvent:
				m.Compactions.Inc()
			}
		}),
		events.Subscribe(bus.KindSubSession, func(ev bus.Event) {
			switch e := ev.(type) {
			case bus.SubSessionCompletedEvent:
				m.SubSessions.WithLabelValues(e.SubSession.AgentSlug, "completed").Inc()
			case bus.SubSessionFailedEvent:
				m.SubSessions.WithLabelValues(e.SubSession.AgentSlug, "failed").Inc()
			case bus.SubSessionCancelledEvent:
				m.SubSessions.WithLabelValues("", "cancelled").Inc()
			}
		}),
		events.Subscribe("system.error", func(ev bus.Event) {
			m.Errors.Inc()
		}),
	}
}

// Serve exposes /metrics on addr. It blocks; run it in a goroutine.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	if reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
