// Package observability exposes Prometheus counters for the agent runtime.
// A nil *Metrics is safe everywhere, so embedded use without a metrics
// endpoint costs nothing.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the runtime counters.
type Metrics struct {
	registry *prometheus.Registry

	// Iterations counts ReAct loop iterations.
	Iterations prometheus.Counter

	// ModelCalls counts model invocations, including summarization and
	// completion checks.
	ModelCalls prometheus.Counter

	// ToolCalls counts tool executions by tool name and outcome.
	ToolCalls *prometheus.CounterVec

	// Compactions counts conversation compaction runs.
	Compactions prometheus.Counter

	// SafetyRejections counts shell commands refused by the guard.
	SafetyRejections prometheus.Counter

	// ArchivedPayloads counts large payloads offloaded to the archive.
	ArchivedPayloads prometheus.Counter

	// CompletionChecks counts completion-predicate verdicts.
	CompletionChecks *prometheus.CounterVec
}

// New creates a metrics set on its own registry, keeping tests and multiple
// runtimes in one process isolated from the default registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		Iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "aacode_iterations_total",
			Help: "ReAct loop iterations executed.",
		}),
		ModelCalls: factory.NewCounter(prometheus.CounterOpts{
			Name: "aacode_model_calls_total",
			Help: "Model invocations.",
		}),
		ToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aacode_tool_calls_total",
			Help: "Tool executions by tool and outcome.",
		}, []string{"tool", "outcome"}),
		Compactions: factory.NewCounter(prometheus.CounterOpts{
			Name: "aacode_compactions_total",
			Help: "Conversation compaction runs.",
		}),
		SafetyRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "aacode_safety_rejections_total",
			Help: "Shell commands rejected by the safety guard.",
		}),
		ArchivedPayloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "aacode_archived_payloads_total",
			Help: "Large payloads offloaded to the context archive.",
		}),
		CompletionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aacode_completion_checks_total",
			Help: "Completion-predicate model checks by verdict.",
		}, []string{"verdict"}),
	}
}

// Handler serves the metrics over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncIteration bumps the iteration counter.
func (m *Metrics) IncIteration() {
	if m != nil {
		m.Iterations.Inc()
	}
}

// IncModelCall bumps the model-call counter.
func (m *Metrics) IncModelCall() {
	if m != nil {
		m.ModelCalls.Inc()
	}
}

// IncToolCall records one tool execution.
func (m *Metrics) IncToolCall(tool string, isError bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// IncCompaction bumps the compaction counter.
func (m *Metrics) IncCompaction() {
	if m != nil {
		m.Compactions.Inc()
	}
}

// IncSafetyRejection bumps the rejection counter.
func (m *Metrics) IncSafetyRejection() {
	if m != nil {
		m.SafetyRejections.Inc()
	}
}

// IncArchived bumps the archive counter.
func (m *Metrics) IncArchived() {
	if m != nil {
		m.ArchivedPayloads.Inc()
	}
}

// IncCompletionCheck records one completion-check verdict.
func (m *Metrics) IncCompletionCheck(verdict string) {
	if m != nil {
		m.CompletionChecks.WithLabelValues(verdict).Inc()
	}
}
