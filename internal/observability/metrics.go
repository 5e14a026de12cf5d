package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process metric set.
type Metrics struct {
	// TasksSubmitted counts orchestrator submissions.
	// Labels: kind (Agent|AgentFlow|AgentFleet), status (accepted|rejected)
	TasksSubmitted *prometheus.CounterVec

	// TaskDuration measures task wall time in seconds.
	// Labels: kind, status (completed|failed|cancelled)
	TaskDuration *prometheus.HistogramVec

	// LLMRequests counts provider calls.
	// Labels: provider, model, status (success|error)
	LLMRequests *prometheus.CounterVec

	// LLMTokens tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutions *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// WebhooksReceived counts inbound webhook deliveries.
	// Labels: platform, outcome (routed|unmatched|rejected|duplicate)
	WebhooksReceived *prometheus.CounterVec

	// FlowRuns counts flow completions.
	// Labels: flow, status
	FlowRuns *prometheus.CounterVec

	// FleetTasks counts fleet task settlements.
	// Labels: fleet, mode, status
	FleetTasks *prometheus.CounterVec

	// TasksInFlight gauges current orchestrator load.
	TasksInFlight prometheus.Gauge
}

// NewMetrics registers the metric set on a registerer. Pass nil for the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TasksSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_tasks_submitted_total",
			Help: "Task submissions by kind and admission outcome.",
		}, []string{"kind", "status"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aof_task_duration_seconds",
			Help:    "Task wall time by kind and terminal status.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}, []string{"kind", "status"}),
		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_llm_requests_total",
			Help: "LLM provider calls.",
		}, []string{"provider", "model", "status"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_llm_tokens_total",
			Help: "LLM token consumption.",
		}, []string{"provider", "model", "type"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_tool_executions_total",
			Help: "Tool invocations by outcome.",
		}, []string{"tool", "status"}),
		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aof_tool_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_webhooks_received_total",
			Help: "Inbound webhook deliveries by outcome.",
		}, []string{"platform", "outcome"}),
		FlowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_flow_runs_total",
			Help: "Flow run settlements.",
		}, []string{"flow", "status"}),
		FleetTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aof_fleet_tasks_total",
			Help: "Fleet task settlements.",
		}, []string{"fleet", "mode", "status"}),
		TasksInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aof_tasks_in_flight",
			Help: "Tasks currently admitted and not settled.",
		}),
	}
}
