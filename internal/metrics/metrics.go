// Package metrics holds the Prometheus collectors for the routing agent.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for routing observability.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Decisions        *prometheus.CounterVec   // Routing outcomes by agent, kind and reason
	DispatchDuration *prometheus.HistogramVec // Time spent waiting on a specialized agent
	DispatchErrors   *prometheus.CounterVec   // Failed dispatches by agent
	LLMErrors        prometheus.Counter       // Failed routing LLM calls
}

// NewMetrics creates the routing metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "splunkdesk_routing_decisions_total",
		Help: "Routing decisions by target agent, reply kind and fallback reason",
	}, []string{"agent", "kind", "reason"})

	dispatchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "splunkdesk_dispatch_duration_seconds",
		Help:    "Duration of A2A calls to specialized agents",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"agent"})

	dispatchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "splunkdesk_dispatch_errors_total",
		Help: "Failed A2A calls to specialized agents",
	}, []string{"agent"})

	llmErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "splunkdesk_routing_llm_errors_total",
		Help: "Routing LLM calls that returned an error",
	})

	reg.MustRegister(decisions, dispatchDuration, dispatchErrors, llmErrors)

	return &Metrics{
		Decisions:        decisions,
		DispatchDuration: dispatchDuration,
		DispatchErrors:   dispatchErrors,
		LLMErrors:        llmErrors,
	}
}

// RecordDecision counts one routing outcome. Direct replies have no agent.
func (m *Metrics) RecordDecision(agent, kind, reason string) {
	if m == nil {
		return
	}
	if agent == "" {
		agent = "none"
	}
	m.Decisions.WithLabelValues(agent, kind, reason).Inc()
}

// ObserveDispatch records the duration of one A2A call.
func (m *Metrics) ObserveDispatch(agent string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DispatchDuration.WithLabelValues(agent).Observe(d.Seconds())
	if err != nil {
		m.DispatchErrors.WithLabelValues(agent).Inc()
	}
}

// LLMError counts a failed routing LLM call.
func (m *Metrics) LLMError() {
	if m == nil {
		return
	}
	m.LLMErrors.Inc()
}
