package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avi3tal/graphengine/pkg/types"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	// NodeExecutions counts finished node invocations by result
	NodeExecutions *prometheus.CounterVec

	// NodeDuration observes the wall time of node invocations, retries included
	NodeDuration *prometheus.HistogramVec

	// NodeRetries counts retries after transient failures
	NodeRetries *prometheus.CounterVec

	// RunOutcomes counts finished runs by status
	RunOutcomes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphengine_node_executions_total",
				Help: "Total number of node invocations by result",
			},
			[]string{"graph_id", "node_id", "result"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "graphengine_node_duration_seconds",
				Help:    "Duration of node invocations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"graph_id", "node_id"},
		),
		NodeRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphengine_node_retries_total",
				Help: "Total number of retries after transient failures",
			},
			[]string{"graph_id", "node_id"},
		),
		RunOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "graphengine_run_outcomes_total",
				Help: "Total number of finished runs by status",
			},
			[]string{"graph_id", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.NodeExecutions, m.NodeDuration, m.NodeRetries, m.RunOutcomes)
	}
	return m
}

func (m *Metrics) observeNode(graphID, nodeID string, kind types.ResultKind, d time.Duration) {
	if m == nil {
		return
	}
	m.NodeExecutions.WithLabelValues(graphID, nodeID, kind.String()).Inc()
	m.NodeDuration.WithLabelValues(graphID, nodeID).Observe(d.Seconds())
}

func (m *Metrics) observeRetry(graphID, nodeID string) {
	if m == nil {
		return
	}
	m.NodeRetries.WithLabelValues(graphID, nodeID).Inc()
}

func (m *Metrics) observeRun(graphID string, status types.RunStatus) {
	if m == nil {
		return
	}
	m.RunOutcomes.WithLabelValues(graphID, string(status)).Inc()
}
