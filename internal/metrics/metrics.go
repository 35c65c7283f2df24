// Package metrics exports per-run gauges in the Prometheus text format so
// a node_exporter textfile collector can pick them up.
package metrics

import (
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rlm"

// FileName is the textfile written into each run directory
const FileName = "metrics.prom"

var (
	runStatuses  = []domain.RunStatus{domain.RunPending, domain.RunRunning, domain.RunCompleted, domain.RunCancelled, domain.RunFailed}
	nodeStatuses = []domain.NodeStatus{domain.NodeQueued, domain.NodeProcessing, domain.NodeWaitingChildren, domain.NodeDone}
)

// RunMetrics holds the gauges of one run in a private registry
type RunMetrics struct {
	registry *prometheus.Registry

	Status      *prometheus.GaugeVec
	Nodes       *prometheus.GaugeVec
	Leaves      prometheus.Gauge
	MaxDepth    prometheus.Gauge
	Results     prometheus.Gauge
	LLMCalls    prometheus.Gauge
	Tokens      prometheus.Gauge
	ElapsedMs   prometheus.Gauge
	LLMBudget   prometheus.Gauge
	TokenBudget prometheus.Gauge
	TimeBudget  prometheus.Gauge
}

// NewRunMetrics creates the gauges labelled with the run id and mode
func NewRunMetrics(runID string, mode domain.Mode) *RunMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"run_id": runID, "mode": string(mode)}

	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	return &RunMetrics{
		registry: reg,
		Status: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "status",
			Help:        "1 for the current run status, 0 otherwise",
			ConstLabels: labels,
		}, []string{"status"}),
		Nodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "run",
			Name:        "nodes",
			Help:        "Nodes by status",
			ConstLabels: labels,
		}, []string{"status"}),
		Leaves:      gauge("leaves", "Nodes decided as leaf"),
		MaxDepth:    gauge("max_depth_reached", "Deepest node created so far"),
		Results:     gauge("results", "Persisted results"),
		LLMCalls:    gauge("llm_calls_used", "LLM calls consumed"),
		Tokens:      gauge("tokens_used", "Tokens consumed"),
		ElapsedMs:   gauge("elapsed_milliseconds", "Processing time consumed"),
		LLMBudget:   gauge("llm_calls_budget", "Configured max_llm_calls"),
		TokenBudget: gauge("tokens_budget", "Configured max_tokens"),
		TimeBudget:  gauge("wall_clock_budget_milliseconds", "Configured max_wall_clock_ms"),
	}
}

// Observe sets every gauge from the persisted run state
func (m *RunMetrics) Observe(run *domain.Run, nodes []*domain.Node, results int) {
	for _, s := range runStatuses {
		v := 0.0
		if run.Status == s {
			v = 1
		}
		m.Status.WithLabelValues(string(s)).Set(v)
	}

	counts := make(map[domain.NodeStatus]int, len(nodeStatuses))
	leaves, depth := 0, 0
	for _, n := range nodes {
		counts[n.Status]++
		if n.Decision == domain.DecisionLeaf {
			leaves++
		}
		if n.Depth > depth {
			depth = n.Depth
		}
	}
	for _, s := range nodeStatuses {
		m.Nodes.WithLabelValues(string(s)).Set(float64(counts[s]))
	}

	m.Leaves.Set(float64(leaves))
	m.MaxDepth.Set(float64(depth))
	m.Results.Set(float64(results))
	m.LLMCalls.Set(float64(run.Counters.LLMCallsUsed))
	m.Tokens.Set(float64(run.Counters.TokensUsed))
	m.ElapsedMs.Set(float64(run.Counters.ElapsedMs))
	m.LLMBudget.Set(float64(run.Config.MaxLLMCalls))
	m.TokenBudget.Set(float64(run.Config.MaxTokens))
	m.TimeBudget.Set(float64(run.Config.MaxWallClockMs))
}

// WriteTextfile writes the registry to path atomically
func (m *RunMetrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Write observes the run and writes the textfile in one call
func Write(path string, run *domain.Run, nodes []*domain.Node, results int) error {
	m := NewRunMetrics(run.ID, run.Mode)
	m.Observe(run, nodes, results)
	return m.WriteTextfile(path)
}
