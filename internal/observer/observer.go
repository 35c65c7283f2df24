// Package observer watches run state on disk and tracks step throughput.
package observer

import (
	"sync"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// Observer records step throughput and detects runs left mid-step
type Observer struct {
	stuckThreshold time.Duration

	steps []step
	mu    sync.RWMutex
}

type step struct {
	RunID      string
	Processed  int
	Duration   time.Duration
	Tokens     int
	FinishedAt time.Time
}

// Metrics holds aggregated metrics
type Metrics struct {
	TotalBatches   int
	TotalProcessed int
	TotalTokens    int
	AvgDuration    time.Duration
}

// New creates a new Observer
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
	}
}

// IsStuck reports whether a running run has a node marked processing and
// no update for longer than the threshold. This is what a process that
// died inside a leaf execution leaves behind; the next step repairs it.
func (o *Observer) IsStuck(run *domain.Run, nodes []*domain.Node, now time.Time) bool {
	if run.Status != domain.RunRunning {
		return false
	}
	if now.Sub(run.UpdatedAt) <= o.stuckThreshold {
		return false
	}
	for _, n := range nodes {
		if n.Status == domain.NodeProcessing {
			return true
		}
	}
	return false
}

// RecordSteps records one ExecuteStep call. tokens is the growth of the
// run's token counter during the call.
func (o *Observer) RecordSteps(runID string, processed int, duration time.Duration, tokens int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.steps = append(o.steps, step{
		RunID:      runID,
		Processed:  processed,
		Duration:   duration,
		Tokens:     tokens,
		FinishedAt: time.Now(),
	})
}

// GetMetrics returns aggregated metrics
func (o *Observer) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var metrics Metrics
	var totalDuration time.Duration

	for _, s := range o.steps {
		metrics.TotalBatches++
		metrics.TotalProcessed += s.Processed
		metrics.TotalTokens += s.Tokens
		totalDuration += s.Duration
	}

	if metrics.TotalBatches > 0 {
		metrics.AvgDuration = totalDuration / time.Duration(metrics.TotalBatches)
	}

	return metrics
}

// GetRecentRuns returns the ids of runs advanced within the last duration
func (o *Observer) GetRecentRuns(since time.Duration) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	seen := make(map[string]bool)
	var result []string

	for _, s := range o.steps {
		if s.FinishedAt.After(cutoff) && !seen[s.RunID] {
			seen[s.RunID] = true
			result = append(result, s.RunID)
		}
	}

	return result
}
