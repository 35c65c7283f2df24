package domain

import (
	"fmt"
	"time"
)

// RunConfig holds the depth limit, the global budgets and the traversal
// policy of a run. All limits must be positive (max_depth may be zero).
type RunConfig struct {
	MaxDepth       int             `json:"max_depth" toml:"max_depth"`
	MaxLLMCalls    int             `json:"max_llm_calls" toml:"max_llm_calls"`
	MaxTokens      int             `json:"max_tokens" toml:"max_tokens"`
	MaxWallClockMs int64           `json:"max_wall_clock_ms" toml:"max_wall_clock_ms"`
	Scheduler      SchedulerPolicy `json:"scheduler" toml:"scheduler"`
}

// Validate checks the configuration, wrapping ErrInvalidConfig
func (c RunConfig) Validate() error {
	switch {
	case c.MaxDepth < 0:
		return fmt.Errorf("%w: max_depth must be >= 0, got %d", ErrInvalidConfig, c.MaxDepth)
	case c.MaxLLMCalls <= 0:
		return fmt.Errorf("%w: max_llm_calls must be > 0, got %d", ErrInvalidConfig, c.MaxLLMCalls)
	case c.MaxTokens <= 0:
		return fmt.Errorf("%w: max_tokens must be > 0, got %d", ErrInvalidConfig, c.MaxTokens)
	case c.MaxWallClockMs <= 0:
		return fmt.Errorf("%w: max_wall_clock_ms must be > 0, got %d", ErrInvalidConfig, c.MaxWallClockMs)
	}
	if c.Scheduler != SchedulerBFS && c.Scheduler != SchedulerDFS {
		return fmt.Errorf("%w: scheduler must be bfs or dfs, got %q", ErrInvalidConfig, c.Scheduler)
	}
	return nil
}

// PartitionLimits bound the size of a leaf. They are captured in the run
// record at start so every process resuming the run splits identically.
type PartitionLimits struct {
	MaxLeafItems  int      `json:"max_leaf_items"`
	MaxLeafTokens int      `json:"max_leaf_tokens"`
	MaxFileBytes  int64    `json:"max_file_bytes"`
	Ignore        []string `json:"ignore,omitempty"`
}

// Validate checks the limits, wrapping ErrInvalidConfig
func (l PartitionLimits) Validate() error {
	if l.MaxLeafItems <= 0 {
		return fmt.Errorf("%w: max_leaf_items must be > 0, got %d", ErrInvalidConfig, l.MaxLeafItems)
	}
	if l.MaxLeafTokens <= 0 {
		return fmt.Errorf("%w: max_leaf_tokens must be > 0, got %d", ErrInvalidConfig, l.MaxLeafTokens)
	}
	return nil
}

// Counters track budget consumption
type Counters struct {
	LLMCallsUsed int   `json:"llm_calls_used"`
	TokensUsed   int   `json:"tokens_used"`
	ElapsedMs    int64 `json:"elapsed_ms"`
}

// Run is one end-to-end decomposition job
type Run struct {
	ID             string          `json:"run_id"`
	Objective      string          `json:"objective"`
	Mode           Mode            `json:"mode"`
	Domain         string          `json:"domain,omitempty"`
	Config         RunConfig       `json:"config"`
	Partition      PartitionLimits `json:"partition"`
	RootDir        string          `json:"root_dir"`
	RootScopePaths []string        `json:"root_scope_paths"`
	RootNodeID     string          `json:"root_node_id"`
	Status         RunStatus       `json:"status"`
	Counters       Counters        `json:"counters"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	NextOrder      int             `json:"next_order"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

var runTransitions = map[RunStatus][]RunStatus{
	RunPending:   {RunRunning, RunFailed},
	RunRunning:   {RunCompleted, RunCancelled, RunFailed},
	RunCancelled: {RunRunning},
}

// CanTransition reports whether the lifecycle allows moving to status to
func (r *Run) CanTransition(to RunStatus) bool {
	for _, s := range runTransitions[r.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the run to a new status and stamps the timestamps
func (r *Run) Transition(to RunStatus, now time.Time) error {
	if !r.CanTransition(to) {
		return fmt.Errorf("%w: run %s is %s, cannot become %s", ErrInvalidTransition, r.ID, r.Status, to)
	}
	if to == RunRunning && r.StartedAt == nil {
		t := now
		r.StartedAt = &t
	}
	if to.Terminal() {
		t := now
		r.FinishedAt = &t
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// BudgetExhausted returns the name of the first exhausted budget, or ""
func (r *Run) BudgetExhausted() string {
	switch {
	case r.Counters.LLMCallsUsed >= r.Config.MaxLLMCalls:
		return "max_llm_calls"
	case r.Counters.TokensUsed >= r.Config.MaxTokens:
		return "max_tokens"
	case r.Counters.ElapsedMs >= r.Config.MaxWallClockMs:
		return "max_wall_clock_ms"
	}
	return ""
}
