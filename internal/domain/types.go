package domain

import "strings"

// Mode selects what a run produces
type Mode string

const (
	ModeGeneric Mode = "generic"
	ModeReview  Mode = "review"
	ModeWiki    Mode = "wiki"
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeGeneric, ModeReview, ModeWiki:
		return true
	}
	return false
}

// SchedulerPolicy is the traversal order of the frontier
type SchedulerPolicy string

const (
	SchedulerBFS SchedulerPolicy = "bfs"
	SchedulerDFS SchedulerPolicy = "dfs"
)

// RunStatus represents the lifecycle state of a run
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further steps can be processed
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// NodeStatus represents the processing state of a node
type NodeStatus string

const (
	NodeQueued          NodeStatus = "queued"
	NodeProcessing      NodeStatus = "processing"
	NodeWaitingChildren NodeStatus = "waiting_children"
	NodeDone            NodeStatus = "done"
)

// Decision records whether a node was executed directly or split
type Decision string

const (
	DecisionUndetermined Decision = "undetermined"
	DecisionLeaf         Decision = "leaf"
	DecisionSplit        Decision = "split"
)

// Severity of a review finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists all levels from most to least severe
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Weight returns the ranking weight; higher ranks first.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// ParseSeverity maps the severity vocabularies used by linters and
// models onto the five levels. Unknown values become medium.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker", "fatal":
		return SeverityCritical
	case "high", "major", "error":
		return SeverityHigh
	case "medium", "moderate", "minor", "warning", "warn":
		return SeverityMedium
	case "low", "suggestion", "note":
		return SeverityLow
	case "info", "informational", "nit":
		return SeverityInfo
	default:
		return SeverityMedium
	}
}
