// Package executor provides the analysis capability invoked for every
// leaf node of a run.
package executor

import (
	"context"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/scope"
)

// Request describes one leaf node to analyze
type Request struct {
	RunID        string
	NodeID       string
	Mode         domain.Mode
	Objective    string
	Domain       string
	Root         string
	Files        []scope.File
	MaxFileBytes int64
}

// Usage is the budget consumed by one execution
type Usage struct {
	LLMCalls int
	Tokens   int
}

// Response is the outcome of a leaf. Findings are only meaningful in
// review mode and are validated by the caller.
type Response struct {
	Content  string
	Findings []domain.Finding
	Usage    Usage
}

// TaskExecutor analyzes a leaf. A non-nil error may come with a Response
// carrying the usage consumed before the failure.
type TaskExecutor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a function to TaskExecutor
type Func func(ctx context.Context, req Request) (*Response, error)

// Execute calls f
func (f Func) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
