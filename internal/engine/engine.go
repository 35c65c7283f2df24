// Package engine drives runs: it creates them, advances them step by step
// under the run lock, and derives artifacts from their persisted state.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/executor"
	"github.com/hochfrequenz/repo-rlm/internal/logging"
	"github.com/hochfrequenz/repo-rlm/internal/metrics"
	"github.com/hochfrequenz/repo-rlm/internal/notify"
	"github.com/hochfrequenz/repo-rlm/internal/runstore"
	"github.com/hochfrequenz/repo-rlm/internal/scheduler"
	"github.com/hochfrequenz/repo-rlm/internal/scope"
)

// RunsDir is the directory below the state dir holding run directories
const RunsDir = "runs"

// Options configures an Engine
type Options struct {
	StateDir  string
	Defaults  domain.RunConfig
	Partition domain.PartitionLimits
	Executor  executor.TaskExecutor

	// Optional
	Catalog  *catalog.Store
	Notifier notify.Notifier
	Logger   *logging.Logger
	Clock    func() time.Time
	NewID    func() string
}

// Engine is safe for use by several goroutines as long as each run is
// driven by one of them at a time; the run lock serializes the rest.
type Engine struct {
	store    *runstore.Store
	defaults domain.RunConfig
	limits   domain.PartitionLimits
	exec     executor.TaskExecutor
	catalog  *catalog.Store
	notifier notify.Notifier
	log      *logging.Logger
	now      func() time.Time
	newID    func() string
}

// New creates an Engine storing runs below opts.StateDir
func New(opts Options) (*Engine, error) {
	if opts.StateDir == "" {
		return nil, fmt.Errorf("engine: state directory is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("engine: executor is required")
	}
	runsDir := filepath.Join(opts.StateDir, RunsDir)
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, fmt.Errorf("create runs directory: %w", err)
	}

	e := &Engine{
		store:    runstore.New(runsDir),
		defaults: opts.Defaults,
		limits:   opts.Partition,
		exec:     opts.Executor,
		catalog:  opts.Catalog,
		notifier: opts.Notifier,
		log:      opts.Logger,
		now:      opts.Clock,
		newID:    opts.NewID,
	}
	if e.notifier == nil {
		e.notifier = notify.NoopNotifier{}
	}
	if e.log == nil {
		e.log = logging.NopLogger()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.log = e.log.WithComponent("engine")
	return e, nil
}

// RunDir returns the directory holding a run's files
func (e *Engine) RunDir(runID string) string {
	return e.store.RunDir(runID)
}

// StartParams are the inputs of a new run
type StartParams struct {
	Objective  string
	Mode       domain.Mode
	Domain     string
	Root       string   // analyzed directory, defaults to the working directory
	ScopePaths []string // defaults to the whole root
	Config     *domain.RunConfig
	Partition  *domain.PartitionLimits
}

// StartRun validates the parameters and persists a pending run with its
// queued root node. Nothing is processed.
func (e *Engine) StartRun(ctx context.Context, p StartParams) (*domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objective := strings.TrimSpace(p.Objective)
	if objective == "" {
		return nil, fmt.Errorf("%w: objective is required", domain.ErrInvalidConfig)
	}
	if !p.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMode, p.Mode)
	}

	cfg := e.defaults
	if p.Config != nil {
		cfg = *p.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limits := e.limits
	if p.Partition != nil {
		limits = *p.Partition
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	root := p.Root
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root %s: %v", domain.ErrInvalidConfig, p.Root, err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: root %s is not a directory", domain.ErrInvalidConfig, root)
	}
	paths := p.ScopePaths
	if len(paths) == 0 {
		paths = []string{"."}
	}
	items, err := scope.Normalize(root, paths)
	if err != nil {
		return nil, err
	}

	now := e.now()
	run := &domain.Run{
		ID:             e.newID(),
		Objective:      objective,
		Mode:           p.Mode,
		Domain:         strings.TrimSpace(p.Domain),
		Config:         cfg,
		Partition:      limits,
		RootDir:        root,
		RootScopePaths: items,
		RootNodeID:     domain.NodeID(0),
		Status:         domain.RunPending,
		NextOrder:      1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	nodes := []*domain.Node{{
		ID:           run.RootNodeID,
		Depth:        0,
		Scope:        items,
		Decision:     domain.DecisionUndetermined,
		Status:       domain.NodeQueued,
		CreatedOrder: 0,
	}}

	if err := e.store.Create(run, nodes); err != nil {
		return nil, err
	}

	e.log.WithRun(run.ID).Info("run created",
		"mode", run.Mode,
		"root", run.RootDir,
		"scope", items,
		"scheduler", cfg.Scheduler,
	)
	e.mirror(run, nodes, 0)
	e.event(run.ID, catalog.EventRunCreated, "", objective)
	return run, nil
}

// Status is a read-only snapshot of a run
type Status struct {
	Run         *domain.Run
	Nodes       []*domain.Node
	ResultCount int
}

// Counts returns the number of nodes per status
func (s *Status) Counts() map[domain.NodeStatus]int {
	return scheduler.New(s.Nodes, s.Run.Config.Scheduler).Counts()
}

// GetStatus reads a run without taking its lock
func (e *Engine) GetStatus(ctx context.Context, runID string) (*Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	run, err := e.store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.LoadNodes(runID)
	if err != nil {
		return nil, err
	}
	results, err := e.store.ReadResults(runID)
	if err != nil {
		return nil, err
	}
	return &Status{Run: run, Nodes: nodes, ResultCount: doneWithResult(nodes, results)}, nil
}

// doneWithResult counts done nodes that have a stored result. A step
// interrupted after appending its result leaves an entry whose node is
// not done yet; that entry is only counted once the step is reconciled.
func doneWithResult(nodes []*domain.Node, results *runstore.ResultLog) int {
	n := 0
	for _, node := range nodes {
		if node.Status != domain.NodeDone {
			continue
		}
		if _, ok := results.Get(node.ID); ok {
			n++
		}
	}
	return n
}

// Results returns the results of a run keyed by node id
func (e *Engine) Results(ctx context.Context, runID string) (map[string]*domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rl, err := e.store.ReadResults(runID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Result, rl.Len())
	for _, r := range rl.All() {
		out[r.NodeID] = r
	}
	return out, nil
}

// CancelRun stops a running run at the next step boundary. A step in
// progress in another process finishes first.
func (e *Engine) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	return e.transition(ctx, runID, domain.RunCancelled, catalog.EventRunCancelled)
}

// ResumeRun makes a cancelled run runnable again. The frontier is
// recomputed from node state on the next step.
func (e *Engine) ResumeRun(ctx context.Context, runID string) (*domain.Run, error) {
	return e.transition(ctx, runID, domain.RunRunning, catalog.EventRunResumed)
}

func (e *Engine) transition(ctx context.Context, runID string, to domain.RunStatus, kind string) (*domain.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock, err := e.store.Lock(runID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	run, err := e.store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	if err := run.Transition(to, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.SaveRun(run); err != nil {
		return nil, err
	}

	e.log.WithRun(runID).Info("run status changed", "status", to)
	if nodes, err := e.store.LoadNodes(runID); err == nil {
		e.mirror(run, nodes, countDone(nodes))
	}
	e.event(runID, kind, "", "")
	if to == domain.RunCancelled {
		e.notify(run)
	}
	return run, nil
}

// ListRuns lists runs from the catalog, or from the run directories when
// no catalog is configured
func (e *Engine) ListRuns(ctx context.Context, opts catalog.ListOptions) ([]*catalog.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.catalog != nil {
		return e.catalog.ListRuns(opts)
	}

	ids, err := e.store.ListRunIDs()
	if err != nil {
		return nil, err
	}
	var out []*catalog.RunRecord
	for _, id := range ids {
		st, err := e.GetStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if opts.Status != "" && st.Run.Status != opts.Status {
			continue
		}
		if opts.Mode != "" && st.Run.Mode != opts.Mode {
			continue
		}
		out = append(out, record(st.Run, len(st.Nodes), countDone(st.Nodes)))
	}
	sortRecords(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Reindex rebuilds the catalog rows from the run directories
func (e *Engine) Reindex(ctx context.Context) (int, error) {
	if e.catalog == nil {
		return 0, fmt.Errorf("no catalog configured")
	}
	ids, err := e.store.ListRunIDs()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		st, err := e.GetStatus(ctx, id)
		if err != nil {
			return 0, err
		}
		if err := e.catalog.UpsertRun(st.Run, len(st.Nodes), countDone(st.Nodes)); err != nil {
			return 0, fmt.Errorf("index %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Events returns the most recent events of a run
func (e *Engine) Events(ctx context.Context, runID string, limit int) ([]catalog.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.catalog == nil {
		return nil, fmt.Errorf("no catalog configured")
	}
	if !e.store.Exists(runID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return e.catalog.ListEvents(runID, limit)
}

// mirror refreshes the catalog row and the metrics textfile. Both are
// derived views, so failures are logged and otherwise ignored.
func (e *Engine) mirror(run *domain.Run, nodes []*domain.Node, results int) {
	if e.catalog != nil {
		if err := e.catalog.UpsertRun(run, len(nodes), countDone(nodes)); err != nil {
			e.log.WithRun(run.ID).Warn("catalog update failed", "error", err)
		}
	}
	path := filepath.Join(e.store.RunDir(run.ID), metrics.FileName)
	if err := metrics.Write(path, run, nodes, results); err != nil {
		e.log.WithRun(run.ID).Warn("metrics write failed", "error", err)
	}
}

func (e *Engine) event(runID, kind, nodeID, message string) {
	if e.catalog == nil {
		return
	}
	err := e.catalog.AddEvent(catalog.Event{RunID: runID, Timestamp: e.now(), Kind: kind, NodeID: nodeID, Message: message})
	if err != nil {
		e.log.WithRun(runID).Warn("event log append failed", "kind", kind, "error", err)
	}
}

func (e *Engine) notify(run *domain.Run) {
	if err := e.notifier.Send(notify.ForRun(run)); err != nil {
		e.log.WithRun(run.ID).Warn("notification failed", "error", err)
	}
}

func countDone(nodes []*domain.Node) int {
	done := 0
	for _, n := range nodes {
		if n.Status == domain.NodeDone {
			done++
		}
	}
	return done
}

func sortRecords(recs []*catalog.RunRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

func record(run *domain.Run, nodeCount, doneCount int) *catalog.RunRecord {
	return &catalog.RunRecord{
		ID:            run.ID,
		Objective:     run.Objective,
		Mode:          run.Mode,
		Domain:        run.Domain,
		Status:        run.Status,
		RootDir:       run.RootDir,
		FailureReason: run.FailureReason,
		Counters:      run.Counters,
		NodeCount:     nodeCount,
		DoneCount:     doneCount,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
		FinishedAt:    run.FinishedAt,
	}
}
