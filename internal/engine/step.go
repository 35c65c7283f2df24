package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/executor"
	"github.com/hochfrequenz/repo-rlm/internal/findings"
	"github.com/hochfrequenz/repo-rlm/internal/partition"
	"github.com/hochfrequenz/repo-rlm/internal/runstore"
	"github.com/hochfrequenz/repo-rlm/internal/scheduler"
	"github.com/hochfrequenz/repo-rlm/internal/scope"
)

// StepReport lists the nodes processed by one ExecuteStep call, in order,
// and the run record afterwards
type StepReport struct {
	ProcessedNodes []string
	Run            *domain.Run
}

// ExecuteStep advances a run by at most maxSteps steps. It stops early
// when the run becomes terminal or its budget is exhausted. A cancelled
// run is rejected; a completed or failed run processes nothing.
func (e *Engine) ExecuteStep(ctx context.Context, runID string, maxSteps int) (*StepReport, error) {
	if maxSteps < 1 {
		return nil, fmt.Errorf("%w: maxSteps must be positive, got %d", domain.ErrInvalidConfig, maxSteps)
	}

	report := &StepReport{ProcessedNodes: []string{}}
	var stepErr error
	for len(report.ProcessedNodes) < maxSteps {
		if err := ctx.Err(); err != nil {
			stepErr = err
			break
		}
		nodeID, stop, err := e.step(ctx, runID)
		if nodeID != "" {
			report.ProcessedNodes = append(report.ProcessedNodes, nodeID)
		}
		if err != nil {
			stepErr = err
			break
		}
		if stop {
			break
		}
	}

	run, err := e.store.LoadRun(runID)
	if err != nil {
		if stepErr != nil {
			return report, stepErr
		}
		return report, err
	}
	report.Run = run
	return report, stepErr
}

// RunUntil steps a run until it is terminal or maxSteps steps were
// consumed, and returns the run record either way
func (e *Engine) RunUntil(ctx context.Context, runID string, maxSteps int) (*domain.Run, error) {
	report, err := e.ExecuteStep(ctx, runID, maxSteps)
	if report == nil {
		return nil, err
	}
	return report.Run, err
}

// runState is the in-memory view of a run during one step
type runState struct {
	run     *domain.Run
	nodes   []*domain.Node
	byID    map[string]*domain.Node
	results *runstore.ResultLog
}

// load reads a run for modification and repairs an interrupted step.
// The caller holds the run lock.
func (e *Engine) load(runID string) (*runState, error) {
	run, err := e.store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.LoadNodes(runID)
	if err != nil {
		return nil, err
	}
	results, err := e.store.Results(runID)
	if err != nil {
		return nil, err
	}

	if runstore.Reconcile(run, nodes, results) {
		e.log.WithRun(runID).Warn("repaired state of an interrupted step")
		if err := e.store.SaveNodes(runID, nodes); err != nil {
			return nil, err
		}
		if err := e.store.SaveRun(run); err != nil {
			return nil, err
		}
	}
	return &runState{run: run, nodes: nodes, byID: domain.IndexNodes(nodes), results: results}, nil
}

func (st *runState) rootDone() bool {
	root, ok := st.byID[st.run.RootNodeID]
	return ok && root.Status == domain.NodeDone
}

// step processes one node under the run lock. It returns the processed
// node id ("" when nothing was processed) and whether stepping should stop.
func (e *Engine) step(ctx context.Context, runID string) (string, bool, error) {
	lock, err := e.store.Lock(runID)
	if err != nil {
		return "", true, err
	}
	defer lock.Unlock()

	st, err := e.load(runID)
	if err != nil {
		return "", true, err
	}
	run := st.run
	log := e.log.WithRun(runID)

	switch run.Status {
	case domain.RunCancelled:
		return "", true, fmt.Errorf("%w: run %s is cancelled, resume it first", domain.ErrInvalidTransition, runID)
	case domain.RunCompleted, domain.RunFailed:
		return "", true, nil
	case domain.RunPending:
		if err := run.Transition(domain.RunRunning, e.now()); err != nil {
			return "", true, err
		}
		log.Info("run started")
		e.event(runID, catalog.EventRunStarted, "", "")
	}

	node := scheduler.New(st.nodes, run.Config.Scheduler).Next()
	if node == nil {
		if !st.rootDone() {
			return "", true, fmt.Errorf("run %s has no runnable node but its root is not done", runID)
		}
		// an earlier step finished the tree but stopped before the run record
		return "", true, e.finish(st, domain.RunCompleted)
	}

	start := e.now()
	switch node.Status {
	case domain.NodeQueued:
		if reason := run.BudgetExhausted(); reason != "" {
			run.FailureReason = "budget exhausted: " + reason
			log.Warn("budget exhausted", "budget", reason, "counters", run.Counters, "next_node", node.ID)
			return "", true, e.finish(st, domain.RunFailed)
		}
		err = e.dispatch(ctx, st, node)
	case domain.NodeWaitingChildren:
		err = e.aggregate(st, node)
	}
	if err != nil {
		return "", true, err
	}

	if d := e.now().Sub(start).Milliseconds(); d > 0 {
		run.Counters.ElapsedMs += d
	}
	run.UpdatedAt = e.now()

	if st.rootDone() {
		return node.ID, true, e.finish(st, domain.RunCompleted)
	}
	if err := e.save(st); err != nil {
		return node.ID, true, err
	}
	return node.ID, false, nil
}

// save persists nodes before the run record
func (e *Engine) save(st *runState) error {
	if err := e.store.SaveNodes(st.run.ID, st.nodes); err != nil {
		return err
	}
	if err := e.store.SaveRun(st.run); err != nil {
		return err
	}
	e.mirror(st.run, st.nodes, st.results.Len())
	return nil
}

// finish moves the run to a terminal status and persists it
func (e *Engine) finish(st *runState, to domain.RunStatus) error {
	if err := st.run.Transition(to, e.now()); err != nil {
		return err
	}
	if err := e.save(st); err != nil {
		return err
	}

	kind, msg := catalog.EventRunCompleted, ""
	if to == domain.RunFailed {
		kind, msg = catalog.EventRunFailed, st.run.FailureReason
	}
	e.log.WithRun(st.run.ID).Info("run finished",
		"status", to,
		"llm_calls", st.run.Counters.LLMCallsUsed,
		"tokens", st.run.Counters.TokensUsed,
		"elapsed_ms", st.run.Counters.ElapsedMs,
		"nodes", len(st.nodes),
	)
	e.event(st.run.ID, kind, "", msg)
	e.notify(st.run)
	return nil
}

// dispatch decides a queued node and either splits it or executes it
func (e *Engine) dispatch(ctx context.Context, st *runState, node *domain.Node) error {
	p := partition.New(st.run.RootDir, st.run.Partition)
	decision, err := p.Decide(node, st.run.Config.MaxDepth)
	if err != nil {
		return fmt.Errorf("decide %s: %w", node.ID, err)
	}

	switch d := decision.(type) {
	case partition.Split:
		e.split(st, node, d)
		return nil
	case partition.Leaf:
		return e.executeLeaf(ctx, st, node, d)
	default:
		return fmt.Errorf("decide %s: unexpected decision %T", node.ID, decision)
	}
}

func (e *Engine) split(st *runState, node *domain.Node, d partition.Split) {
	run := st.run
	node.Decision = domain.DecisionSplit
	node.Status = domain.NodeWaitingChildren
	node.ChildIDs = make([]string, 0, len(d.ChildScopes))

	for _, childScope := range d.ChildScopes {
		child := &domain.Node{
			ID:           domain.NodeID(run.NextOrder),
			ParentID:     node.ID,
			Depth:        node.Depth + 1,
			Scope:        childScope,
			Decision:     domain.DecisionUndetermined,
			Status:       domain.NodeQueued,
			CreatedOrder: run.NextOrder,
		}
		run.NextOrder++
		node.ChildIDs = append(node.ChildIDs, child.ID)
		st.nodes = append(st.nodes, child)
		st.byID[child.ID] = child
	}

	e.log.WithRun(run.ID).WithNode(node.ID).Info("node split",
		"depth", node.Depth,
		"files", len(d.Files),
		"children", node.ChildIDs,
	)
	e.event(run.ID, catalog.EventNodeSplit, node.ID, fmt.Sprintf("%d files into %d children", len(d.Files), len(node.ChildIDs)))
}

func (e *Engine) executeLeaf(ctx context.Context, st *runState, node *domain.Node, d partition.Leaf) error {
	run := st.run
	log := e.log.WithRun(run.ID).WithNode(node.ID)

	node.Decision = domain.DecisionLeaf
	node.Status = domain.NodeProcessing
	if err := e.store.SaveNodes(run.ID, st.nodes); err != nil {
		return err
	}

	resp, execErr := e.exec.Execute(ctx, executor.Request{
		RunID:        run.ID,
		NodeID:       node.ID,
		Mode:         run.Mode,
		Objective:    run.Objective,
		Domain:       run.Domain,
		Root:         run.RootDir,
		Files:        d.Files,
		MaxFileBytes: run.Partition.MaxFileBytes,
	})

	result := &domain.Result{NodeID: node.ID}
	if resp != nil {
		result.LLMCalls = resp.Usage.LLMCalls
		result.Tokens = resp.Usage.Tokens
	}

	if execErr != nil && ctx.Err() != nil {
		// interrupted by the caller: requeue, keep the spent budget
		node.Decision = domain.DecisionUndetermined
		node.Status = domain.NodeQueued
		run.Counters.LLMCallsUsed += result.LLMCalls
		run.Counters.TokensUsed += result.Tokens
		if err := e.save(st); err != nil {
			return err
		}
		return ctx.Err()
	}

	switch {
	case execErr != nil:
		result.Degraded = true
		result.Content = fmt.Sprintf("Leaf execution failed: %v", execErr)
	case resp == nil:
		result.Degraded = true
		result.Content = "Leaf execution returned no response"
	default:
		result.Content = resp.Content
		if run.Mode == domain.ModeReview {
			result.Findings = reviewFindings(resp.Findings, d.Files)
		}
	}

	if err := st.results.Put(result); err != nil {
		return err
	}
	node.Status = domain.NodeDone
	run.Counters.LLMCallsUsed += result.LLMCalls
	run.Counters.TokensUsed += result.Tokens

	if result.Degraded {
		log.Warn("leaf degraded", "error", execErr, "files", len(d.Files))
		e.event(run.ID, catalog.EventNodeDegraded, node.ID, result.Content)
	} else {
		log.Info("leaf executed",
			"reason", d.Reason,
			"files", len(d.Files),
			"findings", len(result.Findings),
			"llm_calls", result.LLMCalls,
			"tokens", result.Tokens,
		)
		e.event(run.ID, catalog.EventNodeLeaf, node.ID, fmt.Sprintf("%d files, %d findings", len(d.Files), len(result.Findings)))
	}
	return nil
}

// reviewFindings keeps findings whose evidence points into the leaf's files
func reviewFindings(found []domain.Finding, files []scope.File) []domain.Finding {
	inLeaf := make(map[string]struct{}, len(files))
	for _, f := range files {
		inLeaf[f.Path] = struct{}{}
	}
	inScope := func(p string) bool {
		_, ok := inLeaf[p]
		return ok
	}

	var out []domain.Finding
	for _, f := range found {
		if clean, ok := findings.Sanitize(f, inScope); ok {
			out = append(out, clean)
		}
	}
	return out
}

func (e *Engine) aggregate(st *runState, node *domain.Node) error {
	children := make([]*domain.Node, 0, len(node.ChildIDs))
	childResults := make([]*domain.Result, 0, len(node.ChildIDs))
	for _, id := range node.ChildIDs {
		child, ok := st.byID[id]
		if !ok {
			return fmt.Errorf("aggregate %s: unknown child %s", node.ID, id)
		}
		r, ok := st.results.Get(id)
		if !ok {
			return fmt.Errorf("aggregate %s: child %s has no result", node.ID, id)
		}
		children = append(children, child)
		childResults = append(childResults, r)
	}

	result := runstore.Aggregate(node, children, childResults)
	if err := st.results.Put(result); err != nil {
		return fmt.Errorf("aggregate %s: %w", node.ID, err)
	}
	node.Status = domain.NodeDone

	e.log.WithRun(st.run.ID).WithNode(node.ID).Info("node aggregated",
		"children", len(children),
		"findings", len(result.Findings),
	)
	e.event(st.run.ID, catalog.EventNodeAggregate, node.ID, fmt.Sprintf("%d children", len(children)))
	return nil
}
