package runstore

import "github.com/hochfrequenz/repo-rlm/internal/domain"

// Reconcile repairs the state left by a process that stopped between the
// ordered writes of a step (result, then nodes, then run record). Nodes
// with a persisted result are done; nodes left processing without one go
// back to the queue; counters never fall below what the results account
// for. Reports whether anything changed.
func Reconcile(run *domain.Run, nodes []*domain.Node, results *ResultLog) bool {
	changed := false

	maxOrder := -1
	for _, n := range nodes {
		if n.CreatedOrder > maxOrder {
			maxOrder = n.CreatedOrder
		}
		r, ok := results.Get(n.ID)
		switch {
		case ok && n.Status != domain.NodeDone:
			n.Status = domain.NodeDone
			if r.Aggregated {
				n.Decision = domain.DecisionSplit
			} else {
				n.Decision = domain.DecisionLeaf
			}
			changed = true
		case !ok && n.Status == domain.NodeProcessing:
			n.Status = domain.NodeQueued
			n.Decision = domain.DecisionUndetermined
			changed = true
		}
	}
	if run.NextOrder <= maxOrder {
		run.NextOrder = maxOrder + 1
		changed = true
	}

	calls, tokens := 0, 0
	for _, r := range results.All() {
		calls += r.LLMCalls
		tokens += r.Tokens
	}
	if run.Counters.LLMCallsUsed < calls {
		run.Counters.LLMCallsUsed = calls
		changed = true
	}
	if run.Counters.TokensUsed < tokens {
		run.Counters.TokensUsed = tokens
		changed = true
	}
	return changed
}
