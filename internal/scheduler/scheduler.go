package scheduler

import (
	"sort"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// Scheduler determines which node of a run is processed next. It holds no
// state of its own: the frontier is derived from node statuses every time.
type Scheduler struct {
	nodes  []*domain.Node
	byID   map[string]*domain.Node
	policy domain.SchedulerPolicy
	paths  map[string][]int // dfs ordering keys, built lazily
}

// New creates a Scheduler over the nodes of one run
func New(nodes []*domain.Node, policy domain.SchedulerPolicy) *Scheduler {
	return &Scheduler{
		nodes:  nodes,
		byID:   domain.IndexNodes(nodes),
		policy: policy,
	}
}

// Frontier returns queued and waiting nodes in traversal order
func (s *Scheduler) Frontier() []*domain.Node {
	var frontier []*domain.Node
	for _, n := range s.nodes {
		if n.Status == domain.NodeQueued || n.Status == domain.NodeWaitingChildren {
			frontier = append(frontier, n)
		}
	}

	sort.SliceStable(frontier, func(i, j int) bool {
		return s.less(frontier[i], frontier[j])
	})
	return frontier
}

// Next returns the first frontier node that can be processed now, or nil
func (s *Scheduler) Next() *domain.Node {
	for _, n := range s.Frontier() {
		if s.Ready(n) {
			return n
		}
	}
	return nil
}

// Ready reports whether a node can be processed: queued nodes always are,
// waiting nodes once every child is done.
func (s *Scheduler) Ready(n *domain.Node) bool {
	switch n.Status {
	case domain.NodeQueued:
		return true
	case domain.NodeWaitingChildren:
		for _, id := range n.ChildIDs {
			child, ok := s.byID[id]
			if !ok || child.Status != domain.NodeDone {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (s *Scheduler) less(a, b *domain.Node) bool {
	if s.policy == domain.SchedulerDFS {
		pa, pb := s.orderPath(a), s.orderPath(b)
		for k := 0; k < len(pa) && k < len(pb); k++ {
			if pa[k] != pb[k] {
				return pa[k] < pb[k]
			}
		}
		// An ancestor sorts before its descendants
		return len(pa) < len(pb)
	}

	// bfs: shallower first, then creation order
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	return a.CreatedOrder < b.CreatedOrder
}

// orderPath is the sequence of created_order values from the root to n
func (s *Scheduler) orderPath(n *domain.Node) []int {
	if s.paths == nil {
		s.paths = make(map[string][]int, len(s.nodes))
	}
	if p, ok := s.paths[n.ID]; ok {
		return p
	}
	var p []int
	if parent, ok := s.byID[n.ParentID]; ok && !n.IsRoot() {
		p = append(append(p, s.orderPath(parent)...), n.CreatedOrder)
	} else {
		p = []int{n.CreatedOrder}
	}
	s.paths[n.ID] = p
	return p
}

// Counts tallies nodes by status
func (s *Scheduler) Counts() map[domain.NodeStatus]int {
	counts := make(map[domain.NodeStatus]int)
	for _, n := range s.nodes {
		counts[n.Status]++
	}
	return counts
}
