package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one unit in the decomposition tree. Scope paths are slash
// separated and relative to the run's root dir.
type Node struct {
	ID           string     `json:"node_id"`
	ParentID     string     `json:"parent_id,omitempty"`
	Depth        int        `json:"depth"`
	Scope        []string   `json:"scope"`
	Decision     Decision   `json:"decision"`
	Status       NodeStatus `json:"status"`
	ChildIDs     []string   `json:"child_ids,omitempty"`
	CreatedOrder int        `json:"created_order"`
}

// NodeID returns the id of the node created at the given position
func NodeID(createdOrder int) string {
	return fmt.Sprintf("n%04d", createdOrder)
}

// IsRoot reports whether the node has no parent
func (n *Node) IsRoot() bool {
	return n.ParentID == ""
}

// IndexNodes maps node ids to nodes
func IndexNodes(nodes []*Node) map[string]*Node {
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return byID
}

// PreOrder returns nodes depth first, children in created_order
func PreOrder(nodes []*Node) []*Node {
	byID := IndexNodes(nodes)
	var roots []*Node
	for _, n := range nodes {
		if n.IsRoot() {
			roots = append(roots, n)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].CreatedOrder < roots[j].CreatedOrder })

	out := make([]*Node, 0, len(nodes))
	var visit func(n *Node)
	visit = func(n *Node) {
		out = append(out, n)
		for _, id := range n.ChildIDs {
			if child, ok := byID[id]; ok {
				visit(child)
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

// SortByCreatedOrder sorts nodes in place by creation order
func SortByCreatedOrder(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].CreatedOrder < nodes[j].CreatedOrder })
}

// ScopeLabel renders the scope for headings and listings
func (n *Node) ScopeLabel() string {
	switch len(n.Scope) {
	case 0:
		return "(empty)"
	case 1, 2, 3:
		return strings.Join(n.Scope, ", ")
	default:
		return fmt.Sprintf("%s (+%d more)", strings.Join(n.Scope[:3], ", "), len(n.Scope)-3)
	}
}
