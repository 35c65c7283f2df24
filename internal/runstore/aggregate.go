package runstore

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// maxChildContent caps how much of each child's content is inlined into
// the parent so results stay bounded near the root
const maxChildContent = 8000

// Aggregate merges the results of a split node's children, given in
// created order, into the parent's result. Findings are concatenated.
func Aggregate(parent *domain.Node, children []*domain.Node, childResults []*domain.Result) *domain.Result {
	var b strings.Builder
	fmt.Fprintf(&b, "Aggregated %d child results for %s.\n", len(children), parent.ScopeLabel())

	degraded := 0
	var findings []domain.Finding
	for i, child := range children {
		r := childResults[i]
		if r.Degraded {
			degraded++
		}
		fmt.Fprintf(&b, "\n## %s (%s)\n\n", child.ID, child.ScopeLabel())
		b.WriteString(truncate(strings.TrimSpace(r.Content), maxChildContent))
		b.WriteString("\n")
		findings = append(findings, r.Findings...)
	}
	if degraded > 0 {
		fmt.Fprintf(&b, "\n%d of %d child results are degraded.\n", degraded, len(children))
	}

	return &domain.Result{
		NodeID:     parent.ID,
		Content:    b.String(),
		Findings:   findings,
		Aggregated: true,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
