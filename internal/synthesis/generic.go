package synthesis

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// Generic writes the root result as the run summary
func Generic(in Input) []File {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", in.Run.Objective)
	fmt.Fprintf(&b, "- Run: `%s`\n", in.Run.ID)
	fmt.Fprintf(&b, "- Scope: %s\n", strings.Join(in.Run.RootScopePaths, ", "))
	fmt.Fprintf(&b, "- Nodes: %d\n", len(in.Nodes))
	fmt.Fprintf(&b, "- LLM calls: %d, tokens: %d\n\n", in.Run.Counters.LLMCallsUsed, in.Run.Counters.TokensUsed)

	if root := rootResult(in); root != nil {
		b.WriteString(strings.TrimSpace(root.Content))
		b.WriteString("\n")
	}
	return []File{{Kind: domain.ArtifactSummary, Name: "summary", Path: SummaryPath, Data: []byte(b.String())}}
}
