package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// Markdown renders a human readable walk of the run
func Markdown(s *Snapshot) string {
	run := s.Run
	results := make(map[string]*domain.Result, len(s.Results))
	for _, r := range s.Results {
		results[r.NodeID] = r
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", run.ID)
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Objective | %s |\n", cell(run.Objective))
	fmt.Fprintf(&b, "| Mode | %s |\n", run.Mode)
	if run.Domain != "" {
		fmt.Fprintf(&b, "| Domain | %s |\n", cell(run.Domain))
	}
	fmt.Fprintf(&b, "| Status | %s |\n", run.Status)
	if run.FailureReason != "" {
		fmt.Fprintf(&b, "| Failure | %s |\n", cell(run.FailureReason))
	}
	fmt.Fprintf(&b, "| Scheduler | %s |\n", run.Config.Scheduler)
	fmt.Fprintf(&b, "| LLM calls | %d / %d |\n", run.Counters.LLMCallsUsed, run.Config.MaxLLMCalls)
	fmt.Fprintf(&b, "| Tokens | %d / %d |\n", run.Counters.TokensUsed, run.Config.MaxTokens)
	fmt.Fprintf(&b, "| Elapsed ms | %d / %d |\n", run.Counters.ElapsedMs, run.Config.MaxWallClockMs)
	fmt.Fprintf(&b, "| Nodes | %d |\n", len(s.Nodes))
	fmt.Fprintf(&b, "| Results | %d |\n", len(s.Results))

	b.WriteString("\n## Depth histogram\n\n| Depth | Nodes |\n|---|---|\n")
	depths := make([]int, 0, len(s.DepthHistogram))
	for d := range s.DepthHistogram {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	for _, d := range depths {
		fmt.Fprintf(&b, "| %d | %d |\n", d, s.DepthHistogram[d])
	}

	b.WriteString("\n## Tree\n\n")
	for _, n := range domain.PreOrder(s.Nodes) {
		fmt.Fprintf(&b, "%s- `%s` %s [%s, %s]\n", strings.Repeat("  ", n.Depth), n.ID, n.ScopeLabel(), n.Decision, n.Status)
	}

	b.WriteString("\n## Results\n")
	for _, n := range domain.PreOrder(s.Nodes) {
		r, ok := results[n.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n### %s: %s\n\n", n.ID, n.ScopeLabel())
		if r.Degraded {
			b.WriteString("_Degraded result._\n\n")
		}
		if content := strings.TrimSpace(r.Content); content != "" {
			b.WriteString(quote(content))
			b.WriteString("\n")
		}
		if len(r.Findings) > 0 && !r.Aggregated {
			fmt.Fprintf(&b, "\nFindings (%d):\n\n", len(r.Findings))
			for _, f := range r.Findings {
				fmt.Fprintf(&b, "- [%s] %s", f.Severity, f.Message)
				if len(f.Evidence) > 0 {
					fmt.Fprintf(&b, " (`%s:%d`)", f.Evidence[0].Path, f.Evidence[0].LineStart)
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// quote nests content as a blockquote so its headings stay below ours
func quote(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
