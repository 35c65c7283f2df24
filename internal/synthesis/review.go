package synthesis

import (
	"fmt"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/findings"
)

// maxReportFindings bounds the finding list of report.md; the JSON
// artifacts always carry everything
const maxReportFindings = 200

// LeafSources returns the findings of leaf results in created_order.
// Aggregated results repeat their children's findings and are skipped.
func LeafSources(nodes []*domain.Node, results map[string]*domain.Result) []findings.Source {
	ordered := append([]*domain.Node(nil), nodes...)
	domain.SortByCreatedOrder(ordered)

	var sources []findings.Source
	for _, n := range ordered {
		r, ok := results[n.ID]
		if !ok || r.Aggregated {
			continue
		}
		sources = append(sources, findings.Source{NodeID: n.ID, Findings: r.Findings})
	}
	return sources
}

// Review ranks the run's findings and renders the report together with
// the ranked list and its Code Quality and SARIF projections
func Review(in Input) ([]File, *findings.Report, error) {
	report := findings.Rank(in.Run.ID, LeafSources(in.Nodes, in.Results))

	ranked, err := marshalJSON(report)
	if err != nil {
		return nil, nil, err
	}
	cq, err := marshalJSON(findings.CodeQuality(report))
	if err != nil {
		return nil, nil, err
	}
	sarif, err := marshalJSON(findings.SARIF(ToolName, report))
	if err != nil {
		return nil, nil, err
	}

	files := []File{
		{Kind: domain.ArtifactReviewReport, Name: "report", Path: ReviewReportPath, Data: []byte(reviewReport(in, report))},
		{Kind: domain.ArtifactFindingsRanked, Name: "findings-ranked", Path: RankedPath, Data: ranked},
		{Kind: domain.ArtifactCodeQuality, Name: "codequality", Path: CodeQualityPath, Data: cq},
		{Kind: domain.ArtifactSARIF, Name: "sarif", Path: SARIFPath, Data: sarif},
	}
	return files, report, nil
}

func reviewReport(in Input, report *findings.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Review: %s\n\n", in.Run.Objective)
	fmt.Fprintf(&b, "- Run: `%s`\n", in.Run.ID)
	if in.Run.Domain != "" {
		fmt.Fprintf(&b, "- Domain: %s\n", in.Run.Domain)
	}
	fmt.Fprintf(&b, "- Nodes: %d\n", len(in.Nodes))
	fmt.Fprintf(&b, "- Findings: %d raw, %d after deduplication\n\n", report.RawCount, report.DedupedCount)

	b.WriteString("## Severity\n\n| Severity | Findings |\n|---|---|\n")
	for _, s := range domain.Severities {
		fmt.Fprintf(&b, "| %s | %d |\n", s, report.BySeverity[s])
	}

	b.WriteString("\n## Findings\n\n")
	if len(report.Findings) == 0 {
		b.WriteString("No findings.\n")
	}
	for i, f := range report.Findings {
		if i == maxReportFindings {
			fmt.Fprintf(&b, "\n%d more findings in `findings-ranked.json`.\n", len(report.Findings)-maxReportFindings)
			break
		}
		fmt.Fprintf(&b, "%d. **[%s]** %s", i+1, f.Severity, f.Message)
		if f.Rule != "" {
			fmt.Fprintf(&b, " (`%s`)", f.Rule)
		}
		if f.Count > 1 {
			fmt.Fprintf(&b, " x%d", f.Count)
		}
		b.WriteString("\n")
		for _, e := range f.Evidence {
			fmt.Fprintf(&b, "   - `%s`\n", location(e))
		}
	}

	if root := rootResult(in); root != nil && strings.TrimSpace(root.Content) != "" {
		b.WriteString("\n## Summary\n\n")
		b.WriteString(strings.TrimSpace(root.Content))
		b.WriteString("\n")
	}
	return b.String()
}

func location(e domain.Evidence) string {
	if e.LineEnd > e.LineStart {
		return fmt.Sprintf("%s:%d-%d", e.Path, e.LineStart, e.LineEnd)
	}
	return fmt.Sprintf("%s:%d", e.Path, e.LineStart)
}
