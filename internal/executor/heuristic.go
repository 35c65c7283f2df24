package executor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/scope"
)

// maxListedFiles bounds the per-file section of a summary
const maxListedFiles = 40

// Heuristic is a deterministic local analyzer. It inventories files for
// generic and wiki runs and applies line rules in review runs. Each leaf
// is accounted as one call consuming the estimated tokens of its files.
type Heuristic struct {
	rules []Rule
}

// NewHeuristic creates a Heuristic with the given rules, or the defaults
// when rules is nil
func NewHeuristic(rules []Rule) (*Heuristic, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	rules = append([]Rule(nil), rules...)
	if err := compileRules(rules); err != nil {
		return nil, err
	}
	return &Heuristic{rules: rules}, nil
}

// Execute analyzes the files of a leaf
func (h *Heuristic) Execute(ctx context.Context, req Request) (*Response, error) {
	sources, err := loadSources(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &Response{Usage: Usage{LLMCalls: 1, Tokens: scope.EstimateTokens(req.Files)}}
	switch req.Mode {
	case domain.ModeReview:
		for _, src := range sources {
			for i := range h.rules {
				resp.Findings = append(resp.Findings, h.rules[i].check(src)...)
			}
		}
		resp.Content = reviewSummary(req, sources, resp.Findings)
	case domain.ModeWiki:
		resp.Content = wikiSummary(req, sources)
	default:
		resp.Content = inventory(req, sources)
	}
	return resp, nil
}

func header(req Request, sources []source) string {
	lines := 0
	for _, s := range sources {
		lines += len(s.Lines)
	}
	var b strings.Builder
	if req.Objective != "" {
		fmt.Fprintf(&b, "Objective: %s\n", req.Objective)
	}
	fmt.Fprintf(&b, "Scope: %d files, %d lines, ~%d tokens.\n", len(sources), lines, scope.EstimateTokens(req.Files))

	counts := map[string]int{}
	for _, s := range sources {
		counts[Language(s.Path)]++
	}
	if len(counts) > 0 {
		langs := make([]string, 0, len(counts))
		for l := range counts {
			langs = append(langs, l)
		}
		sort.Slice(langs, func(i, j int) bool {
			if counts[langs[i]] != counts[langs[j]] {
				return counts[langs[i]] > counts[langs[j]]
			}
			return langs[i] < langs[j]
		})
		parts := make([]string, len(langs))
		for i, l := range langs {
			parts[i] = fmt.Sprintf("%s (%d)", l, counts[l])
		}
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(parts, ", "))
	}
	return b.String()
}

func inventory(req Request, sources []source) string {
	var b strings.Builder
	b.WriteString(header(req, sources))
	if len(sources) == 0 {
		return b.String()
	}
	b.WriteString("\nFiles:\n")
	for i, s := range sources {
		if i == maxListedFiles {
			fmt.Fprintf(&b, "- ... %d more\n", len(sources)-maxListedFiles)
			break
		}
		fmt.Fprintf(&b, "- %s (%s)", s.Path, describeSize(s))
		if first := firstMeaningfulLine(s); first != "" {
			fmt.Fprintf(&b, ": %s", first)
		}
		b.WriteString("\n")
	}
	return b.String()
}

var declPattern = regexp.MustCompile(`^\s*(export\s+(default\s+)?(async\s+)?(function|class|const|interface|type|enum)\s+\w+|func\s+(\([^)]*\)\s*)?\w+|type\s+\w+\s+(struct|interface)|(async\s+)?def\s+\w+|class\s+\w+|#{1,3}\s+\S)`)

const maxDeclsPerFile = 8

func wikiSummary(req Request, sources []source) string {
	var b strings.Builder
	b.WriteString(header(req, sources))
	for _, s := range sources {
		fmt.Fprintf(&b, "\n### %s\n\n", s.Path)
		fmt.Fprintf(&b, "%s, %s.\n", Language(s.Path), describeSize(s))
		var decls []string
		for _, line := range s.Lines {
			if declPattern.MatchString(line) {
				decls = append(decls, strings.TrimSpace(strings.TrimRight(line, "{ ")))
				if len(decls) == maxDeclsPerFile {
					break
				}
			}
		}
		if len(decls) > 0 {
			b.WriteString("\n")
			for _, d := range decls {
				fmt.Fprintf(&b, "- `%s`\n", d)
			}
		}
	}
	return b.String()
}

func reviewSummary(req Request, sources []source, findings []domain.Finding) string {
	var b strings.Builder
	b.WriteString(header(req, sources))
	fmt.Fprintf(&b, "Findings: %d\n", len(findings))
	for _, f := range findings {
		e := f.Evidence[0]
		fmt.Fprintf(&b, "- [%s] %s (%s:%d)\n", f.Severity, f.Message, e.Path, e.LineStart)
	}
	return b.String()
}

func describeSize(s source) string {
	switch {
	case s.Binary:
		return "binary"
	case s.Truncated:
		return fmt.Sprintf("%d+ lines", len(s.Lines))
	default:
		return fmt.Sprintf("%d lines", len(s.Lines))
	}
}

func firstMeaningfulLine(s source) string {
	for _, line := range s.Lines {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "#/*-! ")
		if line == "" || strings.HasPrefix(line, "package ") || strings.HasPrefix(line, "import") {
			continue
		}
		if len(line) > 80 {
			line = line[:77] + "..."
		}
		return line
	}
	return ""
}
