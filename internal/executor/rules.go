package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/tidwall/jsonc"
)

// Rule is a line based review check of the heuristic executor
type Rule struct {
	ID         string   `json:"id"`
	Pattern    string   `json:"pattern"`
	Message    string   `json:"message"`
	Severity   string   `json:"severity"`
	Extensions []string `json:"extensions,omitempty"`

	re *regexp.Regexp
}

// RuleSet is the shape of a rules file. Comments and trailing commas
// are allowed.
type RuleSet struct {
	ReplaceDefaults bool   `json:"replace_defaults"`
	Rules           []Rule `json:"rules"`
}

var scriptExts = []string{".js", ".jsx", ".ts", ".tsx", ".mjs", ".cjs"}

// DefaultRules returns the built-in review rules
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:         "no-eval",
			Pattern:    `\beval\s*\(`,
			Message:    "Use of eval executes arbitrary code",
			Severity:   "high",
			Extensions: append([]string{".py"}, scriptExts...),
		},
		{
			ID:         "no-explicit-any",
			Pattern:    `(:\s*any\b|\bas\s+any\b|<any>)`,
			Message:    "Explicit any disables type checking",
			Severity:   "medium",
			Extensions: []string{".ts", ".tsx"},
		},
		{
			ID:       "hardcoded-credential",
			Pattern:  `(?i)(password|passwd|secret|api[_-]?key|access[_-]?token)\s*[:=]\s*["'][^"'\s]{8,}["']`,
			Message:  "Possible hardcoded credential",
			Severity: "critical",
		},
		{
			ID:         "shell-injection",
			Pattern:    `subprocess\.\w+\(.*shell\s*=\s*True`,
			Message:    "Subprocess call with shell=True",
			Severity:   "high",
			Extensions: []string{".py"},
		},
		{
			ID:         "debugger-statement",
			Pattern:    `^\s*debugger;?\s*$`,
			Message:    "Leftover debugger statement",
			Severity:   "medium",
			Extensions: scriptExts,
		},
		{
			ID:       "todo-marker",
			Pattern:  `\b(TODO|FIXME|XXX|HACK)\b`,
			Message:  "Unresolved TODO/FIXME marker",
			Severity: "low",
		},
	}
}

// LoadRules reads a JSONC rules file and merges it with the defaults
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var set RuleSet
	if err := json.Unmarshal(jsonc.ToJSON(data), &set); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}

	rules := set.Rules
	if !set.ReplaceDefaults {
		rules = append(DefaultRules(), set.Rules...)
	}
	if err := compileRules(rules); err != nil {
		return nil, fmt.Errorf("rules %s: %w", path, err)
	}
	return rules, nil
}

func compileRules(rules []Rule) error {
	for i := range rules {
		r := &rules[i]
		if r.ID == "" || r.Pattern == "" || r.Message == "" {
			return fmt.Errorf("rule %d: id, pattern and message are required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.re = re
	}
	return nil
}

func (r *Rule) applies(path string) bool {
	if len(r.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range r.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// check returns one finding per matching line
func (r *Rule) check(src source) []domain.Finding {
	if src.Binary || !r.applies(src.Path) {
		return nil
	}
	var out []domain.Finding
	for i, line := range src.Lines {
		if r.re.MatchString(line) {
			out = append(out, domain.Finding{
				Message:  r.Message,
				Severity: domain.ParseSeverity(r.Severity),
				Rule:     r.ID,
				Evidence: []domain.Evidence{{Path: src.Path, LineStart: i + 1, LineEnd: i + 1}},
			})
		}
	}
	return out
}
