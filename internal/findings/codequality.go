package findings

import (
	"strconv"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// CodeQualityIssue is one entry of a GitLab Code Quality report
type CodeQualityIssue struct {
	Description string              `json:"description"`
	CheckName   string              `json:"check_name"`
	Fingerprint string              `json:"fingerprint"`
	Severity    string              `json:"severity"`
	Location    CodeQualityLocation `json:"location"`
}

type CodeQualityLocation struct {
	Path  string           `json:"path"`
	Lines CodeQualityLines `json:"lines"`
}

type CodeQualityLines struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// CodeQuality projects ranked findings onto the Code Quality format, one
// issue per evidence location. Extra locations of a finding reuse its
// dedupe key with an index suffix so fingerprints stay unique.
func CodeQuality(report *Report) []CodeQualityIssue {
	issues := []CodeQualityIssue{}
	for _, f := range report.Findings {
		for i, e := range f.Evidence {
			fingerprint := f.DedupeKey
			if i > 0 {
				fingerprint = f.DedupeKey + "-" + strconv.Itoa(i)
			}
			issues = append(issues, CodeQualityIssue{
				Description: f.Message,
				CheckName:   ruleID(f),
				Fingerprint: fingerprint,
				Severity:    codeQualitySeverity(f.Severity),
				Location: CodeQualityLocation{
					Path:  e.Path,
					Lines: CodeQualityLines{Begin: e.LineStart, End: e.LineEnd},
				},
			})
		}
	}
	return issues
}

func codeQualitySeverity(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "critical"
	case domain.SeverityHigh:
		return "major"
	case domain.SeverityMedium:
		return "minor"
	default:
		return "info"
	}
}

func ruleID(f Ranked) string {
	if f.Rule != "" {
		return f.Rule
	}
	return "repo-rlm/finding"
}
