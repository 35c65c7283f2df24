package findings

import (
	"sort"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

const (
	sarifSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
	sarifVersion = "2.1.0"
)

// SARIFLog is the top level of a SARIF 2.1.0 document
type SARIFLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []SARIFRun `json:"runs"`
}

type SARIFRun struct {
	Tool    SARIFTool     `json:"tool"`
	Results []SARIFResult `json:"results"`
}

type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

type SARIFDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []SARIFRule `json:"rules"`
}

type SARIFRule struct {
	ID               string       `json:"id"`
	ShortDescription SARIFMessage `json:"shortDescription"`
}

type SARIFMessage struct {
	Text string `json:"text"`
}

type SARIFResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             SARIFMessage      `json:"message"`
	Locations           []SARIFLocation   `json:"locations"`
	PartialFingerprints map[string]string `json:"partialFingerprints"`
}

type SARIFLocation struct {
	PhysicalLocation SARIFPhysicalLocation `json:"physicalLocation"`
}

type SARIFPhysicalLocation struct {
	ArtifactLocation SARIFArtifactLocation `json:"artifactLocation"`
	Region           SARIFRegion           `json:"region"`
}

type SARIFArtifactLocation struct {
	URI string `json:"uri"`
}

type SARIFRegion struct {
	StartLine int `json:"startLine"`
	EndLine   int `json:"endLine"`
}

// SARIF projects ranked findings onto a single-run SARIF log
func SARIF(toolName string, report *Report) *SARIFLog {
	rules := map[string]string{}
	results := []SARIFResult{}
	for _, f := range report.Findings {
		id := ruleID(f)
		if _, ok := rules[id]; !ok {
			rules[id] = f.Message
		}
		locs := make([]SARIFLocation, 0, len(f.Evidence))
		for _, e := range f.Evidence {
			locs = append(locs, SARIFLocation{PhysicalLocation: SARIFPhysicalLocation{
				ArtifactLocation: SARIFArtifactLocation{URI: e.Path},
				Region:           SARIFRegion{StartLine: e.LineStart, EndLine: e.LineEnd},
			}})
		}
		results = append(results, SARIFResult{
			RuleID:              id,
			Level:               sarifLevel(f.Severity),
			Message:             SARIFMessage{Text: f.Message},
			Locations:           locs,
			PartialFingerprints: map[string]string{"dedupeKey/v1": f.DedupeKey},
		})
	}

	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	driverRules := make([]SARIFRule, 0, len(ids))
	for _, id := range ids {
		driverRules = append(driverRules, SARIFRule{ID: id, ShortDescription: SARIFMessage{Text: rules[id]}})
	}

	return &SARIFLog{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []SARIFRun{{
			Tool:    SARIFTool{Driver: SARIFDriver{Name: toolName, Rules: driverRules}},
			Results: results,
		}},
	}
}

func sarifLevel(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical, domain.SeverityHigh:
		return "error"
	case domain.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}
