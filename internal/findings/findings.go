// Package findings validates, deduplicates and ranks review findings.
package findings

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/zeebo/blake3"
)

// dedupeDomainKey separates dedupe hashes from any other keyed BLAKE3
// use. Changing it changes every dedupe key.
var dedupeDomainKey = [32]byte{
	'r', 'e', 'p', 'o', '-', 'r', 'l', 'm', '.', 'f', 'i', 'n', 'd', 'i', 'n', 'g',
	'.', 'd', 'e', 'd', 'u', 'p', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// NormalizeMessage lower-cases, collapses whitespace and trims trailing
// punctuation so cosmetic variants of a message compare equal
func NormalizeMessage(msg string) string {
	fields := strings.Fields(strings.ToLower(msg))
	s := strings.Join(fields, " ")
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != ']'
	})
}

// DedupeKey derives the key of a finding from its normalized message and
// its sorted evidence locations
func DedupeKey(message string, evidence []domain.Evidence) string {
	locs := make([]string, len(evidence))
	for i, e := range evidence {
		locs[i] = fmt.Sprintf("%s:%d-%d", e.Path, e.LineStart, e.LineEnd)
	}
	sort.Strings(locs)

	hasher, err := blake3.NewKeyed(dedupeDomainKey[:])
	if err != nil {
		panic("findings: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(NormalizeMessage(message)))
	for _, l := range locs {
		hasher.Write([]byte{0})
		hasher.Write([]byte(l))
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// Sanitize checks a finding produced for a leaf. Evidence outside the
// leaf (per inScope) or without a valid line is dropped; a finding left
// without evidence or message is rejected. The returned finding has a
// normalized severity and its dedupe key set.
func Sanitize(f domain.Finding, inScope func(path string) bool) (domain.Finding, bool) {
	f.Message = strings.TrimSpace(f.Message)
	if f.Message == "" {
		return f, false
	}

	var evidence []domain.Evidence
	seen := make(map[domain.Evidence]struct{})
	for _, e := range f.Evidence {
		e.Path = strings.TrimPrefix(strings.TrimSpace(e.Path), "./")
		if e.Path == "" || e.LineStart < 1 || !inScope(e.Path) {
			continue
		}
		if e.LineEnd < e.LineStart {
			e.LineEnd = e.LineStart
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		evidence = append(evidence, e)
	}
	if len(evidence) == 0 {
		return f, false
	}

	f.Evidence = evidence
	f.Severity = domain.ParseSeverity(string(f.Severity))
	f.DedupeKey = DedupeKey(f.Message, evidence)
	return f, true
}

// Source is the findings of one leaf node
type Source struct {
	NodeID   string
	Findings []domain.Finding
}

// Ranked is a group of findings sharing a dedupe key
type Ranked struct {
	DedupeKey string            `json:"dedupe_key"`
	Message   string            `json:"message"`
	Severity  domain.Severity   `json:"severity"`
	Rule      string            `json:"rule,omitempty"`
	Count     int               `json:"count"`
	Evidence  []domain.Evidence `json:"evidence"`
	NodeIDs   []string          `json:"node_ids"`

	firstSeen int
}

// Report is the deduplicated, ranked view of a run's findings
type Report struct {
	RunID        string                  `json:"run_id"`
	RawCount     int                     `json:"raw_count"`
	DedupedCount int                     `json:"deduped_count"`
	BySeverity   map[domain.Severity]int `json:"by_severity"`
	Findings     []Ranked                `json:"findings"`
}

// Rank groups findings by dedupe key and orders the groups by severity,
// then by first appearance. Sources must be given in tree order.
func Rank(runID string, sources []Source) *Report {
	report := &Report{RunID: runID, BySeverity: make(map[domain.Severity]int), Findings: []Ranked{}}
	byKey := make(map[string]int)

	seq := 0
	for _, src := range sources {
		for _, f := range src.Findings {
			report.RawCount++
			key := f.DedupeKey
			if key == "" {
				key = DedupeKey(f.Message, f.Evidence)
			}

			idx, ok := byKey[key]
			if !ok {
				byKey[key] = len(report.Findings)
				report.Findings = append(report.Findings, Ranked{
					DedupeKey: key,
					Message:   f.Message,
					Severity:  f.Severity,
					Rule:      f.Rule,
					Count:     1,
					Evidence:  append([]domain.Evidence(nil), f.Evidence...),
					NodeIDs:   []string{src.NodeID},
					firstSeen: seq,
				})
				seq++
				continue
			}

			g := &report.Findings[idx]
			g.Count++
			if f.Severity.Weight() > g.Severity.Weight() {
				g.Severity = f.Severity
			}
			g.Evidence = mergeEvidence(g.Evidence, f.Evidence)
			if g.NodeIDs[len(g.NodeIDs)-1] != src.NodeID {
				g.NodeIDs = append(g.NodeIDs, src.NodeID)
			}
		}
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		a, b := report.Findings[i], report.Findings[j]
		if a.Severity.Weight() != b.Severity.Weight() {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		return a.firstSeen < b.firstSeen
	})

	report.DedupedCount = len(report.Findings)
	for _, g := range report.Findings {
		report.BySeverity[g.Severity]++
	}
	return report
}

func mergeEvidence(have, add []domain.Evidence) []domain.Evidence {
	for _, e := range add {
		dup := false
		for _, h := range have {
			if h == e {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, e)
		}
	}
	return have
}
