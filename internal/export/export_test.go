package export

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() *Snapshot {
	run := &domain.Run{
		ID:         "run-1",
		Objective:  "map | the repo",
		Mode:       domain.ModeGeneric,
		RootNodeID: "n0000",
		Status:     domain.RunRunning,
		Config:     domain.RunConfig{MaxDepth: 3, MaxLLMCalls: 10, MaxTokens: 1000, MaxWallClockMs: 60000, Scheduler: domain.SchedulerBFS},
	}
	nodes := []*domain.Node{
		{ID: "n0002", ParentID: "n0000", Depth: 1, Scope: []string{"b"}, Decision: domain.DecisionUndetermined, Status: domain.NodeQueued, CreatedOrder: 2},
		{ID: "n0000", Scope: []string{"."}, Decision: domain.DecisionSplit, Status: domain.NodeWaitingChildren, ChildIDs: []string{"n0001", "n0002"}},
		{ID: "n0001", ParentID: "n0000", Depth: 1, Scope: []string{"a"}, Decision: domain.DecisionLeaf, Status: domain.NodeDone, CreatedOrder: 1},
	}
	results := map[string]*domain.Result{
		"n0001": {NodeID: "n0001", Content: "# Heading\n\nleaf a", LLMCalls: 1, Tokens: 10,
			Findings: []domain.Finding{{Message: "eval", Severity: domain.SeverityHigh, Evidence: []domain.Evidence{{Path: "a/x.js", LineStart: 3, LineEnd: 3}}}}},
	}
	return NewSnapshot(run, nodes, results)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "md": FormatMarkdown, "Markdown": FormatMarkdown, "html": FormatHTML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.True(t, errors.Is(err, domain.ErrUnknownFormat))
}

func TestNewSnapshot(t *testing.T) {
	s := snapshot()
	require.Len(t, s.Nodes, 3)
	assert.Equal(t, "n0000", s.Nodes[0].ID)
	assert.Equal(t, "n0002", s.Nodes[2].ID)
	assert.Equal(t, map[int]int{0: 1, 1: 2}, s.DepthHistogram)
	require.Len(t, s.Results, 1)
}

func TestRender_JSON(t *testing.T) {
	data, err := Render(snapshot(), FormatJSON)
	require.NoError(t, err)

	var decoded struct {
		Run            map[string]any   `json:"run"`
		Nodes          []map[string]any `json:"nodes"`
		Results        []map[string]any `json:"results"`
		DepthHistogram map[string]int   `json:"depth_histogram"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.Run["run_id"])
	assert.Len(t, decoded.Nodes, 3)
	assert.Len(t, decoded.Results, 1)
	assert.Equal(t, map[string]int{"0": 1, "1": 2}, decoded.DepthHistogram)
}

func TestRender_Markdown(t *testing.T) {
	data, err := Render(snapshot(), FormatMarkdown)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "# Run run-1")
	assert.Contains(t, text, `| Objective | map \| the repo |`)
	assert.Contains(t, text, "| 1 | 2 |")
	assert.Contains(t, text, "  - `n0001` a [leaf, done]")
	assert.Contains(t, text, "> # Heading")
	assert.Contains(t, text, "- [high] eval (`a/x.js:3`)")
	assert.NotContains(t, text, "### n0002", "nodes without results have no section")
}

func TestRender_HTML(t *testing.T) {
	data, err := Render(snapshot(), FormatHTML)
	require.NoError(t, err)
	text := string(data)

	assert.True(t, strings.HasPrefix(text, "<!DOCTYPE html>"))
	assert.Contains(t, text, "<title>repo-rlm run run-1</title>")
	assert.Contains(t, text, "<table>")
	assert.Contains(t, text, "<h1>Run run-1</h1>")
	assert.True(t, strings.HasSuffix(text, "</html>\n"))
}

func TestRender_Idempotent(t *testing.T) {
	for _, f := range Formats {
		a, err := Render(snapshot(), f)
		require.NoError(t, err)
		b, err := Render(snapshot(), f)
		require.NoError(t, err)
		assert.Equal(t, a, b, "format %s", f)
	}
}

func TestRender_UnknownFormat(t *testing.T) {
	_, err := Render(snapshot(), Format("pdf"))
	assert.True(t, errors.Is(err, domain.ErrUnknownFormat))
}

func TestFormatFileNames(t *testing.T) {
	assert.Equal(t, "export.json", FormatJSON.FileName())
	assert.Equal(t, "export.md", FormatMarkdown.FileName())
	assert.Equal(t, "export.html", FormatHTML.FileName())
	assert.Equal(t, domain.ArtifactJSONSnapshot, FormatJSON.Kind())
	assert.Equal(t, domain.ArtifactMarkdownReport, FormatMarkdown.Kind())
}
