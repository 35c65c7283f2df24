package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/catalog"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/executor"
	"github.com/hochfrequenz/repo-rlm/internal/findings"
	"github.com/hochfrequenz/repo-rlm/internal/notify"
	"github.com/hochfrequenz/repo-rlm/internal/runstore"
	"github.com/hochfrequenz/repo-rlm/internal/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = domain.RunConfig{
	MaxDepth:       4,
	MaxLLMCalls:    100,
	MaxTokens:      1_000_000,
	MaxWallClockMs: 10 * 60 * 1000,
	Scheduler:      domain.SchedulerBFS,
}

var testLimits = domain.PartitionLimits{MaxLeafItems: 12, MaxLeafTokens: 24000, MaxFileBytes: 1 << 20}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

// leafFixture fits into a single leaf
func leafFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts", "export const a = 1\n")
	writeFile(t, root, "src/b.ts", "export const b = 2\n")
	writeFile(t, root, "README.md", "# fixture\n")
	return root
}

// splitFixture splits into three leaves at depth 1
func splitFixture(t *testing.T) string {
	root := t.TempDir()
	for d := 0; d < 3; d++ {
		for i := 0; i < 8; i++ {
			writeFile(t, root, fmt.Sprintf("pkg%d/f%d.ts", d, i), fmt.Sprintf("export const x%d = %d\n", i, i))
		}
	}
	return root
}

// deepFixture splits twice: a and b, each into x and y
func deepFixture(t *testing.T) string {
	root := t.TempDir()
	for _, top := range []string{"a", "b"} {
		for _, sub := range []string{"x", "y"} {
			for i := 0; i < 8; i++ {
				writeFile(t, root, fmt.Sprintf("%s/%s/f%d.go", top, sub, i), fmt.Sprintf("package %s\n\nfunc F%d() {}\n", sub, i))
			}
		}
	}
	return root
}

func reviewFixture(t *testing.T) string {
	root := t.TempDir()
	writeFile(t, root, "src/a.ts", "const x: any = eval(\"2+2\");\n// TODO: remove\n")
	writeFile(t, root, "src/b.ts", "export const ok = true\n")
	return root
}

func newEngine(t *testing.T, stateDir string, exec executor.TaskExecutor) *Engine {
	t.Helper()
	if exec == nil {
		h, err := executor.NewHeuristic(nil)
		require.NoError(t, err)
		exec = h
	}
	e, err := New(Options{
		StateDir:  stateDir,
		Defaults:  testConfig,
		Partition: testLimits,
		Executor:  exec,
	})
	require.NoError(t, err)
	return e
}

func start(t *testing.T, e *Engine, root string, mode domain.Mode, cfg *domain.RunConfig) *domain.Run {
	t.Helper()
	run, err := e.StartRun(context.Background(), StartParams{
		Objective: "analyze the fixture",
		Mode:      mode,
		Root:      root,
		Config:    cfg,
	})
	require.NoError(t, err)
	return run
}

func runToEnd(t *testing.T, e *Engine, runID string) *domain.Run {
	t.Helper()
	run, err := e.RunUntil(context.Background(), runID, 1000)
	require.NoError(t, err)
	return run
}

func TestStartRun_PersistsPendingRunWithRootNode(t *testing.T) {
	root := leafFixture(t)
	e := newEngine(t, t.TempDir(), nil)

	run := start(t, e, root, domain.ModeGeneric, nil)
	assert.Equal(t, domain.RunPending, run.Status)
	assert.Equal(t, "n0000", run.RootNodeID)
	assert.Equal(t, []string{"."}, run.RootScopePaths)

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, st.Nodes, 1)
	assert.Equal(t, domain.NodeQueued, st.Nodes[0].Status)
	assert.Equal(t, domain.DecisionUndetermined, st.Nodes[0].Decision)
	assert.Equal(t, 0, st.ResultCount)
}

func TestStartRun_Validation(t *testing.T) {
	root := leafFixture(t)
	stateDir := t.TempDir()
	e := newEngine(t, stateDir, nil)
	bad := testConfig
	bad.MaxLLMCalls = 0

	tests := []struct {
		name   string
		params StartParams
		want   error
	}{
		{"empty objective", StartParams{Objective: " ", Mode: domain.ModeGeneric, Root: root}, domain.ErrInvalidConfig},
		{"unknown mode", StartParams{Objective: "x", Mode: "poetry", Root: root}, domain.ErrUnknownMode},
		{"bad budget", StartParams{Objective: "x", Mode: domain.ModeGeneric, Root: root, Config: &bad}, domain.ErrInvalidConfig},
		{"missing scope path", StartParams{Objective: "x", Mode: domain.ModeGeneric, Root: root, ScopePaths: []string{"nope"}}, domain.ErrInvalidConfig},
		{"root is a file", StartParams{Objective: "x", Mode: domain.ModeGeneric, Root: filepath.Join(root, "README.md")}, domain.ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.StartRun(context.Background(), tt.params)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	entries, err := os.ReadDir(filepath.Join(stateDir, RunsDir))
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected runs must not leave state behind")
}

func TestLeafRun(t *testing.T) {
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, leafFixture(t), domain.ModeGeneric, nil)

	report, err := e.ExecuteStep(context.Background(), run.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"n0000"}, report.ProcessedNodes)
	assert.Equal(t, domain.RunCompleted, report.Run.Status)
	assert.Equal(t, 1, report.Run.Counters.LLMCallsUsed)
	assert.Positive(t, report.Run.Counters.TokensUsed)
	assert.NotNil(t, report.Run.StartedAt)
	assert.NotNil(t, report.Run.FinishedAt)

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, st.Nodes, 1)
	assert.Equal(t, domain.DecisionLeaf, st.Nodes[0].Decision)
	assert.Equal(t, domain.NodeDone, st.Nodes[0].Status)
	assert.Equal(t, 1, st.ResultCount)

	results, err := e.Results(context.Background(), run.ID)
	require.NoError(t, err)
	assert.False(t, results["n0000"].Aggregated)
	assert.Contains(t, results["n0000"].Content, "Scope: 3 files")
}

func TestSplitAfterOneStep(t *testing.T) {
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)

	report, err := e.ExecuteStep(context.Background(), run.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"n0000"}, report.ProcessedNodes)
	assert.Equal(t, domain.RunRunning, report.Run.Status)
	assert.Equal(t, 0, report.Run.Counters.LLMCallsUsed, "splitting does not call the executor")

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, st.Nodes, 4)
	rootNode := st.Nodes[0]
	assert.Equal(t, domain.DecisionSplit, rootNode.Decision)
	assert.Equal(t, domain.NodeWaitingChildren, rootNode.Status)
	assert.Equal(t, []string{"n0001", "n0002", "n0003"}, rootNode.ChildIDs)
	for i, child := range st.Nodes[1:] {
		assert.Equal(t, "n0000", child.ParentID)
		assert.Equal(t, 1, child.Depth)
		assert.Equal(t, domain.NodeQueued, child.Status)
		assert.Equal(t, []string{fmt.Sprintf("pkg%d", i)}, child.Scope)
	}
	assert.Equal(t, 0, st.ResultCount)
}

func TestSplitRunCompletesWithAggregatedRoot(t *testing.T) {
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)

	run = runToEnd(t, e, run.ID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Counters.LLMCallsUsed)

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, len(st.Nodes), st.ResultCount)
	for _, n := range st.Nodes {
		assert.Equal(t, domain.NodeDone, n.Status)
	}

	results, err := e.Results(context.Background(), run.ID)
	require.NoError(t, err)
	root := results["n0000"]
	assert.True(t, root.Aggregated)
	assert.Contains(t, root.Content, "Aggregated 3 child results")
	assert.Less(t, strings.Index(root.Content, "## n0001"), strings.Index(root.Content, "## n0003"))
}

func TestCancelAndResumeFromFreshEngine(t *testing.T) {
	stateDir := t.TempDir()
	ctx := context.Background()
	e := newEngine(t, stateDir, nil)
	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)

	_, err := e.CancelRun(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition, "a pending run cannot be cancelled")

	_, err = e.ExecuteStep(ctx, run.ID, 2)
	require.NoError(t, err)

	cancelled, err := e.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCancelled, cancelled.Status)

	before, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)

	_, err = e.ExecuteStep(ctx, run.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.CancelRun(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	after, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Nodes, after.Nodes, "cancel must not touch nodes")

	// a new process with no in-memory state
	fresh := newEngine(t, stateDir, nil)
	resumed, err := fresh.ResumeRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, resumed.Status)

	report, err := fresh.ExecuteStep(ctx, run.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, report.Run.Status)
	assert.Equal(t, []string{"n0002", "n0003", "n0000"}, report.ProcessedNodes)

	// reopening fails on duplicate node ids, so this also proves no node ran twice
	rl, err := runstore.OpenResultLog(filepath.Join(fresh.RunDir(run.ID), runstore.ResultsFile))
	require.NoError(t, err)
	assert.Equal(t, 4, rl.Len())
	assert.Equal(t, 3, report.Run.Counters.LLMCallsUsed)

	_, err = fresh.ResumeRun(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestReviewRunFindings(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, reviewFixture(t), domain.ModeReview, nil)
	run = runToEnd(t, e, run.ID)
	require.Equal(t, domain.RunCompleted, run.Status)

	results, err := e.Results(ctx, run.ID)
	require.NoError(t, err)
	got := map[string]int{}
	for _, f := range results["n0000"].Findings {
		require.NotEmpty(t, f.Evidence)
		assert.Equal(t, "src/a.ts", f.Evidence[0].Path)
		assert.NotEmpty(t, f.DedupeKey)
		got[f.Rule] = f.Evidence[0].LineStart
	}
	assert.Equal(t, map[string]int{"no-eval": 1, "no-explicit-any": 1, "todo-marker": 2}, got)

	artifacts, err := e.SynthesizeRun(ctx, run.ID, "")
	require.NoError(t, err)
	kinds := map[domain.ArtifactKind]string{}
	for _, a := range artifacts {
		kinds[a.Kind] = a.Path
		assert.FileExists(t, a.Path)
	}
	for _, k := range []domain.ArtifactKind{domain.ArtifactReviewReport, domain.ArtifactFindingsRanked, domain.ArtifactCodeQuality, domain.ArtifactSARIF} {
		assert.Contains(t, kinds, k)
	}

	data, err := os.ReadFile(filepath.Join(e.RunDir(run.ID), filepath.FromSlash(synthesis.RankedPath)))
	require.NoError(t, err)
	var report findings.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, 3, report.RawCount)
	assert.LessOrEqual(t, report.DedupedCount, report.RawCount)
	assert.Equal(t, domain.SeverityHigh, report.Findings[0].Severity)
	for _, f := range report.Findings {
		require.NotEmpty(t, f.Evidence)
		for _, ev := range f.Evidence {
			assert.GreaterOrEqual(t, ev.LineStart, 1)
			assert.GreaterOrEqual(t, ev.LineEnd, ev.LineStart)
		}
	}

	assert.FileExists(t, filepath.Join(e.RunDir(run.ID), "artifacts", "review", "codequality.json"))
	assert.FileExists(t, filepath.Join(e.RunDir(run.ID), "artifacts", "review", "sarif.json"))
}

func TestReviewDropsEvidenceOutsideLeaf(t *testing.T) {
	ctx := context.Background()
	fake := executor.Func(func(ctx context.Context, req executor.Request) (*executor.Response, error) {
		return &executor.Response{
			Content: "reviewed",
			Usage:   executor.Usage{LLMCalls: 1, Tokens: 10},
			Findings: []domain.Finding{
				{Message: "real", Severity: "HIGH", Evidence: []domain.Evidence{{Path: "./src/a.ts", LineStart: 1, LineEnd: 1}}},
				{Message: "made up", Severity: domain.SeverityLow, Evidence: []domain.Evidence{{Path: "elsewhere.go", LineStart: 3}}},
				{Message: "no lines", Severity: domain.SeverityLow, Evidence: []domain.Evidence{{Path: "src/a.ts"}}},
				{Message: "no evidence", Severity: domain.SeverityLow},
			},
		}, nil
	})
	e := newEngine(t, t.TempDir(), fake)
	run := start(t, e, reviewFixture(t), domain.ModeReview, nil)
	runToEnd(t, e, run.ID)

	results, err := e.Results(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, results["n0000"].Findings, 1)
	f := results["n0000"].Findings[0]
	assert.Equal(t, "real", f.Message)
	assert.Equal(t, domain.SeverityHigh, f.Severity)
	assert.Equal(t, "src/a.ts", f.Evidence[0].Path)
}

func TestWikiSynthesisAndExports(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, splitFixture(t), domain.ModeWiki, nil)
	runToEnd(t, e, run.ID)

	artifacts, err := e.SynthesizeRun(ctx, run.ID, domain.ModeWiki)
	require.NoError(t, err)
	var index *domain.Artifact
	pages := 0
	for i, a := range artifacts {
		switch a.Kind {
		case domain.ArtifactWikiIndex:
			index = &artifacts[i]
		case domain.ArtifactWikiPage:
			pages++
		}
	}
	require.NotNil(t, index)
	assert.FileExists(t, index.Path)
	assert.Equal(t, 4, pages)

	jsonArt, err := e.ExportRun(ctx, run.ID, "json")
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactJSONSnapshot, jsonArt.Kind)
	data, err := os.ReadFile(jsonArt.Path)
	require.NoError(t, err)
	var snap struct {
		DepthHistogram map[int]int `json:"depth_histogram"`
		Nodes          []any       `json:"nodes"`
		Results        []any       `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, map[int]int{0: 1, 1: 3}, snap.DepthHistogram)
	assert.Len(t, snap.Nodes, 4)
	assert.Len(t, snap.Results, 4)

	mdArt, err := e.ExportRun(ctx, run.ID, "markdown")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(e.RunDir(run.ID), "export.md"), mdArt.Path)

	_, err = e.ExportRun(ctx, run.ID, "pdf")
	assert.ErrorIs(t, err, domain.ErrUnknownFormat)
}

func TestSynthesisAndExportAreIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, reviewFixture(t), domain.ModeReview, nil)
	runToEnd(t, e, run.ID)

	read := func(paths []string) [][]byte {
		out := make([][]byte, len(paths))
		for i, p := range paths {
			data, err := os.ReadFile(p)
			require.NoError(t, err)
			out[i] = data
		}
		return out
	}
	produce := func() []string {
		var paths []string
		for _, mode := range []domain.Mode{domain.ModeReview, domain.ModeWiki, domain.ModeGeneric} {
			artifacts, err := e.SynthesizeRun(ctx, run.ID, mode)
			require.NoError(t, err)
			for _, a := range artifacts {
				paths = append(paths, a.Path)
			}
		}
		for _, f := range []string{"json", "markdown", "html"} {
			a, err := e.ExportRun(ctx, run.ID, f)
			require.NoError(t, err)
			paths = append(paths, a.Path)
		}
		return paths
	}

	firstPaths := produce()
	first := read(firstPaths)
	secondPaths := produce()
	second := read(secondPaths)

	require.Equal(t, firstPaths, secondPaths)
	for i := range first {
		assert.Equal(t, first[i], second[i], "%s is not byte-identical", firstPaths[i])
	}
}

func TestSynthesisRequiresCompletedRun(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, splitFixture(t), domain.ModeReview, nil)

	_, err := e.SynthesizeRun(ctx, run.ID, "")
	assert.ErrorIs(t, err, domain.ErrRunNotCompleted)

	_, err = e.SynthesizeRun(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)

	_, err = e.ExportRun(ctx, run.ID, "json")
	assert.NoError(t, err, "export works at any status")
}

func TestBudgetExhaustionFailsRun(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	cfg := testConfig
	cfg.MaxLLMCalls = 1
	run := start(t, e, splitFixture(t), domain.ModeGeneric, &cfg)

	report, err := e.ExecuteStep(ctx, run.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"n0000", "n0001"}, report.ProcessedNodes)
	assert.Equal(t, domain.RunFailed, report.Run.Status)
	assert.Contains(t, report.Run.FailureReason, "max_llm_calls")
	assert.Equal(t, 1, report.Run.Counters.LLMCallsUsed)

	st, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	counts := st.Counts()
	assert.Equal(t, 4, len(st.Nodes), "partial subtree is kept")
	assert.Equal(t, 1, counts[domain.NodeDone])
	assert.Equal(t, 2, counts[domain.NodeQueued])
	assert.Equal(t, 1, counts[domain.NodeWaitingChildren])

	again, err := e.ExecuteStep(ctx, run.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, again.ProcessedNodes, "failed runs accept no further steps")

	_, err = e.ResumeRun(ctx, run.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = e.ExportRun(ctx, run.ID, "markdown")
	assert.NoError(t, err)
}

func TestTokenBudgetCountsAcrossCancelResume(t *testing.T) {
	ctx := context.Background()
	fake := executor.Func(func(ctx context.Context, req executor.Request) (*executor.Response, error) {
		return &executor.Response{Content: req.NodeID, Usage: executor.Usage{LLMCalls: 1, Tokens: 60}}, nil
	})
	e := newEngine(t, t.TempDir(), fake)
	cfg := testConfig
	cfg.MaxTokens = 100
	run := start(t, e, splitFixture(t), domain.ModeGeneric, &cfg)

	_, err := e.ExecuteStep(ctx, run.ID, 2)
	require.NoError(t, err)
	_, err = e.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	_, err = e.ResumeRun(ctx, run.ID)
	require.NoError(t, err)

	final := runToEnd(t, e, run.ID)
	assert.Equal(t, domain.RunFailed, final.Status)
	assert.Contains(t, final.FailureReason, "max_tokens")
	assert.Equal(t, 120, final.Counters.TokensUsed)
}

func TestExecutorFailureDegradesLeaf(t *testing.T) {
	ctx := context.Background()
	fake := executor.Func(func(ctx context.Context, req executor.Request) (*executor.Response, error) {
		if req.NodeID == "n0002" {
			return &executor.Response{Usage: executor.Usage{LLMCalls: 1}}, errors.New("model unavailable")
		}
		return &executor.Response{Content: "ok " + req.NodeID, Usage: executor.Usage{LLMCalls: 1, Tokens: 5}}, nil
	})
	e := newEngine(t, t.TempDir(), fake)
	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)
	run = runToEnd(t, e, run.ID)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 3, run.Counters.LLMCallsUsed)
	assert.Equal(t, 10, run.Counters.TokensUsed)

	results, err := e.Results(ctx, run.ID)
	require.NoError(t, err)
	assert.True(t, results["n0002"].Degraded)
	assert.Contains(t, results["n0002"].Content, "model unavailable")
	assert.False(t, results["n0001"].Degraded)
	assert.Contains(t, results["n0000"].Content, "1 of 3 child results are degraded")
}

func TestContextCancellationRequeuesLeaf(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake := executor.Func(func(c context.Context, req executor.Request) (*executor.Response, error) {
		cancel()
		return nil, c.Err()
	})
	stateDir := t.TempDir()
	e := newEngine(t, stateDir, fake)
	run := start(t, e, leafFixture(t), domain.ModeGeneric, nil)

	_, err := e.ExecuteStep(ctx, run.ID, 1)
	assert.ErrorIs(t, err, context.Canceled)

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.NodeQueued, st.Nodes[0].Status)
	assert.Equal(t, 0, st.ResultCount)

	final := runToEnd(t, newEngine(t, stateDir, nil), run.ID)
	assert.Equal(t, domain.RunCompleted, final.Status)
}

func dispatchOrder(processed []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range processed {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func TestTraversalOrder(t *testing.T) {
	tests := []struct {
		policy        domain.SchedulerPolicy
		wantProcessed []string
		wantDispatch  []string
	}{
		{
			domain.SchedulerBFS,
			[]string{"n0000", "n0001", "n0002", "n0003", "n0004", "n0001", "n0005", "n0006", "n0002", "n0000"},
			[]string{"n0000", "n0001", "n0002", "n0003", "n0004", "n0005", "n0006"},
		},
		{
			domain.SchedulerDFS,
			[]string{"n0000", "n0001", "n0003", "n0004", "n0001", "n0002", "n0005", "n0006", "n0002", "n0000"},
			[]string{"n0000", "n0001", "n0003", "n0004", "n0002", "n0005", "n0006"},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			e := newEngine(t, t.TempDir(), nil)
			cfg := testConfig
			cfg.Scheduler = tt.policy
			run := start(t, e, deepFixture(t), domain.ModeGeneric, &cfg)

			report, err := e.ExecuteStep(context.Background(), run.ID, 1000)
			require.NoError(t, err)
			assert.Equal(t, domain.RunCompleted, report.Run.Status)
			assert.Equal(t, tt.wantProcessed, report.ProcessedNodes)
			assert.Equal(t, tt.wantDispatch, dispatchOrder(report.ProcessedNodes))
		})
	}
}

func TestTreeShapeIsDeterministic(t *testing.T) {
	root := deepFixture(t)
	shape := func(policy domain.SchedulerPolicy) []string {
		e := newEngine(t, t.TempDir(), nil)
		cfg := testConfig
		cfg.Scheduler = policy
		run := start(t, e, root, domain.ModeGeneric, &cfg)
		runToEnd(t, e, run.ID)
		st, err := e.GetStatus(context.Background(), run.ID)
		require.NoError(t, err)
		var out []string
		for _, n := range st.Nodes {
			out = append(out, fmt.Sprintf("%s<%s:%d:%v:%s", n.ID, n.ParentID, n.Depth, n.Scope, n.Decision))
		}
		return out
	}

	first := shape(domain.SchedulerBFS)
	assert.Equal(t, first, shape(domain.SchedulerBFS))
	assert.Equal(t, first, shape(domain.SchedulerDFS), "policy changes order, not shape")
	assert.Len(t, first, 7)
}

func TestMaxDepthForcesLeaf(t *testing.T) {
	e := newEngine(t, t.TempDir(), nil)
	cfg := testConfig
	cfg.MaxDepth = 0
	run := start(t, e, splitFixture(t), domain.ModeGeneric, &cfg)
	run = runToEnd(t, e, run.ID)

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, st.Nodes, 1)
	assert.Equal(t, domain.DecisionLeaf, st.Nodes[0].Decision)
	assert.Equal(t, domain.RunCompleted, run.Status)
}

func TestInterruptedStepIsReconciled(t *testing.T) {
	ctx := context.Background()
	stateDir := t.TempDir()
	e := newEngine(t, stateDir, nil)
	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)
	_, err := e.ExecuteStep(ctx, run.ID, 2)
	require.NoError(t, err)

	// simulate a crash: n0002 was marked processing, n0001's result was
	// appended but the node table was never updated
	store := runstore.New(filepath.Join(stateDir, RunsDir))
	nodes, err := store.LoadNodes(run.ID)
	require.NoError(t, err)
	nodes[1].Status = domain.NodeProcessing
	nodes[2].Status = domain.NodeProcessing
	require.NoError(t, store.SaveNodes(run.ID, nodes))

	st, err := e.GetStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, st.Counts()[domain.NodeDone])
	assert.Zero(t, st.ResultCount, "results of unfinished nodes are not counted")

	final := runToEnd(t, newEngine(t, stateDir, nil), run.ID)
	assert.Equal(t, domain.RunCompleted, final.Status)
	assert.Equal(t, 3, final.Counters.LLMCallsUsed)

	rl, err := store.Results(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, rl.Len())
}

func TestExecuteStepOnTerminalAndMissingRuns(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, leafFixture(t), domain.ModeGeneric, nil)
	runToEnd(t, e, run.ID)

	report, err := e.ExecuteStep(ctx, run.ID, 3)
	require.NoError(t, err)
	assert.Empty(t, report.ProcessedNodes)
	assert.Equal(t, domain.RunCompleted, report.Run.Status)

	_, err = e.ExecuteStep(ctx, "missing", 1)
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
	_, err = e.ExecuteStep(ctx, run.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = e.GetStatus(ctx, "../escape")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunUntilStopsAtMaxSteps(t *testing.T) {
	e := newEngine(t, t.TempDir(), nil)
	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)

	got, err := e.RunUntil(context.Background(), run.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, got.Status)

	st, err := e.GetStatus(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ResultCount)
}

func TestElapsedUsesClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(10 * time.Millisecond)
		return now
	}
	h, err := executor.NewHeuristic(nil)
	require.NoError(t, err)
	e, err := New(Options{StateDir: t.TempDir(), Defaults: testConfig, Partition: testLimits, Executor: h, Clock: clock})
	require.NoError(t, err)

	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)
	var last int64
	for i := 0; i < 5; i++ {
		report, err := e.ExecuteStep(context.Background(), run.ID, 1)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, report.Run.Counters.ElapsedMs, last)
		last = report.Run.Counters.ElapsedMs
	}
	assert.Positive(t, last)

	cfg := testConfig
	cfg.MaxWallClockMs = 5
	run = start(t, e, splitFixture(t), domain.ModeGeneric, &cfg)
	final := runToEnd(t, e, run.ID)
	assert.Equal(t, domain.RunFailed, final.Status)
	assert.Contains(t, final.FailureReason, "max_wall_clock_ms")
}

func TestCatalogMirrorsRunsAndEvents(t *testing.T) {
	ctx := context.Background()
	cat, err := catalog.New(":memory:")
	require.NoError(t, err)
	defer cat.Close()

	h, err := executor.NewHeuristic(nil)
	require.NoError(t, err)
	e, err := New(Options{StateDir: t.TempDir(), Defaults: testConfig, Partition: testLimits, Executor: h, Catalog: cat})
	require.NoError(t, err)

	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)
	runToEnd(t, e, run.ID)

	rec, err := cat.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, rec.Status)
	assert.Equal(t, 4, rec.NodeCount)
	assert.Equal(t, 4, rec.DoneCount)

	events, err := e.Events(ctx, run.ID, 0)
	require.NoError(t, err)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []string{
		catalog.EventRunCreated, catalog.EventRunStarted, catalog.EventNodeSplit,
		catalog.EventNodeLeaf, catalog.EventNodeLeaf, catalog.EventNodeLeaf,
		catalog.EventNodeAggregate, catalog.EventRunCompleted,
	}, kinds)

	runs, err := e.ListRuns(ctx, catalog.ListOptions{Status: domain.RunCompleted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	assert.FileExists(t, filepath.Join(e.RunDir(run.ID), "metrics.prom"))
}

func TestListRunsWithoutCatalog(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, t.TempDir(), nil)
	first := start(t, e, leafFixture(t), domain.ModeGeneric, nil)
	second := start(t, e, leafFixture(t), domain.ModeReview, nil)
	runToEnd(t, e, first.ID)

	all, err := e.ListRuns(ctx, catalog.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	review, err := e.ListRuns(ctx, catalog.ListOptions{Mode: domain.ModeReview})
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, second.ID, review[0].ID)

	_, err = e.Events(ctx, first.ID, 0)
	assert.Error(t, err)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Send(n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func TestNotifiesOnCancelAndFinish(t *testing.T) {
	ctx := context.Background()
	rec := &recordingNotifier{}
	h, err := executor.NewHeuristic(nil)
	require.NoError(t, err)
	e, err := New(Options{StateDir: t.TempDir(), Defaults: testConfig, Partition: testLimits, Executor: h, Notifier: rec})
	require.NoError(t, err)

	run := start(t, e, splitFixture(t), domain.ModeGeneric, nil)
	_, err = e.ExecuteStep(ctx, run.ID, 1)
	require.NoError(t, err)
	_, err = e.CancelRun(ctx, run.ID)
	require.NoError(t, err)
	_, err = e.ResumeRun(ctx, run.ID)
	require.NoError(t, err)
	runToEnd(t, e, run.ID)

	require.Len(t, rec.sent, 2)
	assert.Equal(t, notify.NotifyWarning, rec.sent[0].Type)
	assert.Equal(t, notify.NotifySuccess, rec.sent[1].Type)
	assert.Equal(t, run.ID, rec.sent[1].RunID)
}
