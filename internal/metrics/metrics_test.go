package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

func TestWrite(t *testing.T) {
	run := &domain.Run{
		ID:       "run-1",
		Mode:     domain.ModeReview,
		Status:   domain.RunRunning,
		Config:   domain.RunConfig{MaxLLMCalls: 10, MaxTokens: 5000, MaxWallClockMs: 60000},
		Counters: domain.Counters{LLMCallsUsed: 2, TokensUsed: 800, ElapsedMs: 15},
	}
	nodes := []*domain.Node{
		{ID: "n0000", Status: domain.NodeWaitingChildren, Decision: domain.DecisionSplit},
		{ID: "n0001", Depth: 1, Status: domain.NodeDone, Decision: domain.DecisionLeaf},
		{ID: "n0002", Depth: 1, Status: domain.NodeQueued},
	}

	path := filepath.Join(t.TempDir(), FileName)
	if err := Write(path, run, nodes, 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)

	want := []string{
		`rlm_run_status{mode="review",run_id="run-1",status="running"} 1`,
		`rlm_run_status{mode="review",run_id="run-1",status="completed"} 0`,
		`rlm_run_nodes{mode="review",run_id="run-1",status="queued"} 1`,
		`rlm_run_nodes{mode="review",run_id="run-1",status="processing"} 0`,
		`rlm_run_leaves{mode="review",run_id="run-1"} 1`,
		`rlm_run_max_depth_reached{mode="review",run_id="run-1"} 1`,
		`rlm_run_tokens_used{mode="review",run_id="run-1"} 800`,
		`rlm_run_llm_calls_budget{mode="review",run_id="run-1"} 10`,
		"# TYPE rlm_run_results gauge",
	}
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("metrics missing %q\n%s", w, text)
		}
	}
}

func TestRunMetricsAreIsolated(t *testing.T) {
	a := NewRunMetrics("a", domain.ModeGeneric)
	b := NewRunMetrics("b", domain.ModeGeneric)
	a.LLMCalls.Set(3)

	families, err := b.registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != "rlm_run_llm_calls_used" {
			continue
		}
		if v := f.GetMetric()[0].GetGauge().GetValue(); v != 0 {
			t.Errorf("registries leak between runs: got %v", v)
		}
	}
}
