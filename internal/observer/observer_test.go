package observer

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

func TestObserver_DetectStuck(t *testing.T) {
	obs := New(5 * time.Minute)
	now := time.Now()

	run := &domain.Run{Status: domain.RunRunning, UpdatedAt: now.Add(-10 * time.Minute)}
	nodes := []*domain.Node{
		{ID: "n0000", Status: domain.NodeWaitingChildren},
		{ID: "n0001", Status: domain.NodeProcessing},
	}

	if !obs.IsStuck(run, nodes, now) {
		t.Error("Run with a processing node and no update for 10 minutes should be stuck")
	}
}

func TestObserver_NotStuck(t *testing.T) {
	obs := New(5 * time.Minute)
	now := time.Now()

	tests := []struct {
		name  string
		run   *domain.Run
		nodes []*domain.Node
	}{
		{
			name:  "recent update",
			run:   &domain.Run{Status: domain.RunRunning, UpdatedAt: now.Add(-2 * time.Minute)},
			nodes: []*domain.Node{{ID: "n0000", Status: domain.NodeProcessing}},
		},
		{
			name:  "nothing processing",
			run:   &domain.Run{Status: domain.RunRunning, UpdatedAt: now.Add(-time.Hour)},
			nodes: []*domain.Node{{ID: "n0000", Status: domain.NodeQueued}},
		},
		{
			name:  "cancelled",
			run:   &domain.Run{Status: domain.RunCancelled, UpdatedAt: now.Add(-time.Hour)},
			nodes: []*domain.Node{{ID: "n0000", Status: domain.NodeProcessing}},
		},
	}

	for _, tt := range tests {
		if obs.IsStuck(tt.run, tt.nodes, now) {
			t.Errorf("%s: IsStuck() = true, want false", tt.name)
		}
	}
}

func TestObserver_Metrics(t *testing.T) {
	obs := New(5 * time.Minute)

	obs.RecordSteps("run-a", 5, 5*time.Second, 1000)
	obs.RecordSteps("run-b", 3, 10*time.Second, 2000)
	obs.RecordSteps("run-a", 1, 0, 0)

	metrics := obs.GetMetrics()

	if metrics.TotalBatches != 3 {
		t.Errorf("TotalBatches = %d, want 3", metrics.TotalBatches)
	}
	if metrics.TotalProcessed != 9 {
		t.Errorf("TotalProcessed = %d, want 9", metrics.TotalProcessed)
	}
	if metrics.TotalTokens != 3000 {
		t.Errorf("TotalTokens = %d, want 3000", metrics.TotalTokens)
	}
	if metrics.AvgDuration != 5*time.Second {
		t.Errorf("AvgDuration = %v, want 5s", metrics.AvgDuration)
	}

	recent := obs.GetRecentRuns(time.Minute)
	if !reflect.DeepEqual(recent, []string{"run-a", "run-b"}) {
		t.Errorf("GetRecentRuns() = %v, want [run-a run-b]", recent)
	}
}

func TestRunWatcher_ReportsChangedRuns(t *testing.T) {
	runsDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(runsDir, "existing"), 0755); err != nil {
		t.Fatal(err)
	}

	changes := make(chan []string, 10)
	rw, err := NewRunWatcher(runsDir, func(ids []string) { changes <- ids })
	if err != nil {
		t.Fatal(err)
	}
	rw.SetDebounce(20 * time.Millisecond)
	rw.Start(t.Context())
	defer rw.Stop()

	if err := os.WriteFile(filepath.Join(runsDir, "existing", "nodes.json"), []byte("[]"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ids := <-changes:
		if !reflect.DeepEqual(ids, []string{"existing"}) {
			t.Errorf("changed runs = %v, want [existing]", ids)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported for existing run")
	}

	// lock and temp files are not state changes
	if err := os.WriteFile(filepath.Join(runsDir, "existing", "run.lock"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case ids := <-changes:
		t.Errorf("unexpected change for lock file: %v", ids)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRunWatcher_PicksUpNewRuns(t *testing.T) {
	runsDir := t.TempDir()

	changes := make(chan []string, 10)
	rw, err := NewRunWatcher(runsDir, func(ids []string) { changes <- ids })
	if err != nil {
		t.Fatal(err)
	}
	rw.SetDebounce(20 * time.Millisecond)
	rw.Start(t.Context())
	defer rw.Stop()

	if err := os.Mkdir(filepath.Join(runsDir, "fresh"), 0755); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ids := <-changes:
			for _, id := range ids {
				if id == "fresh" {
					return
				}
			}
		case <-deadline:
			t.Fatal("new run directory was not reported")
		}
	}
}
