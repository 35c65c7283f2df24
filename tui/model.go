package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/engine"
	"github.com/hochfrequenz/repo-rlm/internal/findings"
	"github.com/hochfrequenz/repo-rlm/internal/synthesis"
)

// Tabs of the dashboard
const (
	TabOverview = iota
	TabTree
	TabFindings
	tabCount
)

// Source reads run state. *engine.Engine satisfies it.
type Source interface {
	GetStatus(ctx context.Context, runID string) (*engine.Status, error)
	Results(ctx context.Context, runID string) (map[string]*domain.Result, error)
}

// Model is the TUI application model
type Model struct {
	source Source
	runID  string

	// Data
	run     *domain.Run
	nodes   []*domain.Node
	results     map[string]*domain.Result
	resultCount int
	report      *findings.Report
	loadErr     error

	// UI state
	width     int
	height    int
	activeTab int
	scroll    int

	// Refresh
	interval    time.Duration
	lastRefresh time.Time
}

// ModelConfig holds the inputs of the TUI model
type ModelConfig struct {
	Source   Source
	RunID    string
	Interval time.Duration // polling fallback, default 2s
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		source:    cfg.Source,
		runID:     cfg.RunID,
		interval:  interval,
		activeTab: TabOverview,
	}
}

// Init loads the run and starts the refresh ticker
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadCmd(),
		tickCmd(m.interval),
	)
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RunChangedMsg is sent by a file watcher when the run's state changed
type RunChangedMsg struct{}

// snapshotMsg carries freshly loaded run state
type snapshotMsg struct {
	status  *engine.Status
	results map[string]*domain.Result
	err     error
	at      time.Time
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) loadCmd() tea.Cmd {
	source, runID := m.source, m.runID
	return func() tea.Msg {
		ctx := context.Background()
		st, err := source.GetStatus(ctx, runID)
		if err != nil {
			return snapshotMsg{err: err, at: time.Now()}
		}
		results, err := source.Results(ctx, runID)
		return snapshotMsg{status: st, results: results, err: err, at: time.Now()}
	}
}

// apply replaces the model's data with a loaded snapshot
func (m *Model) apply(msg snapshotMsg) {
	m.lastRefresh = msg.at
	m.loadErr = msg.err
	if msg.err != nil {
		return
	}
	m.run = msg.status.Run
	m.nodes = domain.PreOrder(msg.status.Nodes)
	m.results = msg.results
	m.resultCount = len(msg.results)
	m.report = findings.Rank(m.run.ID, synthesis.LeafSources(msg.status.Nodes, msg.results))
}
