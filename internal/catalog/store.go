// Package catalog keeps a queryable SQLite index of runs and their event
// log. The run directories stay the source of truth; the catalog can be
// rebuilt from them at any time.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
	_ "modernc.org/sqlite"
)

// Event kinds recorded by the engine
const (
	EventRunCreated    = "run_created"
	EventRunStarted    = "run_started"
	EventNodeLeaf      = "node_leaf"
	EventNodeSplit     = "node_split"
	EventNodeAggregate = "node_aggregated"
	EventNodeDegraded  = "node_degraded"
	EventRunCancelled  = "run_cancelled"
	EventRunResumed    = "run_resumed"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventSynthesized   = "synthesized"
	EventExported      = "exported"
)

// Store provides SQLite-backed run indexing
type Store struct {
	db *sql.DB
}

// New opens (and migrates) the catalog at dbPath. ":memory:" is accepted.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRecord is the catalog view of a run
type RunRecord struct {
	ID            string
	Objective     string
	Mode          domain.Mode
	Domain        string
	Status        domain.RunStatus
	RootDir       string
	FailureReason string
	Counters      domain.Counters
	NodeCount     int
	DoneCount     int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FinishedAt    *time.Time
}

// UpsertRun inserts or refreshes the catalog row of a run
func (s *Store) UpsertRun(run *domain.Run, nodeCount, doneCount int) error {
	var finished sql.NullTime
	if run.FinishedAt != nil {
		finished = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO runs (id, objective, mode, domain, status, root_dir, failure_reason, llm_calls_used, tokens_used, elapsed_ms, node_count, done_count, created_at, updated_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			failure_reason = excluded.failure_reason,
			llm_calls_used = excluded.llm_calls_used,
			tokens_used = excluded.tokens_used,
			elapsed_ms = excluded.elapsed_ms,
			node_count = excluded.node_count,
			done_count = excluded.done_count,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at
	`,
		run.ID,
		run.Objective,
		string(run.Mode),
		run.Domain,
		string(run.Status),
		run.RootDir,
		run.FailureReason,
		run.Counters.LLMCallsUsed,
		run.Counters.TokensUsed,
		run.Counters.ElapsedMs,
		nodeCount,
		doneCount,
		run.CreatedAt.UTC(),
		run.UpdatedAt.UTC(),
		finished,
	)
	return err
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return rec, err
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Status domain.RunStatus
	Mode   domain.Mode
	Limit  int
}

// ListRuns returns runs matching the options, newest first
func (s *Store) ListRuns(opts ListOptions) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(opts.Mode))
	}

	query += " ORDER BY created_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run and its events
func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	return err
}

// Event is one entry of a run's event log
type Event struct {
	ID        int64
	RunID     string
	Timestamp time.Time
	Kind      string
	NodeID    string
	Message   string
}

// AddEvent appends to the event log of a run
func (s *Store) AddEvent(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO events (run_id, timestamp, kind, node_id, message)
		VALUES (?, ?, ?, ?, ?)
	`, ev.RunID, ev.Timestamp.UTC(), ev.Kind, ev.NodeID, ev.Message)
	return err
}

// ListEvents returns the events of a run in insertion order. A positive
// limit keeps only the most recent entries.
func (s *Store) ListEvents(runID string, limit int) ([]Event, error) {
	query := `SELECT id, run_id, timestamp, kind, node_id, message FROM events WHERE run_id = ?`
	args := []interface{}{runID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` ORDER BY id DESC LIMIT ?)`
		args = append(args, limit)
	}
	query += " ORDER BY id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var nodeID, message sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Timestamp, &ev.Kind, &nodeID, &message); err != nil {
			return nil, err
		}
		ev.NodeID = nodeID.String
		ev.Message = message.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

const runColumns = `id, objective, mode, domain, status, root_dir, failure_reason, llm_calls_used, tokens_used, elapsed_ms, node_count, done_count, created_at, updated_at, finished_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var rec RunRecord
	var mode, status string
	var dom, failure sql.NullString
	var finished sql.NullTime

	err := row.Scan(&rec.ID, &rec.Objective, &mode, &dom, &status, &rec.RootDir, &failure,
		&rec.Counters.LLMCallsUsed, &rec.Counters.TokensUsed, &rec.Counters.ElapsedMs,
		&rec.NodeCount, &rec.DoneCount, &rec.CreatedAt, &rec.UpdatedAt, &finished)
	if err != nil {
		return nil, err
	}

	rec.Mode = domain.Mode(mode)
	rec.Status = domain.RunStatus(status)
	rec.Domain = dom.String
	rec.FailureReason = failure.String
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	return &rec, nil
}
