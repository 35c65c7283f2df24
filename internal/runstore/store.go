// Package runstore persists runs as plain files, one directory per run:
// run.json and nodes.json are replaced atomically, results.jsonl is
// append-only.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// File names inside a run directory
const (
	RunFile      = "run.json"
	NodesFile    = "nodes.json"
	ResultsFile  = "results.jsonl"
	LockFile     = "run.lock"
	ArtifactsDir = "artifacts"
)

// Store manages run directories below a runs directory
type Store struct {
	dir string
}

// New creates a Store rooted at dir (typically <state>/runs)
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the runs directory
func (s *Store) Dir() string {
	return s.dir
}

// RunDir returns the directory of a run
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *Store) checkID(runID string) error {
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("%w: invalid run id %q", domain.ErrRunNotFound, runID)
	}
	return nil
}

// Exists reports whether a run directory with a run record exists
func (s *Store) Exists(runID string) bool {
	if s.checkID(runID) != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(s.RunDir(runID), RunFile))
	return err == nil
}

// Create initializes the directory of a new run
func (s *Store) Create(run *domain.Run, nodes []*domain.Node) error {
	if err := s.checkID(run.ID); err != nil {
		return err
	}
	dir := s.RunDir(run.ID)
	if err := os.MkdirAll(filepath.Join(dir, ArtifactsDir), 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, RunFile)); err == nil {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if err := s.SaveNodes(run.ID, nodes); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, ResultsFile), nil, 0644); err != nil {
		return fmt.Errorf("create results log: %w", err)
	}
	return s.SaveRun(run)
}

// Lock acquires the run's cross-process lock
func (s *Store) Lock(runID string) (*FileLock, error) {
	if !s.Exists(runID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	lock := NewFileLock(filepath.Join(s.RunDir(runID), LockFile))
	if err := lock.Lock(); err != nil {
		return nil, err
	}
	return lock, nil
}

// LoadRun reads the run record
func (s *Store) LoadRun(runID string) (*domain.Run, error) {
	if err := s.checkID(runID); err != nil {
		return nil, err
	}
	var run domain.Run
	if err := readJSON(filepath.Join(s.RunDir(runID), RunFile), &run); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &run, nil
}

// SaveRun atomically replaces the run record
func (s *Store) SaveRun(run *domain.Run) error {
	return writeJSON(filepath.Join(s.RunDir(run.ID), RunFile), run)
}

// LoadNodes reads the node table in created order
func (s *Store) LoadNodes(runID string) ([]*domain.Node, error) {
	if err := s.checkID(runID); err != nil {
		return nil, err
	}
	var nodes []*domain.Node
	if err := readJSON(filepath.Join(s.RunDir(runID), NodesFile), &nodes); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("load nodes of %s: %w", runID, err)
	}
	domain.SortByCreatedOrder(nodes)
	return nodes, nil
}

// SaveNodes atomically replaces the node table
func (s *Store) SaveNodes(runID string, nodes []*domain.Node) error {
	sorted := append([]*domain.Node(nil), nodes...)
	domain.SortByCreatedOrder(sorted)
	return writeJSON(filepath.Join(s.RunDir(runID), NodesFile), sorted)
}

// Results opens the run's result log for appending; hold the run lock
func (s *Store) Results(runID string) (*ResultLog, error) {
	if err := s.checkID(runID); err != nil {
		return nil, err
	}
	return OpenResultLog(filepath.Join(s.RunDir(runID), ResultsFile))
}

// ReadResults loads the run's results without taking the lock
func (s *Store) ReadResults(runID string) (*ResultLog, error) {
	if err := s.checkID(runID); err != nil {
		return nil, err
	}
	return ReadResultLog(filepath.Join(s.RunDir(runID), ResultsFile))
}

// ListRunIDs returns the ids of all runs, sorted
func (s *Store) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && s.Exists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteFile atomically writes data to rel inside the run directory and
// returns the absolute path
func (s *Store) WriteFile(runID, rel string, data []byte) (string, error) {
	if err := s.checkID(runID); err != nil {
		return "", err
	}
	p := filepath.Join(s.RunDir(runID), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", err
	}
	if err := writeFileAtomic(p, data); err != nil {
		return "", err
	}
	return p, nil
}

// ReadFile reads rel inside the run directory
func (s *Store) ReadFile(runID, rel string) ([]byte, error) {
	if err := s.checkID(runID); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.RunDir(runID), filepath.FromSlash(rel)))
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(data, '\n'))
}

// writeFileAtomic writes to a temp file in the same directory, syncs it
// and renames it over path
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
