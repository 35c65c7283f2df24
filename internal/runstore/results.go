package runstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hochfrequenz/repo-rlm/internal/domain"
)

// ResultLog is the append-only result store of a run. Each line of the
// backing file is one JSON encoded result.
type ResultLog struct {
	path    string
	results []*domain.Result
	byNode  map[string]*domain.Result

	readOnly bool
}

// OpenResultLog loads an existing log for appending. A torn trailing
// line left by an interrupted append is cut off, so callers must hold
// the run lock.
func OpenResultLog(path string) (*ResultLog, error) {
	return openResultLog(path, true)
}

// ReadResultLog loads a log without repairing it. An incomplete trailing
// line is skipped.
func ReadResultLog(path string) (*ResultLog, error) {
	return openResultLog(path, false)
}

func openResultLog(path string, repair bool) (*ResultLog, error) {
	l := &ResultLog{path: path, byNode: make(map[string]*domain.Result), readOnly: !repair}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			if repair && len(bytes.TrimSpace(line)) > 0 {
				if terr := os.Truncate(path, offset); terr != nil {
					return nil, fmt.Errorf("truncate torn result line: %w", terr)
				}
			}
			break
		}
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var r domain.Result
			if err := json.Unmarshal(trimmed, &r); err != nil {
				return nil, fmt.Errorf("%s: corrupt result at offset %d: %w", path, offset, err)
			}
			if _, dup := l.byNode[r.NodeID]; dup {
				return nil, fmt.Errorf("%s: %w: %s", path, domain.ErrDuplicateResult, r.NodeID)
			}
			l.results = append(l.results, &r)
			l.byNode[r.NodeID] = &r
		}
		offset += int64(len(line))
	}
	return l, nil
}

// Put appends a result. A second result for the same node is rejected.
func (l *ResultLog) Put(r *domain.Result) error {
	if l.readOnly {
		return fmt.Errorf("results log %s is open read-only", l.path)
	}
	if r.NodeID == "" {
		return fmt.Errorf("result without node id")
	}
	if _, dup := l.byNode[r.NodeID]; dup {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateResult, r.NodeID)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open results log: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append result: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	l.results = append(l.results, r)
	l.byNode[r.NodeID] = r
	return nil
}

// Get returns the result of a node
func (l *ResultLog) Get(nodeID string) (*domain.Result, bool) {
	r, ok := l.byNode[nodeID]
	return r, ok
}

// All returns results in append order
func (l *ResultLog) All() []*domain.Result {
	return l.results
}

// Len returns the number of results
func (l *ResultLog) Len() int {
	return len(l.results)
}
