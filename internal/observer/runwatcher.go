package observer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hochfrequenz/repo-rlm/internal/runstore"
)

// RunChangeCallback is called with the ids of runs whose state files changed
type RunChangeCallback func(runIDs []string)

// RunWatcher monitors a runs directory for changes to run state files.
// New run directories are picked up as they appear.
type RunWatcher struct {
	watcher  *fsnotify.Watcher
	runsDir  string
	callback RunChangeCallback
	debounce time.Duration

	watched map[string]struct{}
	pending map[string]struct{}
	timer   *time.Timer
	mu      sync.Mutex

	cancel context.CancelFunc
}

// NewRunWatcher creates a watcher for the run directories below runsDir
func NewRunWatcher(runsDir string, callback RunChangeCallback) (*RunWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	rw := &RunWatcher{
		watcher:  watcher,
		runsDir:  filepath.Clean(runsDir),
		callback: callback,
		debounce: 200 * time.Millisecond,
		watched:  make(map[string]struct{}),
		pending:  make(map[string]struct{}),
	}

	if err := watcher.Add(rw.runsDir); err != nil {
		watcher.Close()
		return nil, err
	}
	entries, err := os.ReadDir(rw.runsDir)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := rw.addRun(e.Name()); err != nil {
				watcher.Close()
				return nil, err
			}
		}
	}
	return rw, nil
}

func (rw *RunWatcher) addRun(runID string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if _, ok := rw.watched[runID]; ok {
		return nil
	}
	if err := rw.watcher.Add(filepath.Join(rw.runsDir, runID)); err != nil {
		return err
	}
	rw.watched[runID] = struct{}{}
	return nil
}

// Start begins watching for file changes
func (rw *RunWatcher) Start(ctx context.Context) {
	ctx, rw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-rw.watcher.Events:
				if !ok {
					return
				}
				rw.handleEvent(event)
			case _, ok := <-rw.watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Stop stops watching for file changes
func (rw *RunWatcher) Stop() {
	if rw.cancel != nil {
		rw.cancel()
	}
	rw.mu.Lock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.mu.Unlock()
	rw.watcher.Close()
}

func (rw *RunWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	dir, name := filepath.Split(event.Name)
	dir = filepath.Clean(dir)

	if dir == rw.runsDir {
		// a new run directory
		if event.Op&fsnotify.Create == 0 {
			return
		}
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if rw.addRun(name) == nil {
				rw.mark(name)
			}
		}
		return
	}

	if filepath.Dir(dir) != rw.runsDir || !stateFile(name) {
		return
	}
	rw.mark(filepath.Base(dir))
}

func stateFile(name string) bool {
	switch name {
	case runstore.RunFile, runstore.NodesFile, runstore.ResultsFile:
		return true
	}
	return false
}

func (rw *RunWatcher) mark(runID string) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	rw.pending[runID] = struct{}{}
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, rw.flush)
}

func (rw *RunWatcher) flush() {
	rw.mu.Lock()
	pending := rw.pending
	rw.pending = make(map[string]struct{})
	rw.mu.Unlock()

	if rw.callback == nil || len(pending) == 0 {
		return
	}
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rw.callback(ids)
}

// SetDebounce sets the debounce duration for batching file changes
func (rw *RunWatcher) SetDebounce(d time.Duration) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.debounce = d
}
