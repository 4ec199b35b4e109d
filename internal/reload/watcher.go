package reload

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher tracks the schema and configuration files and reports the ones
// modified since the last snapshot.
type Watcher struct {
	mu    sync.Mutex
	files map[string]fileState
}

// NewWatcher takes a snapshot of paths.
func NewWatcher(paths ...string) *Watcher {
	watcher := &Watcher{}
	watcher.Update(paths...)
	return watcher
}

// Update replaces the tracked files with a fresh snapshot of paths. Missing
// files and directories are skipped.
func (w *Watcher) Update(paths ...string) {
	if w == nil {
		return
	}
	states := make(map[string]fileState, len(paths))
	for _, path := range uniquePaths(paths) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		states[path] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	w.mu.Lock()
	w.files = states
	w.mu.Unlock()
}

// Files returns the tracked paths in sorted order.
func (w *Watcher) Files() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for path := range w.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Check reports the files that changed or vanished since the last snapshot.
func (w *Watcher) Check() []string {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	changed := make([]string, 0)
	for path, state := range w.files {
		info, err := os.Stat(path)
		if err != nil {
			changed = append(changed, path)
			continue
		}
		if info.IsDir() {
			continue
		}
		if info.ModTime().After(state.modTime) || info.Size() != state.size {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

func uniquePaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
