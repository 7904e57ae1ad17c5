// Package runlog writes the durable per-run download logs. Each outer
// worker owns one file in the run directory; a drain goroutine per handle
// decouples workers from log I/O so fetch progress never blocks on disk
// latency.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TimestampLayout names run directories so lexical order is chronological.
const TimestampLayout = "060102_15_04_05"

// DefaultKeep is how many prior run directories survive the retention
// sweep.
const DefaultKeep = 3

// Manager owns the log root (<destination>/log/download).
type Manager struct {
	root string
}

// NewManager creates a manager for the given log root.
func NewManager(root string) *Manager {
	return &Manager{root: root}
}

// Sweep deletes all but the keep most recent prior run directories, by
// name. It must complete before any worker opens a log file, so a
// just-created file is never deleted.
func (m *Manager) Sweep(keep int) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read log root %s: %w", m.root, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	for _, name := range dirs[min(keep, len(dirs)):] {
		if err := os.RemoveAll(filepath.Join(m.root, name)); err != nil {
			return fmt.Errorf("remove old run log %s: %w", name, err)
		}
	}
	return nil
}

// OpenRun creates the directory for a run named by ts and returns its Run.
func (m *Manager) OpenRun(ts time.Time) (*Run, error) {
	dir := filepath.Join(m.root, ts.Format(TimestampLayout))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create run log dir %s: %w", dir, err)
	}
	return &Run{dir: dir}, nil
}

// Run is one run's log directory with its open worker handles.
type Run struct {
	dir string

	mu      sync.Mutex
	handles []*Handle
}

// Dir returns the run's log directory.
func (r *Run) Dir() string {
	return r.dir
}

// Worker opens (or creates) the log handle for one outer worker.
func (r *Run) Worker(id int) (*Handle, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("%d.log", id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open worker log %s: %w", path, err)
	}

	h := &Handle{
		worker: id,
		ch:     make(chan record, 256),
		done:   make(chan struct{}),
	}
	go h.drain(f)

	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()
	return h, nil
}

// Close flushes and closes every open handle.
func (r *Run) Close() {
	r.mu.Lock()
	handles := r.handles
	r.handles = nil
	r.mu.Unlock()

	for _, h := range handles {
		h.Close()
	}
}

type record struct {
	at    time.Time
	level string
	msg   string
}

// Handle is one worker's buffered log writer.
type Handle struct {
	worker    int
	ch        chan record
	done      chan struct{}
	closeOnce sync.Once
}

// Info records an informational line.
func (h *Handle) Info(msg string) {
	h.ch <- record{at: time.Now(), level: "INFO", msg: msg}
}

// Error records an error line.
func (h *Handle) Error(msg string) {
	h.ch <- record{at: time.Now(), level: "ERROR", msg: msg}
}

// Close flushes buffered records and closes the underlying file. It is safe
// to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.ch)
		<-h.done
	})
}

// drain writes buffered records to the file until the handle closes.
func (h *Handle) drain(f *os.File) {
	defer close(h.done)
	defer f.Close()

	for rec := range h.ch {
		fmt.Fprintf(f, "[%s][worker-%d][%s] %s\n",
			rec.at.Format("2006-01-02 15:04:05"), h.worker, rec.level, rec.msg)
	}
}
