// Package progress renders human-readable download progress. The reporter
// is fed through a per-resource callback; it keeps its own atomic counters
// and shares no state with the workers.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// Total is the number of resources the run will attempt.
	Total int

	// Output is where to write progress output. Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to redraw. Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs periodic progress lines for one run.
type Reporter struct {
	opts Options

	completed atomic.Int64
	failed    atomic.Int64

	startTime time.Time
	stopCh    chan struct{}
	mu        sync.Mutex
	stopped   bool
}

// NewReporter creates a reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
	}
}

// Start begins the redraw loop.
func (r *Reporter) Start() {
	r.startTime = time.Now()
	fmt.Fprintf(r.opts.Output, "[harvest] Downloading %d resources\n", r.opts.Total)
	go r.updateLoop()
}

// Stop stops the redraw loop and prints the final line. Safe to call more
// than once.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.stopCh)
}

// ResourceCompleted records one finished resource.
func (r *Reporter) ResourceCompleted(ok bool) {
	r.completed.Add(1)
	if !ok {
		r.failed.Add(1)
	}
}

func (r *Reporter) updateLoop() {
	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinal()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	done := r.completed.Load()
	failed := r.failed.Load()

	var percent float64
	if r.opts.Total > 0 {
		percent = float64(done) / float64(r.opts.Total) * 100
	}

	fmt.Fprintf(r.opts.Output, "\r[harvest] Progress: %.1f%% | %d/%d | failed: %d    ",
		percent, done, r.opts.Total, failed)
}

func (r *Reporter) printFinal() {
	done := r.completed.Load()
	failed := r.failed.Load()
	elapsed := time.Since(r.startTime).Round(time.Second)

	fmt.Fprintf(r.opts.Output, "\r[harvest] Done: %d/%d | failed: %d | elapsed: %s    \n",
		done, r.opts.Total, failed, elapsed)
}
