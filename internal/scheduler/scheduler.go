// Package scheduler is the two-tier bounded-concurrency download engine.
// The resolved resource list is split across outer workers, each owning one
// pooled HTTP client shared by its inner workers; inner workers process
// their sub-chunk strictly sequentially, one fetch per resource under its
// own deadline.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendatahub/catalog-harvester/internal/httpx"
	"github.com/opendatahub/catalog-harvester/internal/jobstate"
	"github.com/opendatahub/catalog-harvester/internal/logging"
	"github.com/opendatahub/catalog-harvester/internal/metrics"
	"github.com/opendatahub/catalog-harvester/internal/runlog"
	"github.com/opendatahub/catalog-harvester/internal/streamer"
)

// Options configures one download pass.
type Options struct {
	OuterWorkers int
	InnerWorkers int

	// ResourceTimeout bounds each individual fetch. Expiry fails that
	// resource only, never the worker.
	ResourceTimeout time.Duration

	// HTTP configures the per-outer-worker pooled clients.
	HTTP httpx.Options

	// Streamer configures the per-resource fetch.
	Streamer streamer.Options

	// Run receives per-worker durable log files. May be nil in tests.
	Run *runlog.Run

	// OnProgress, when set, is invoked once per completed resource from
	// the aggregation loop. No cross-worker state is shared with it.
	OnProgress func(streamer.Outcome)
}

// Failure is one classified per-resource failure, suitable for re-driving
// a narrower retry job.
type Failure struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Summary aggregates one download pass. Results are accumulated by count
// and append only, so completion order across workers does not matter.
type Summary struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Run executes the download pass over refs and returns the summary. Worker
// failures are isolated; the only thing that stops scheduling new fetches
// is ctx cancellation, which the caller observes through ctx.Err.
func Run(ctx context.Context, refs []jobstate.ResourceRef, opts Options) Summary {
	summary := Summary{Attempted: len(refs)}
	if len(refs) == 0 {
		return summary
	}
	if opts.OuterWorkers < 1 {
		opts.OuterWorkers = 1
	}
	if opts.InnerWorkers < 1 {
		opts.InnerWorkers = 1
	}

	results := make(chan streamer.Outcome, len(refs))

	var wg sync.WaitGroup
	for id, chunk := range partition(len(refs), opts.OuterWorkers) {
		wg.Add(1)
		go outerWorker(ctx, id, refs[chunk[0]:chunk[1]], opts, results, &wg)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	m := metrics.Get()
	for out := range results {
		if out.OK() {
			summary.Succeeded++
			if m != nil {
				m.ResourcesSucceeded.Inc()
			}
		} else {
			summary.Failures = append(summary.Failures, Failure{
				ID:      out.Ref.ID,
				URL:     out.Ref.URL,
				Kind:    out.Kind.String(),
				Message: out.Message(),
			})
			if m != nil {
				m.ResourcesFailed.WithLabelValues(out.Kind.String()).Inc()
			}
		}
		if m != nil {
			m.ResourcesAttempted.Inc()
		}
		if opts.OnProgress != nil {
			opts.OnProgress(out)
		}
	}

	return summary
}

// outerWorker owns one pooled HTTP client and one run log handle, and fans
// its chunk out to inner workers. A crash inside the worker is recovered
// and logged, never propagated: sibling workers keep going.
func outerWorker(ctx context.Context, id int, chunk []jobstate.ResourceRef, opts Options, results chan<- streamer.Outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	log := logging.WorkerLogger(id, -1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("outer worker crashed", "panic", r)
		}
	}()

	var handle *runlog.Handle
	if opts.Run != nil {
		h, err := opts.Run.Worker(id)
		if err != nil {
			log.Warn("open worker run log failed", "error", err)
		} else {
			handle = h
			defer handle.Close()
		}
	}
	logInfo(handle, "[WORKER STARTED]")

	client := httpx.NewClient(opts.HTTP)
	start := time.Now()
	var succeeded atomic.Int64

	var inner sync.WaitGroup
	for _, bounds := range partition(len(chunk), opts.InnerWorkers) {
		sub := chunk[bounds[0]:bounds[1]]
		inner.Add(1)
		go func() {
			defer inner.Done()
			innerWorker(ctx, client, sub, opts, handle, results, &succeeded)
		}()
	}
	inner.Wait()

	logInfo(handle, fmt.Sprintf("[TOTAL DOWNLOADS:%d/%d]", succeeded.Load(), len(chunk)))
	logInfo(handle, fmt.Sprintf("[TOTAL TIME: %ds]", int(time.Since(start).Seconds())))
	logInfo(handle, "[WORKER COMPLETED]")
}

// innerWorker fetches its sub-chunk sequentially. Each resource gets its
// own deadline; a failure or expiry affects that resource only.
func innerWorker(ctx context.Context, client *httpx.Client, sub []jobstate.ResourceRef, opts Options, handle *runlog.Handle, results chan<- streamer.Outcome, succeeded *atomic.Int64) {
	m := metrics.Get()

	for _, ref := range sub {
		// Cancellation stops issuing new fetches; in-flight fetches run
		// out their own deadline.
		if ctx.Err() != nil {
			return
		}

		fctx := ctx
		cancel := context.CancelFunc(func() {})
		if opts.ResourceTimeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, opts.ResourceTimeout)
		}

		if m != nil {
			m.InFlightFetches.Inc()
		}
		fetchStart := time.Now()
		out := streamer.Fetch(fctx, client, ref, opts.Streamer)
		cancel()
		if m != nil {
			m.InFlightFetches.Dec()
			m.FetchDuration.Observe(time.Since(fetchStart).Seconds())
		}

		if out.OK() {
			succeeded.Add(1)
			logInfo(handle, out.Message())
			if out.Note != "" {
				logInfo(handle, fmt.Sprintf("[NOTE:%s][URL:%s]", out.Note, ref.URL))
			}
		} else {
			logError(handle, out.Message())
		}

		results <- out
	}
}

func logInfo(h *runlog.Handle, msg string) {
	if h != nil {
		h.Info(msg)
	}
}

func logError(h *runlog.Handle, msg string) {
	if h != nil {
		h.Error(msg)
	}
}
