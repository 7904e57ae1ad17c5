// Package harvester is the bulk fetch orchestrator: it resolves (or
// resumes) the resource list, persists job state, runs the download
// scheduler and produces the run summary.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/opendatahub/catalog-harvester/internal/catalog"
	"github.com/opendatahub/catalog-harvester/internal/config"
	"github.com/opendatahub/catalog-harvester/internal/httpx"
	"github.com/opendatahub/catalog-harvester/internal/jobstate"
	"github.com/opendatahub/catalog-harvester/internal/logging"
	"github.com/opendatahub/catalog-harvester/internal/registry"
	"github.com/opendatahub/catalog-harvester/internal/resolver"
	"github.com/opendatahub/catalog-harvester/internal/runlog"
	"github.com/opendatahub/catalog-harvester/internal/scheduler"
	"github.com/opendatahub/catalog-harvester/internal/storage"
	"github.com/opendatahub/catalog-harvester/internal/streamer"
)

// Version information (set via ldflags).
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Result is what one run produced.
type Result struct {
	RunID   string
	Resumed bool
	Summary scheduler.Summary
}

// Harvester drives one harvest job. The optional fields may be set between
// New and Run.
type Harvester struct {
	// Filter overrides the format-list predicate derived from the config.
	Filter catalog.FilterFunc

	// Registry receives the run record; nil disables recording.
	Registry registry.Writer

	// OnStart is called once the resource list is known, right before the
	// download pass begins.
	OnStart func(total int)

	// OnProgress is forwarded to the scheduler.
	OnProgress func(streamer.Outcome)

	cfg    config.Config
	client catalog.Client
	store  *jobstate.Store
	logs   *runlog.Manager
	log    *slog.Logger
}

// New creates a harvester for the given catalog client.
func New(cfg config.Config, client catalog.Client) *Harvester {
	dest := cfg.Job.Destination
	return &Harvester{
		Filter: resolver.FormatFilter(cfg.Job.FilterFormats),
		cfg:    cfg,
		client: client,
		store:  jobstate.NewStore(filepath.Join(dest, "metadata")),
		logs:   runlog.NewManager(filepath.Join(dest, "log", "download")),
		log:    logging.Component("harvester"),
	}
}

// Run executes one harvest run: load-or-resolve, persist, download,
// summarize. Per-resource and per-page failures end up in the summary;
// only corrupt cached state and cancellation are returned as errors.
func (h *Harvester) Run(ctx context.Context) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	log := h.log.With("run_id", result.RunID)
	startedAt := time.Now()

	log.Info("harvest run starting",
		"catalog", h.client.BaseURL(),
		"format", h.cfg.Job.Format,
		"outer_workers", h.cfg.Perf.OuterWorkers,
		"inner_workers", h.cfg.Perf.InnerWorkers,
	)

	if h.cfg.Perf.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Perf.RunDeadline)
		defer cancel()
	}

	state, err := h.loadOrResolve(ctx, log, &result)
	if err != nil {
		return result, err
	}

	// Retention must finish before any worker opens its log file.
	if err := h.logs.Sweep(runlog.DefaultKeep); err != nil {
		log.Warn("run log sweep failed", "error", err)
	}
	run, err := h.logs.OpenRun(startedAt)
	if err != nil {
		return result, fmt.Errorf("open run log: %w", err)
	}
	defer run.Close()

	if h.OnStart != nil {
		h.OnStart(len(state.Refs))
	}

	result.Summary = scheduler.Run(ctx, state.Refs, scheduler.Options{
		OuterWorkers:    h.cfg.Perf.OuterWorkers,
		InnerWorkers:    h.cfg.Perf.InnerWorkers,
		ResourceTimeout: h.cfg.HTTP.ResourceTimeout,
		HTTP: httpx.Options{
			Headers:             h.cfg.HTTP.Headers,
			MaxIdleConnsPerHost: h.cfg.HTTP.MaxIdleConnsPerHost,
			RetryAttempts:       h.cfg.HTTP.RetryAttempts,
			RetryBackoff:        h.cfg.HTTP.RetryBackoff,
			RetryMaxBackoff:     h.cfg.HTTP.RetryMaxBackoff,
		},
		Streamer: streamer.Options{
			DatasetsDir:     h.datasetsDir(),
			Format:          h.cfg.Job.Format,
			MaxResourceSize: h.cfg.Job.MaxResourceSize,
		},
		Run:        run,
		OnProgress: h.OnProgress,
	})

	// A cancelled run has no trustworthy summary; propagate instead of
	// swallowing the interrupt as per-resource errors.
	if err := ctx.Err(); err != nil {
		return result, err
	}

	log.Info("harvest run complete",
		"attempted", result.Summary.Attempted,
		"succeeded", result.Summary.Succeeded,
		"failed", len(result.Summary.Failures),
		"duration", time.Since(startedAt).String(),
	)

	h.recordRun(ctx, log, result, startedAt)
	h.mirror(ctx, log)

	return result, nil
}

// loadOrResolve returns cached state when the file pair exists, otherwise
// resolves fresh and persists. Corrupt cached state is fatal for the run.
func (h *Harvester) loadOrResolve(ctx context.Context, log *slog.Logger, result *Result) (*jobstate.State, error) {
	state, err := h.store.Load()
	switch {
	case err == nil:
		result.Resumed = true
		log.Info("resuming from cached job state", "resources", len(state.Refs))
		return state, nil
	case errors.Is(err, jobstate.ErrNoState):
		// Fresh resolve below.
	default:
		return nil, fmt.Errorf("load job state: %w", err)
	}

	refs, kept, err := resolver.Resolve(ctx, h.client, resolver.Options{
		BatchSize:        h.cfg.Job.BatchSize,
		MaxEntries:       h.cfg.Job.MaxEntries,
		FromIndex:        h.cfg.Job.FromIndex,
		KeepResourceName: h.cfg.Job.KeepResourceName,
		SearchFilters:    h.cfg.Job.SearchFilters,
		Filter:           h.Filter,
		Log:              logging.Component("resolver"),
	})
	if err != nil {
		return nil, fmt.Errorf("resolve resources: %w", err)
	}

	state = &jobstate.State{Refs: refs, Kept: kept}

	// The ref list is always persisted after a fresh resolve so the next
	// run can resume; the metadata document follows the config flag.
	if err := h.store.Save(state, h.cfg.Job.SaveMetadata); err != nil {
		return nil, fmt.Errorf("persist job state: %w", err)
	}
	return state, nil
}

// recordRun writes the run record to the registry, best effort.
func (h *Harvester) recordRun(ctx context.Context, log *slog.Logger, result Result, startedAt time.Time) {
	if h.Registry == nil {
		return
	}
	err := h.Registry.RecordRun(ctx, registry.RunRecord{
		RunID:      result.RunID,
		CatalogURL: h.client.BaseURL(),
		Format:     h.cfg.Job.Format,
		Resumed:    result.Resumed,
		Attempted:  result.Summary.Attempted,
		Succeeded:  result.Summary.Succeeded,
		Failed:     len(result.Summary.Failures),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	})
	if err != nil {
		log.Warn("failed to record run in registry", "error", err)
	}
}

// mirror uploads the datasets tree to the configured bucket, best effort.
func (h *Harvester) mirror(ctx context.Context, log *slog.Logger) {
	if h.cfg.Mirror.URL == "" {
		return
	}

	m, err := storage.OpenMirror(ctx, h.cfg.Mirror.URL, h.cfg.Mirror.Prefix)
	if err != nil {
		log.Warn("open mirror failed", "error", err)
		return
	}
	defer m.Close()

	n, err := m.UploadTree(ctx, h.datasetsDir())
	if err != nil {
		log.Warn("mirror upload failed", "uploaded", n, "error", err)
		return
	}
	log.Info("mirrored datasets", "files", n, "bucket", h.cfg.Mirror.URL)
}

func (h *Harvester) datasetsDir() string {
	return filepath.Join(h.cfg.Job.Destination, "datasets", h.cfg.Job.Format)
}
