// Package registry records run summaries in a PostgreSQL table so retries
// and dashboards can see what each run attempted. It is optional: an empty
// DSN yields a no-op writer.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL,
	catalog_url  TEXT NOT NULL,
	format       TEXT NOT NULL,
	resumed      BOOLEAN NOT NULL,
	attempted    INT NOT NULL,
	succeeded    INT NOT NULL,
	failed       INT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS harvest_runs_run_id_idx ON harvest_runs (run_id);
`

// RunRecord is one row in harvest_runs.
type RunRecord struct {
	RunID      string
	CatalogURL string
	Format     string
	Resumed    bool
	Attempted  int
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Writer persists run records.
type Writer interface {
	RecordRun(ctx context.Context, rec RunRecord) error
	Close()
}

// NewWriter creates a Postgres-backed writer, or a no-op writer when dsn is
// empty.
func NewWriter(ctx context.Context, dsn string) (Writer, error) {
	if dsn == "" {
		return noopWriter{}, nil
	}
	return newPostgresWriter(ctx, dsn)
}

// postgresWriter implements Writer using a pgx pool.
type postgresWriter struct {
	pool *pgxpool.Pool
}

func newPostgresWriter(ctx context.Context, dsn string) (*postgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &postgresWriter{pool: pool}, nil
}

// RecordRun inserts one run record.
func (w *postgresWriter) RecordRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO harvest_runs
			(run_id, catalog_url, format, resumed, attempted, succeeded, failed, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := w.pool.Exec(ctx, query,
		rec.RunID,
		rec.CatalogURL,
		rec.Format,
		rec.Resumed,
		rec.Attempted,
		rec.Succeeded,
		rec.Failed,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

func (w *postgresWriter) Close() {
	w.pool.Close()
}

// noopWriter is used when no registry is configured.
type noopWriter struct{}

func (noopWriter) RecordRun(ctx context.Context, rec RunRecord) error { return nil }
func (noopWriter) Close()                                             {}
