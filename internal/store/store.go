package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// DBPool abstracts pgxpool.Pool so that tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ErrUnknownRun is returned when finishing a run that was never created.
var ErrUnknownRun = errors.New("unknown navigation run")

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS navigation_runs (
        id          TEXT PRIMARY KEY,
        repository  TEXT NOT NULL,
        start_url   TEXT NOT NULL,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ,
        final_stage TEXT,
        steps       INTEGER,
        release     JSONB
    )`,
	`CREATE TABLE IF NOT EXISTS navigation_events (
        id          BIGSERIAL PRIMARY KEY,
        run_id      TEXT NOT NULL REFERENCES navigation_runs(id) ON DELETE CASCADE,
        step        INTEGER NOT NULL,
        kind        TEXT NOT NULL,
        stage       TEXT NOT NULL,
        url         TEXT,
        action      JSONB,
        details     JSONB,
        recorded_at TIMESTAMPTZ NOT NULL
    )`,
	`CREATE INDEX IF NOT EXISTS navigation_events_run_step_idx ON navigation_events (run_id, step)`,
}

const (
	sqlInsertRun = `
        INSERT INTO navigation_runs (id, repository, start_url, started_at)
        VALUES ($1, $2, $3, $4)`
	sqlFinishRun = `
        UPDATE navigation_runs
        SET finished_at = $2, final_stage = $3, steps = $4, release = $5
        WHERE id = $1`
	sqlInsertEvent = `
        INSERT INTO navigation_events (run_id, step, kind, stage, url, action, details, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

// RunSummary is the outcome stored when a run finishes.
type RunSummary struct {
	FinalStage schemas.Stage
	Steps      int
	Release    *schemas.ReleaseResult
	FinishedAt time.Time
}

// Store records navigation runs and their trace events in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Store doubles as a tracer so that every event reaches the database.
var _ schemas.Tracer = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the run tables inside a single transaction.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateRun inserts the row that events of runID refer to.
func (s *Store) CreateRun(ctx context.Context, runID, repository, startURL string, startedAt time.Time) error {
	if _, err := s.pool.Exec(ctx, sqlInsertRun, runID, repository, startURL, startedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the outcome of runID.
func (s *Store) FinishRun(ctx context.Context, runID string, summary RunSummary) error {
	var release []byte
	if summary.Release != nil {
		raw, err := json.Marshal(summary.Release)
		if err != nil {
			return fmt.Errorf("failed to marshal release: %w", err)
		}
		release = raw
	}

	tag, err := s.pool.Exec(ctx, sqlFinishRun,
		runID, summary.FinishedAt.UTC(), string(summary.FinalStage), summary.Steps, release)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	return nil
}

// Record inserts one trace event.
func (s *Store) Record(ctx context.Context, event schemas.TraceEvent) error {
	var action []byte
	if event.Action != nil {
		raw, err := json.Marshal(event.Action)
		if err != nil {
			return fmt.Errorf("failed to marshal action: %w", err)
		}
		action = raw
	}
	var details []byte
	if len(event.Details) > 0 && string(event.Details) != "null" {
		details = event.Details
	}
	recordedAt := event.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, sqlInsertEvent,
		event.RunID, event.Step, string(event.Kind), string(event.Stage),
		event.URL, action, details, recordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s event for step %d: %w", event.Kind, event.Step, err)
	}
	return nil
}

// SaveImage is a no-op. Screenshots stay in the file trace.
func (s *Store) SaveImage(context.Context, int, string, []byte) error {
	return nil
}
