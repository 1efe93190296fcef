package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/mnboos/job-graph/internal/domain"
)

const runColumns = `
	run_id, idempotency_key, scraper, query, status, worker_id,
	retry_count, max_retries, timeout_seconds, report, error_message,
	created_at, updated_at`

type runRow struct {
	RunID          string             `db:"run_id"`
	IdempotencyKey string             `db:"idempotency_key"`
	Scraper        string             `db:"scraper"`
	Query          pq.StringArray     `db:"query"`
	Status         string             `db:"status"`
	WorkerID       sql.NullString     `db:"worker_id"`
	RetryCount     int                `db:"retry_count"`
	MaxRetries     int                `db:"max_retries"`
	TimeoutSeconds int                `db:"timeout_seconds"`
	Report         types.NullJSONText `db:"report"`
	ErrorMessage   sql.NullString     `db:"error_message"`
	CreatedAt      time.Time          `db:"created_at"`
	UpdatedAt      time.Time          `db:"updated_at"`
}

func (r *runRow) toDomain() (*domain.ScrapeRun, error) {
	run := &domain.ScrapeRun{
		RunID:          r.RunID,
		IdempotencyKey: r.IdempotencyKey,
		Scraper:        r.Scraper,
		Query:          []string(r.Query),
		Status:         r.Status,
		WorkerID:       r.WorkerID.String,
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		TimeoutSeconds: r.TimeoutSeconds,
		ErrorMessage:   r.ErrorMessage.String,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Report.Valid {
		var report domain.RunReport
		if err := r.Report.Unmarshal(&report); err != nil {
			return nil, fmt.Errorf("failed to decode run report: %w", err)
		}
		run.Report = &report
	}
	return run, nil
}

// RunStore handles all database operations for scrape runs
type RunStore struct {
	db         *sqlx.DB
	logger     *slog.Logger
	staleAfter time.Duration
}

// NewRunStore creates a new RunStore instance
func NewRunStore(db *sqlx.DB, logger *slog.Logger) *RunStore {
	return &RunStore{
		db:     db,
		logger: logger,
	}
}

// WithStaleAfter lets ClaimRun take over a RUNNING run whose heartbeat is
// older than d. Zero disables takeover.
func (s *RunStore) WithStaleAfter(d time.Duration) *RunStore {
	s.staleAfter = d
	return s
}

// CreateRun inserts a PENDING run, or returns the existing run with the same
// idempotency key. The boolean reports whether a new row was written.
func (s *RunStore) CreateRun(ctx context.Context, run *domain.ScrapeRun) (*domain.ScrapeRun, bool, error) {
	query := `
		INSERT INTO scrape_runs (
			run_id, idempotency_key, scraper, query, status,
			max_retries, timeout_seconds, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, NOW(), NOW()
		)
		ON CONFLICT (idempotency_key)
			DO UPDATE SET idempotency_key = EXCLUDED.idempotency_key
		RETURNING ` + runColumns + `, (xmax = 0) AS created`

	var row struct {
		runRow
		Created bool `db:"created"`
	}
	err := s.db.QueryRowxContext(ctx, query,
		run.RunID,
		run.IdempotencyKey,
		run.Scraper,
		pq.StringArray(run.Query),
		domain.RunStatusPending,
		run.MaxRetries,
		run.TimeoutSeconds,
	).StructScan(&row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create scrape run: %w", err)
	}

	out, err := row.runRow.toDomain()
	if err != nil {
		return nil, false, err
	}
	return out, row.Created, nil
}

// GetRun retrieves a scrape run by its ID
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.ScrapeRun, error) {
	query := `SELECT ` + runColumns + ` FROM scrape_runs WHERE run_id = $1`

	var row runRow
	if err := s.db.GetContext(ctx, &row, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get scrape run: %w", err)
	}
	return row.toDomain()
}

// ClaimRun moves a PENDING run to RUNNING for workerID. A RUNNING run whose
// heartbeat went stale is taken over as well and counts as a retry.
// A run held by a live worker yields ErrRunInProgress; any other state
// yields ErrRunAlreadyClaimed.
func (s *RunStore) ClaimRun(ctx context.Context, runID, workerID string) (*domain.ScrapeRun, error) {
	query := `
		UPDATE scrape_runs
		SET status = $1,
		    worker_id = $2,
		    retry_count = CASE WHEN status = $1 THEN retry_count + 1 ELSE retry_count END,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $3
		  AND (
		    status = $4
		    OR (status = $1 AND $5::float8 > 0
		        AND last_heartbeat_at < NOW() - make_interval(secs => $5::float8))
		  )
		RETURNING ` + runColumns

	var row runRow
	err := s.db.QueryRowxContext(ctx, query,
		domain.RunStatusRunning,
		workerID,
		runID,
		domain.RunStatusPending,
		s.staleAfter.Seconds(),
	).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.claimConflict(ctx, runID, workerID)
		}
		return nil, fmt.Errorf("failed to claim scrape run: %w", err)
	}

	s.logger.Info("Run claimed successfully",
		slog.String("run_id", runID),
		slog.String("worker_id", workerID),
		slog.String("scraper", row.Scraper),
		slog.Int("retry_count", row.RetryCount),
	)

	return row.toDomain()
}

// claimConflict explains why ClaimRun matched no row
func (s *RunStore) claimConflict(ctx context.Context, runID, workerID string) error {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM scrape_runs WHERE run_id = $1`, runID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read scrape run status: %w", err)
	}

	s.logger.Warn("Failed to claim run",
		slog.String("run_id", runID),
		slog.String("worker_id", workerID),
		slog.String("status", status),
	)
	if status == domain.RunStatusRunning {
		return domain.ErrRunInProgress
	}
	return domain.ErrRunAlreadyClaimed
}

// CompleteRun marks a run COMPLETED and stores its report
func (s *RunStore) CompleteRun(ctx context.Context, runID string, report *domain.RunReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	query := `
		UPDATE scrape_runs
		SET status = $1,
			report = $2,
			error_message = NULL,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE run_id = $3
	`
	return s.exec(ctx, query, "complete", runID, domain.RunStatusCompleted, types.JSONText(reportJSON), runID)
}

// FailRun marks a run FAILED for good
func (s *RunStore) FailRun(ctx context.Context, runID, errorMsg string) error {
	query := `
		UPDATE scrape_runs
		SET status = $1,
			error_message = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE run_id = $3
	`
	return s.exec(ctx, query, "fail", runID, domain.RunStatusFailed, errorMsg, runID)
}

// RetryRun puts a failed run back to PENDING and counts the attempt so a
// redelivered message can claim it again
func (s *RunStore) RetryRun(ctx context.Context, runID, errorMsg string) error {
	query := `
		UPDATE scrape_runs
		SET status = $1,
			error_message = $2,
			retry_count = retry_count + 1,
			worker_id = NULL,
			updated_at = NOW()
		WHERE run_id = $3
	`
	return s.exec(ctx, query, "retry", runID, domain.RunStatusPending, errorMsg, runID)
}

// HeartbeatRun updates the last_heartbeat_at timestamp for a running run
func (s *RunStore) HeartbeatRun(ctx context.Context, runID string) error {
	query := `
		UPDATE scrape_runs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE run_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, runID, domain.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update run heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Run heartbeat update - no rows affected (run may not be running)",
			slog.String("run_id", runID),
		)
	}

	return nil
}

func (s *RunStore) exec(ctx context.Context, query, op, runID string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s scrape run: %w", op, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.ErrRunNotFound
	}

	s.logger.Info("Run status updated",
		slog.String("run_id", runID),
		slog.String("op", op),
	)
	return nil
}
