package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnboos/job-graph/internal/domain"
)

// processRun claims the run, executes it under its timeout with a heartbeat
// and records the outcome. The returned error decides ACK or NACK.
func (w *Worker) processRun(ctx context.Context, msg domain.RunMessage) error {
	logger := w.logger.With(slog.String("run_id", msg.RunID))

	run, err := w.store.ClaimRun(ctx, msg.RunID, w.workerID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRunInProgress) && msg.Redelivered:
			// the previous consumer may have died; come back once its
			// heartbeat can have gone stale
			logger.Info("Run still held by another worker, requeueing")
			if err := sleepContext(ctx, w.heartbeatInterval); err != nil {
				return fmt.Errorf("failed to claim run: %w", err)
			}
			return domain.NewRetryableError(fmt.Errorf("failed to claim run: %w", domain.ErrRunInProgress))
		case errors.Is(err, domain.ErrRunAlreadyClaimed), errors.Is(err, domain.ErrRunInProgress):
			logger.Warn("Run already claimed, skipping", slog.String("reason", err.Error()))
		}
		return fmt.Errorf("failed to claim run: %w", err)
	}

	timeout := w.runTimeout
	if run.TimeoutSeconds > 0 {
		timeout = time.Duration(run.TimeoutSeconds) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendHeartbeat(runCtx, run.RunID, heartbeatDone)
	defer close(heartbeatDone)

	report, runErr := w.runner.Run(runCtx, run.Scraper, run.Query)

	// status updates must land even when the run was canceled
	statusCtx := context.WithoutCancel(ctx)

	if runErr == nil {
		if err := w.store.CompleteRun(statusCtx, run.RunID, report); err != nil {
			// the work is done; redelivery would only repeat it
			logger.Error("Failed to mark run completed", slog.String("error", err.Error()))
		}
		logger.Info("Run completed",
			slog.String("scraper", run.Scraper),
			slog.Int("created", report.Created),
			slog.Int("updated", report.Updated),
		)
		return nil
	}

	if errors.Is(runErr, domain.ErrUnknownScraper) {
		w.markFailed(statusCtx, logger, run.RunID, runErr)
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, runErr)
	}

	if run.RetryCount < run.MaxRetries {
		if err := w.store.RetryRun(statusCtx, run.RunID, runErr.Error()); err != nil {
			logger.Error("Failed to reset run for retry", slog.String("error", err.Error()))
			w.markFailed(statusCtx, logger, run.RunID, runErr)
			return fmt.Errorf("run failed: %w", runErr)
		}
		logger.Info("Run will be retried",
			slog.Int("retry_count", run.RetryCount+1),
			slog.Int("max_retries", run.MaxRetries),
		)
		return domain.NewRetryableError(fmt.Errorf("run failed: %w", runErr))
	}

	w.markFailed(statusCtx, logger, run.RunID, runErr)
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, runErr)
}

func (w *Worker) markFailed(ctx context.Context, logger *slog.Logger, runID string, cause error) {
	if err := w.store.FailRun(ctx, runID, cause.Error()); err != nil {
		logger.Error("Failed to mark run failed", slog.String("error", err.Error()))
	}
}

// sendHeartbeat refreshes the run's heartbeat until done is closed
func (w *Worker) sendHeartbeat(ctx context.Context, runID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.HeartbeatRun(ctx, runID); err != nil {
				w.logger.Warn("Failed to update run heartbeat",
					slog.String("run_id", runID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
