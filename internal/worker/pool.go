package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnboos/job-graph/internal/domain"
)

// spawnWorkerPool starts w.concurrency goroutines pulling from w.tasks
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	logger := w.logger.With(slog.String("worker_name", fmt.Sprintf("%s-%d", w.workerID, workerNum)))

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case task := <-w.tasks:
			logger := logger.With(slog.String("run_id", task.msg.RunID))

			err := w.processRun(ctx, task.msg)
			if err == nil {
				if ackErr := task.delivery.Ack(false); ackErr != nil {
					logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
				}
				continue
			}

			requeue := shouldRequeue(err)
			logger.Error("Run processing failed",
				slog.String("error", err.Error()),
				slog.Bool("requeue", requeue),
			)
			if nackErr := task.delivery.Nack(false, requeue); nackErr != nil {
				logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
			}
		}
	}
}

// shouldRequeue requeues only errors marked retryable
func shouldRequeue(err error) bool {
	switch {
	case errors.Is(err, domain.ErrRunAlreadyClaimed),
		errors.Is(err, domain.ErrMaxRetriesExceeded),
		errors.Is(err, domain.ErrInvalidPayload):
		return false
	}

	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}
