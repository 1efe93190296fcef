package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mnboos/job-graph/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultRunTimeout        = 30 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
)

// Source delivers run messages; *rabbitmq.Client satisfies it.
type Source interface {
	SetQos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// RunStore tracks the lifecycle of scrape runs
type RunStore interface {
	ClaimRun(ctx context.Context, runID, workerID string) (*domain.ScrapeRun, error)
	CompleteRun(ctx context.Context, runID string, report *domain.RunReport) error
	FailRun(ctx context.Context, runID, errorMsg string) error
	RetryRun(ctx context.Context, runID, errorMsg string) error
	HeartbeatRun(ctx context.Context, runID string) error
}

// Runner executes one scrape run; *pipeline.Task satisfies it.
type Runner interface {
	Run(ctx context.Context, scraper string, query []string) (*domain.RunReport, error)
}

// Config holds worker configuration
type Config struct {
	WorkerID          string
	Logger            *slog.Logger
	Source            Source
	Store             RunStore
	Runner            Runner
	Concurrency       int
	PrefetchCount     int
	RunTimeout        time.Duration
	HeartbeatInterval time.Duration
}

// runTask pairs a decoded message with the delivery to acknowledge
type runTask struct {
	msg      domain.RunMessage
	delivery amqp.Delivery
}

// Worker consumes scrape run messages and executes them with a fixed pool
// of goroutines.
type Worker struct {
	workerID          string
	logger            *slog.Logger
	source            Source
	store             RunStore
	runner            Runner
	concurrency       int
	prefetchCount     int
	runTimeout        time.Duration
	heartbeatInterval time.Duration

	tasks    chan runTask
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	return &Worker{
		workerID:          cfg.WorkerID,
		logger:            cfg.Logger.With(slog.String("worker_id", cfg.WorkerID)),
		source:            cfg.Source,
		store:             cfg.Store,
		runner:            cfg.Runner,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		runTimeout:        runTimeout,
		heartbeatInterval: heartbeat,
		tasks:             make(chan runTask),
		stopChan:          make(chan struct{}),
	}
}

// Start consumes run messages until ctx is canceled or the delivery
// channel closes. It blocks; in-flight runs finish before Stop returns.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("run_timeout", w.runTimeout),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	if !w.startMessageDispatcher(ctx, deliveries) {
		return fmt.Errorf("delivery channel closed")
	}
	return nil
}

// Stop signals the pool to exit and waits for in-flight runs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
