package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autolinehq/autoline-be/internal/queue"
)

// Driver is the queue consumer surface the worker runs against.
// Implemented by queue.Driver.
type Driver interface {
	Pop(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, delivery *queue.Delivery) error
	Retry(ctx context.Context, delivery *queue.Delivery, after time.Duration) error
	Fail(ctx context.Context, delivery *queue.Delivery) error
	Info(ctx context.Context) (queue.Info, error)
}

// DeadLetterCounter is the read-side DLQ surface the worker needs for
// metrics. Implemented by dlq.Queue.
type DeadLetterCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Config holds worker runtime configuration.
type Config struct {
	Logger             *slog.Logger
	Driver             Driver
	Context            *WorkerContext
	Metrics            *Metrics
	DeadLetters        DeadLetterCounter
	Concurrency        int
	MaxAttempts        int
	JobTimeout         time.Duration
	PollInterval       time.Duration
	QueueDepthInterval time.Duration
}

// Worker pulls jobs from the queue and runs them through the registered
// task executors with bounded concurrency.
type Worker struct {
	logger             *slog.Logger
	driver             Driver
	workerCtx          *WorkerContext
	metrics            *Metrics
	deadLetters        DeadLetterCounter
	registry           map[queue.Kind]TaskFunc
	concurrency        int
	maxAttempts        int
	jobTimeout         time.Duration
	pollInterval       time.Duration
	queueDepthInterval time.Duration
}

// New creates a worker. Zero limits fall back to the documented defaults
// (10 concurrent jobs, 3 attempts, 300s job timeout, 1s poll).
func New(cfg *Config) *Worker {
	w := &Worker{
		logger:             cfg.Logger,
		driver:             cfg.Driver,
		workerCtx:          cfg.Context,
		metrics:            cfg.Metrics,
		deadLetters:        cfg.DeadLetters,
		registry:           Registry(),
		concurrency:        cfg.Concurrency,
		maxAttempts:        cfg.MaxAttempts,
		jobTimeout:         cfg.JobTimeout,
		pollInterval:       cfg.PollInterval,
		queueDepthInterval: cfg.QueueDepthInterval,
	}
	if w.concurrency <= 0 {
		w.concurrency = 10
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 3
	}
	if w.jobTimeout <= 0 {
		w.jobTimeout = 300 * time.Second
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.queueDepthInterval <= 0 {
		w.queueDepthInterval = 15 * time.Second
	}
	return w
}

// Run consumes the queue until ctx is canceled. The consumer goroutine pops
// deliveries into a channel; N worker goroutines drain it. When ctx is
// canceled the consumer stops, the channel closes, and the workers finish
// the jobs already in flight before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries := make(chan *queue.Delivery)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(deliveries)
		return w.consume(gctx, deliveries)
	})

	g.Go(func() error {
		return w.reportQueueDepth(gctx)
	})

	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			// In-flight jobs run and settle on their own deadline;
			// cancellation only stops the consumer. Aborting a body mid-I/O
			// would strand its reservation and can double-send after
			// redelivery.
			for delivery := range deliveries {
				w.process(context.Background(), delivery)
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	w.logger.Info("Worker stopped")
	return nil
}

// consume polls the driver and feeds deliveries to the pool.
func (w *Worker) consume(ctx context.Context, deliveries chan<- *queue.Delivery) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		delivery, err := w.driver.Pop(ctx)
		switch {
		case errors.Is(err, queue.ErrEmpty):
			// Nothing ready; wait for the next tick.
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("Failed to pop job from queue",
				slog.String("error", err.Error()),
			)
		default:
			select {
			case deliveries <- delivery:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// process runs one delivery through its executor and settles it with the
// driver according to the result.
func (w *Worker) process(ctx context.Context, delivery *queue.Delivery) {
	job := delivery.Job

	task, ok := w.registry[job.Kind]
	if !ok {
		w.logger.Error("No executor registered for job kind",
			slog.String("job_id", job.ID),
			slog.String("kind", string(job.Kind)),
		)
		w.settle(ctx, delivery, &Result{Status: StatusFailed, Err: fmt.Errorf("unknown job kind %q", job.Kind)})
		return
	}

	timeout := w.jobTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	maxAttempts := w.maxAttempts
	if job.MaxAttempts > 0 {
		maxAttempts = job.MaxAttempts
	}

	jc := &JobContext{
		WorkerContext: w.workerCtx,
		Attempt:       job.Attempt,
		MaxAttempts:   maxAttempts,
	}

	result := task(jobCtx, jc, job)
	w.settle(ctx, delivery, result)
}

func (w *Worker) settle(ctx context.Context, delivery *queue.Delivery, result *Result) {
	job := delivery.Job

	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(string(job.Kind), string(result.Status)).Inc()
	}

	var err error
	switch result.Status {
	case StatusRetry:
		err = w.driver.Retry(ctx, delivery, result.RetryAfter)
	case StatusFailed:
		err = w.driver.Fail(ctx, delivery)
	default:
		err = w.driver.Ack(ctx, delivery)
	}
	if err != nil {
		w.logger.Error("Failed to settle job with queue",
			slog.String("job_id", job.ID),
			slog.String("job_key", result.JobKey),
			slog.String("status", string(result.Status)),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Job settled",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("job_key", result.JobKey),
		slog.String("status", string(result.Status)),
		slog.Int("attempt", job.Attempt),
	)
}

// reportQueueDepth publishes channel depths and the DLQ count on a ticker.
func (w *Worker) reportQueueDepth(ctx context.Context) error {
	if w.metrics == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(w.queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			info, err := w.driver.Info(ctx)
			if err != nil {
				w.logger.Warn("Failed to read queue info",
					slog.String("error", err.Error()),
				)
				continue
			}
			w.metrics.QueueDepth.WithLabelValues("waiting").Set(float64(info.Waiting))
			w.metrics.QueueDepth.WithLabelValues("delayed").Set(float64(info.Delayed))
			w.metrics.QueueDepth.WithLabelValues("reserved").Set(float64(info.Reserved))
			w.metrics.QueueDepth.WithLabelValues("failed").Set(float64(info.Failed))

			if w.deadLetters != nil {
				count, err := w.deadLetters.Count(ctx)
				if err != nil {
					w.logger.Warn("Failed to read dead letter count",
						slog.String("error", err.Error()),
					)
					continue
				}
				w.metrics.QueueDepth.WithLabelValues("dead_letter").Set(float64(count))
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
