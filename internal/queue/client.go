package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrDuplicateJob is returned by Enqueue when a job with the same
// idempotency key was already enqueued within the uniqueness window.
var ErrDuplicateJob = errors.New("queue: duplicate job")

const uniqueKeyPrefix = "job_unique:"

// Config holds queue configuration shared by the client and the driver.
type Config struct {
	WaitingChannel   string
	DelayedChannel   string
	ReservedChannel  string
	FailedChannel    string
	MaxAttempts      int
	JobTimeout       time.Duration
	ReservationGrace time.Duration
	PollInterval     time.Duration
	KeepResult       time.Duration
}

// Defaults fills zero fields with the standard channel names and limits.
func (c *Config) Defaults() {
	if c.WaitingChannel == "" {
		c.WaitingChannel = "jobs:waiting"
	}
	if c.DelayedChannel == "" {
		c.DelayedChannel = "jobs:delayed"
	}
	if c.ReservedChannel == "" {
		c.ReservedChannel = "jobs:reserved"
	}
	if c.FailedChannel == "" {
		c.FailedChannel = "jobs:failed"
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 300 * time.Second
	}
	if c.ReservationGrace <= 0 {
		c.ReservationGrace = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.KeepResult <= 0 {
		c.KeepResult = time.Hour
	}
}

type enqueueOptions struct {
	key         string
	deferBy     time.Duration
	maxAttempts int
	timeout     time.Duration
}

// Option customizes a single Enqueue call.
type Option func(*enqueueOptions)

// WithKey sets the idempotency key. Enqueue reserves the key so that a
// duplicate delivery of the same logical job is rejected with
// ErrDuplicateJob instead of producing a second queue entry.
func WithKey(key string) Option {
	return func(o *enqueueOptions) { o.key = key }
}

// WithDefer schedules the job to become ready after d instead of immediately.
func WithDefer(d time.Duration) Option {
	return func(o *enqueueOptions) { o.deferBy = d }
}

// WithMaxAttempts overrides the configured attempt limit for this job.
func WithMaxAttempts(n int) Option {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

// WithTimeout overrides the configured per-job timeout for this job.
func WithTimeout(d time.Duration) Option {
	return func(o *enqueueOptions) { o.timeout = d }
}

// Client enqueues jobs into the Redis-backed queue.
type Client struct {
	rdb    redis.Cmdable
	config *Config
	logger *slog.Logger
}

// NewClient creates a queue client on top of an established Redis connection.
func NewClient(rdb redis.Cmdable, config *Config, logger *slog.Logger) *Client {
	config.Defaults()
	return &Client{
		rdb:    rdb,
		config: config,
		logger: logger,
	}
}

// Enqueue serializes the payload and pushes a new job. Jobs with an
// idempotency key are deduplicated at enqueue time via a SET NX reservation
// that lives for the keep-result window.
func (c *Client) Enqueue(ctx context.Context, kind Kind, payload interface{}, opts ...Option) (*Job, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("queue: unknown job kind %q", kind)
	}

	var options enqueueOptions
	for _, opt := range opts {
		opt(&options)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	if options.key != "" {
		reserved, err := c.rdb.SetNX(ctx, uniqueKeyPrefix+options.key, "1", c.config.KeepResult).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to reserve job key: %w", err)
		}
		if !reserved {
			return nil, fmt.Errorf("%w: key %s", ErrDuplicateJob, options.key)
		}
	}

	maxAttempts := c.config.MaxAttempts
	if options.maxAttempts > 0 {
		maxAttempts = options.maxAttempts
	}
	timeout := c.config.JobTimeout
	if options.timeout > 0 {
		timeout = options.timeout
	}

	job := &Job{
		ID:             uuid.New().String(),
		Kind:           kind,
		Key:            options.key,
		Payload:        data,
		Attempt:        1,
		MaxAttempts:    maxAttempts,
		TimeoutSeconds: int(timeout / time.Second),
		EnqueuedAt:     time.Now().UTC(),
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	if options.deferBy > 0 {
		readyAt := time.Now().Add(options.deferBy)
		err = c.rdb.ZAdd(ctx, c.config.DelayedChannel, &redis.Z{
			Score:  float64(readyAt.Unix()),
			Member: string(raw),
		}).Err()
	} else {
		err = c.rdb.LPush(ctx, c.config.WaitingChannel, string(raw)).Err()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	c.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("job_key", job.Key),
		slog.Duration("defer", options.deferBy),
	)

	return job, nil
}
