package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrEmpty is returned by Pop when no job is ready.
var ErrEmpty = errors.New("queue: no job available")

// Delivery is one popped job plus the raw encoding the driver needs to
// locate it in the reserved channel for Ack/Retry/Fail.
type Delivery struct {
	Job *Job

	raw string
}

// Info reports the depth of every queue channel.
type Info struct {
	Waiting  int64
	Delayed  int64
	Reserved int64
	Failed   int64
}

// popScript atomically promotes due delayed jobs and expired reservations
// back to the waiting list, then pops one job and reserves it until the
// deadline. Expired reservations re-entering the waiting list is what gives
// the queue at-least-once delivery across worker crashes.
var popScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, job in ipairs(due) do
	redis.call('LPUSH', KEYS[1], job)
end
if #due > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
end
local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, job in ipairs(expired) do
	redis.call('LPUSH', KEYS[1], job)
end
if #expired > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
end
local job = redis.call('RPOP', KEYS[1])
if job then
	redis.call('ZADD', KEYS[3], ARGV[2], job)
end
return job
`)

// Driver is the consumer side of the queue: it pops reserved deliveries and
// settles them with Ack, Retry or Fail.
type Driver struct {
	rdb    redis.Cmdable
	config *Config
	logger *slog.Logger
}

// NewDriver creates a queue driver on top of an established Redis connection.
func NewDriver(rdb redis.Cmdable, config *Config, logger *slog.Logger) *Driver {
	config.Defaults()
	return &Driver{
		rdb:    rdb,
		config: config,
		logger: logger,
	}
}

// Pop fetches one ready job, moving it to the reserved channel with a
// deadline of now + job timeout + grace. Returns ErrEmpty when nothing is
// ready.
func (d *Driver) Pop(ctx context.Context) (*Delivery, error) {
	now := time.Now()
	deadline := now.Add(d.config.JobTimeout + d.config.ReservationGrace)

	raw, err := popScript.Run(ctx, d.rdb,
		[]string{d.config.WaitingChannel, d.config.DelayedChannel, d.config.ReservedChannel},
		now.Unix(), deadline.Unix(),
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Unparseable entries cannot be retried; drop them into the failed
		// list so an operator can inspect what got corrupted.
		d.logger.Error("Dropping malformed queue entry",
			slog.String("error", err.Error()),
		)
		d.rdb.ZRem(ctx, d.config.ReservedChannel, raw)
		d.rdb.LPush(ctx, d.config.FailedChannel, raw)
		return nil, ErrEmpty
	}

	// The script reserves with the config-level timeout. A job carrying its
	// own timeout gets the reservation re-scored so it cannot expire and be
	// redelivered while still running.
	if job.TimeoutSeconds > 0 {
		jobDeadline := now.Add(time.Duration(job.TimeoutSeconds)*time.Second + d.config.ReservationGrace)
		if jobDeadline.Unix() != deadline.Unix() {
			if err := d.rdb.ZAdd(ctx, d.config.ReservedChannel, &redis.Z{
				Score:  float64(jobDeadline.Unix()),
				Member: raw,
			}).Err(); err != nil {
				d.logger.Warn("Failed to adjust reservation deadline",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return &Delivery{Job: &job, raw: raw}, nil
}

// Ack removes the delivery from the reserved channel. The job is done.
func (d *Driver) Ack(ctx context.Context, delivery *Delivery) error {
	if err := d.rdb.ZRem(ctx, d.config.ReservedChannel, delivery.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Retry re-dispatches the delivery after the given delay with the attempt
// counter incremented, releasing the current reservation.
func (d *Driver) Retry(ctx context.Context, delivery *Delivery, after time.Duration) error {
	retried := *delivery.Job
	retried.Attempt++

	raw, err := json.Marshal(&retried)
	if err != nil {
		return fmt.Errorf("failed to marshal retried job: %w", err)
	}

	pipe := d.rdb.TxPipeline()
	pipe.ZRem(ctx, d.config.ReservedChannel, delivery.raw)
	pipe.ZAdd(ctx, d.config.DelayedChannel, &redis.Z{
		Score:  float64(time.Now().Add(after).Unix()),
		Member: string(raw),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}

	d.logger.Info("Job scheduled for retry",
		slog.String("job_id", delivery.Job.ID),
		slog.String("kind", string(delivery.Job.Kind)),
		slog.Int("attempt", retried.Attempt),
		slog.Duration("after", after),
	)

	return nil
}

// Fail marks the delivery as permanently failed, moving it to the failed
// list for operator inspection.
func (d *Driver) Fail(ctx context.Context, delivery *Delivery) error {
	pipe := d.rdb.TxPipeline()
	pipe.ZRem(ctx, d.config.ReservedChannel, delivery.raw)
	pipe.LPush(ctx, d.config.FailedChannel, delivery.raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	d.logger.Warn("Job marked as permanently failed",
		slog.String("job_id", delivery.Job.ID),
		slog.String("kind", string(delivery.Job.Kind)),
		slog.Int("attempt", delivery.Job.Attempt),
	)

	return nil
}

// Info returns the current depth of each channel.
func (d *Driver) Info(ctx context.Context) (Info, error) {
	var info Info

	waiting, err := d.rdb.LLen(ctx, d.config.WaitingChannel).Result()
	if err != nil {
		return info, fmt.Errorf("failed to read waiting depth: %w", err)
	}
	delayed, err := d.rdb.ZCard(ctx, d.config.DelayedChannel).Result()
	if err != nil {
		return info, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	reserved, err := d.rdb.ZCard(ctx, d.config.ReservedChannel).Result()
	if err != nil {
		return info, fmt.Errorf("failed to read reserved depth: %w", err)
	}
	failed, err := d.rdb.LLen(ctx, d.config.FailedChannel).Result()
	if err != nil {
		return info, fmt.Errorf("failed to read failed depth: %w", err)
	}

	info.Waiting = waiting
	info.Delayed = delayed
	info.Reserved = reserved
	info.Failed = failed
	return info, nil
}
