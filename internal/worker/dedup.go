package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const processedKeyPrefix = "job_processed:"

// DefaultDedupTTL is how long a processed marker is retained.
const DefaultDedupTTL = time.Hour

// Dedup answers whether a job key was already processed and records
// completion. Implementations must never fail the caller: reads fail open,
// writes are best-effort.
type Dedup interface {
	IsProcessed(ctx context.Context, jobKey string) bool
	MarkProcessed(ctx context.Context, jobKey string)
}

// DedupGuard is the Redis-backed Dedup implementation. A marker at
// job_processed:<key> means the job completed (or was terminally handled)
// and must not be reprocessed.
type DedupGuard struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewDedupGuard creates a guard with the given marker TTL. A non-positive
// TTL falls back to DefaultDedupTTL.
func NewDedupGuard(rdb redis.Cmdable, ttl time.Duration, logger *slog.Logger) *DedupGuard {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupGuard{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// IsProcessed reports whether a marker exists for jobKey. On Redis failure
// it logs and returns false: re-processing is preferred over blocking
// delivery.
func (g *DedupGuard) IsProcessed(ctx context.Context, jobKey string) bool {
	err := g.rdb.Get(ctx, processedKeyPrefix+jobKey).Err()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			g.logger.Error("Redis error while checking job marker",
				slog.String("job_key", jobKey),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}

// MarkProcessed writes the processed marker with the configured TTL. Errors
// are logged and swallowed: the job's side effect already happened, so a
// marker write failure must never fail the job.
func (g *DedupGuard) MarkProcessed(ctx context.Context, jobKey string) {
	if err := g.rdb.Set(ctx, processedKeyPrefix+jobKey, "1", g.ttl).Err(); err != nil {
		g.logger.Error("Redis error while marking job as processed",
			slog.String("job_key", jobKey),
			slog.String("error", err.Error()),
		)
	}
}
