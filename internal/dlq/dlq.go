// Package dlq persists terminally-failed job metadata in Redis for
// operator inspection and requeue. Writes on the hot path are best-effort:
// the data is diagnostic, so availability wins over strict atomicity.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	hashKeyPrefix = "dlq:"
	listKey       = "dead_letter_queue"
	entryTTL      = 7 * 24 * time.Hour
)

// Entry is one dead-lettered job as stored in the dlq:<job_key> hash.
// JobDetails is a JSON object and carries a "function" field naming the
// originating executor, which is what requeue and stats key off.
type Entry struct {
	JobKey       string `json:"job_key"`
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message"`
	Timestamp    string `json:"timestamp"`
	JobDetails   string `json:"job_details"`
}

// Stats aggregates the queue for the operator CLI.
type Stats struct {
	Total       int64
	ByFunction  map[string]int64
	ByErrorType map[string]int64
	Sample      []Entry
}

// Queue is the Redis-backed dead-letter store. Every job key appears at
// most once: as a hash at dlq:<key> and as a member of the
// dead_letter_queue list, newest at the head.
type Queue struct {
	rdb    redis.Cmdable
	logger *slog.Logger
}

// New creates a dead-letter queue on top of an established Redis connection.
func New(rdb redis.Cmdable, logger *slog.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		logger: logger,
	}
}

// Commit writes the hash record, pushes the key onto the list and sets the
// 7-day expiry. The three writes are one logical unit but partial failure
// is tolerated; errors are logged and never returned, since a DLQ write
// failure must not fail the job that is already being dead-lettered.
func (q *Queue) Commit(ctx context.Context, jobKey string, jobErr error, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		q.logger.Error("Failed to serialize dead letter details",
			slog.String("job_key", jobKey),
			slog.String("error", err.Error()),
		)
		detailsJSON = []byte("{}")
	}

	entry := map[string]interface{}{
		"job_key":       jobKey,
		"error_type":    fmt.Sprintf("%T", jobErr),
		"error_message": jobErr.Error(),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"job_details":   string(detailsJSON),
	}

	hashKey := hashKeyPrefix + jobKey
	if err := q.rdb.HSet(ctx, hashKey, entry).Err(); err != nil {
		q.logger.Error("Failed to write dead letter record",
			slog.String("job_key", jobKey),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := q.rdb.LPush(ctx, listKey, jobKey).Err(); err != nil {
		q.logger.Error("Failed to index dead letter record",
			slog.String("job_key", jobKey),
			slog.String("error", err.Error()),
		)
	}
	if err := q.rdb.Expire(ctx, hashKey, entryTTL).Err(); err != nil {
		q.logger.Error("Failed to set dead letter expiry",
			slog.String("job_key", jobKey),
			slog.String("error", err.Error()),
		)
	}

	q.logger.Error("Job moved to dead letter queue",
		slog.String("job_key", jobKey),
		slog.String("error_message", jobErr.Error()),
	)
}

// Count returns the number of entries in the queue.
func (q *Queue) Count(ctx context.Context) (int64, error) {
	count, err := q.rdb.LLen(ctx, listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letter queue: %w", err)
	}
	return count, nil
}

// List returns up to limit entries starting at offset, newest first.
// Entries whose hash already expired are skipped.
func (q *Queue) List(ctx context.Context, offset, limit int64) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	jobKeys, err := q.rdb.LRange(ctx, listKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter queue: %w", err)
	}

	entries := make([]Entry, 0, len(jobKeys))
	for _, jobKey := range jobKeys {
		entry, err := q.Get(ctx, jobKey)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}
	return entries, nil
}

// Get fetches one entry by job key. Returns nil when the record is absent.
func (q *Queue) Get(ctx context.Context, jobKey string) (*Entry, error) {
	fields, err := q.rdb.HGetAll(ctx, hashKeyPrefix+jobKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return &Entry{
		JobKey:       fields["job_key"],
		ErrorType:    fields["error_type"],
		ErrorMessage: fields["error_message"],
		Timestamp:    fields["timestamp"],
		JobDetails:   fields["job_details"],
	}, nil
}

// Remove deletes one entry: the list membership and the hash record.
// Returns true if the key was present in the list.
func (q *Queue) Remove(ctx context.Context, jobKey string) (bool, error) {
	removed, err := q.rdb.LRem(ctx, listKey, 0, jobKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove dead letter record: %w", err)
	}
	if err := q.rdb.Del(ctx, hashKeyPrefix+jobKey).Err(); err != nil {
		return false, fmt.Errorf("failed to delete dead letter record: %w", err)
	}
	if removed > 0 {
		q.logger.Info("Removed job from dead letter queue",
			slog.String("job_key", jobKey),
		)
	}
	return removed > 0, nil
}

// Clear deletes every entry and the index list. Returns the number of
// entries cleared.
func (q *Queue) Clear(ctx context.Context) (int64, error) {
	jobKeys, err := q.rdb.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dead letter queue: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	for _, jobKey := range jobKeys {
		pipe.Del(ctx, hashKeyPrefix+jobKey)
	}
	pipe.Del(ctx, listKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear dead letter queue: %w", err)
	}

	count := int64(len(jobKeys))
	q.logger.Info("Cleared dead letter queue",
		slog.Int64("count", count),
	)
	return count, nil
}

// Stats aggregates counts by originating function and by error kind over
// up to the first 1000 entries, plus a sample of the newest 10.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	total, err := q.Count(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := q.List(ctx, 0, 1000)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:       total,
		ByFunction:  make(map[string]int64),
		ByErrorType: make(map[string]int64),
	}

	for _, entry := range entries {
		function := "unknown"
		var details map[string]interface{}
		if err := json.Unmarshal([]byte(entry.JobDetails), &details); err == nil {
			if f, ok := details["function"].(string); ok && f != "" {
				function = f
			}
		}

		errorType := entry.ErrorType
		if errorType == "" {
			errorType = "unknown"
		}

		stats.ByFunction[function]++
		stats.ByErrorType[errorType]++
	}

	if len(entries) > 10 {
		entries = entries[:10]
	}
	stats.Sample = entries

	return stats, nil
}
