package dlq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests against a real Redis. Set REDIS_ADDR (e.g.
// localhost:6379) to run them. Entries use unique job keys and the suite
// removes everything it commits.
func testQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rdb, logger), rdb
}

func commitTestEntry(t *testing.T, q *Queue, function string) string {
	t.Helper()
	ctx := context.Background()
	jobKey := "test-" + uuid.NewString()
	q.Commit(ctx, jobKey, errors.New("simulated failure"), map[string]interface{}{
		"function": function,
	})
	t.Cleanup(func() { q.Remove(ctx, jobKey) })
	return jobKey
}

func TestQueue_CommitAndGet(t *testing.T) {
	q, rdb := testQueue(t)
	ctx := context.Background()

	jobKey := commitTestEntry(t, q, "send_reply")

	entry, err := q.Get(ctx, jobKey)
	require.NoError(t, err)
	require.NotNil(t, entry)

	assert.Equal(t, jobKey, entry.JobKey)
	assert.Equal(t, "*errors.errorString", entry.ErrorType)
	assert.Equal(t, "simulated failure", entry.ErrorMessage)
	assert.NotEmpty(t, entry.Timestamp)
	assert.Contains(t, entry.JobDetails, `"function":"send_reply"`)

	// The record expires on its own after the retention window.
	ttl, err := rdb.TTL(ctx, hashKeyPrefix+jobKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Hours(), float64(0))
	assert.LessOrEqual(t, ttl, entryTTL)
}

func TestQueue_Get_Absent(t *testing.T) {
	q, _ := testQueue(t)

	entry, err := q.Get(context.Background(), "test-absent-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestQueue_CountAndList(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	before, err := q.Count(ctx)
	require.NoError(t, err)

	first := commitTestEntry(t, q, "send_reply")
	second := commitTestEntry(t, q, "handle_inbound_message")

	after, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	// Newest first.
	entries, err := q.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second, entries[0].JobKey)
	assert.Equal(t, first, entries[1].JobKey)
}

func TestQueue_Remove(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	jobKey := commitTestEntry(t, q, "send_reply")

	removed, err := q.Remove(ctx, jobKey)
	require.NoError(t, err)
	assert.True(t, removed)

	entry, err := q.Get(ctx, jobKey)
	require.NoError(t, err)
	assert.Nil(t, entry)

	removed, err = q.Remove(ctx, jobKey)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestQueue_Stats(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		commitTestEntry(t, q, "handle_inbound_message")
	}
	commitTestEntry(t, q, "send_reply")

	stats, err := q.Stats(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, stats.Total, int64(3))
	assert.GreaterOrEqual(t, stats.ByFunction["handle_inbound_message"], int64(2))
	assert.GreaterOrEqual(t, stats.ByFunction["send_reply"], int64(1))
	assert.GreaterOrEqual(t, stats.ByErrorType["*errors.errorString"], int64(3))
	assert.NotEmpty(t, stats.Sample)
	assert.LessOrEqual(t, len(stats.Sample), 10)
}

func TestQueue_Commit_UnserializableDetails(t *testing.T) {
	q, _ := testQueue(t)
	ctx := context.Background()

	jobKey := "test-" + uuid.NewString()
	t.Cleanup(func() { q.Remove(ctx, jobKey) })

	// Channels cannot be marshaled; the commit still lands with empty details.
	q.Commit(ctx, jobKey, fmt.Errorf("boom"), map[string]interface{}{
		"bad": make(chan int),
	})

	entry, err := q.Get(ctx, jobKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "{}", entry.JobDetails)
}
