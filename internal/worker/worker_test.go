package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolinehq/autoline-be/internal/queue"
)

type fakeDriver struct {
	mu      sync.Mutex
	pending []*queue.Delivery
	acked   []*queue.Delivery
	retried []*queue.Delivery
	delays  []time.Duration
	failed  []*queue.Delivery
}

func (d *fakeDriver) Pop(_ context.Context) (*queue.Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil, queue.ErrEmpty
	}
	delivery := d.pending[0]
	d.pending = d.pending[1:]
	return delivery, nil
}

func (d *fakeDriver) Ack(_ context.Context, delivery *queue.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = append(d.acked, delivery)
	return nil
}

func (d *fakeDriver) Retry(_ context.Context, delivery *queue.Delivery, after time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.retried = append(d.retried, delivery)
	d.delays = append(d.delays, after)
	return nil
}

func (d *fakeDriver) Fail(_ context.Context, delivery *queue.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, delivery)
	return nil
}

func (d *fakeDriver) Info(_ context.Context) (queue.Info, error) {
	return queue.Info{}, nil
}

func (d *fakeDriver) counts() (acked, retried, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.acked), len(d.retried), len(d.failed)
}

func testWorker(t *testing.T, driver *fakeDriver, env *taskEnv) *Worker {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&Config{
		Logger:       logger,
		Driver:       driver,
		Context:      env.jobContext(1, 3).WorkerContext,
		Concurrency:  2,
		MaxAttempts:  3,
		JobTimeout:   5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
}

func delivery(t *testing.T, kind queue.Kind, key string, payload interface{}, attempt int) *queue.Delivery {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Delivery{
		Job: &queue.Job{
			ID:          "job-" + key,
			Kind:        kind,
			Key:         key,
			Payload:     data,
			Attempt:     attempt,
			MaxAttempts: 3,
		},
	}
}

func runUntilSettled(t *testing.T, w *Worker, driver *fakeDriver, want int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		acked, retried, failed := driver.counts()
		if acked+retried+failed >= want {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out waiting for %d settled jobs", want)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWorker_AcksSuccessfulJob(t *testing.T) {
	env := newTaskEnv()
	driver := &fakeDriver{pending: []*queue.Delivery{
		delivery(t, queue.KindHandleInboundMessage, "m1", queue.InboundMessagePayload{
			CustomerID:  "cust-1",
			FromNumber:  "+15550001111",
			MessageText: "hi",
			MessageID:   "m1",
		}, 1),
	}}

	runUntilSettled(t, testWorker(t, driver, env), driver, 1)

	acked, retried, failed := driver.counts()
	assert.Equal(t, 1, acked)
	assert.Zero(t, retried)
	assert.Zero(t, failed)
	assert.Equal(t, 1, env.sender.sentCount())
}

func TestWorker_RetriesFailedJobWithBackoff(t *testing.T) {
	env := newTaskEnv()
	env.searcher.err = assertableError("backend down")
	driver := &fakeDriver{pending: []*queue.Delivery{
		delivery(t, queue.KindHandleInboundMessage, "m1", queue.InboundMessagePayload{
			CustomerID:  "cust-1",
			FromNumber:  "+15550001111",
			MessageText: "hi",
			MessageID:   "m1",
		}, 2),
	}}

	runUntilSettled(t, testWorker(t, driver, env), driver, 1)

	acked, retried, failed := driver.counts()
	assert.Zero(t, acked)
	assert.Equal(t, 1, retried)
	assert.Zero(t, failed)
	require.Len(t, driver.delays, 1)
	assert.Equal(t, 60*time.Second, driver.delays[0])
}

func TestWorker_DeadLetteredInboundJobIsAcked(t *testing.T) {
	env := newTaskEnv()
	env.searcher.err = assertableError("backend down")
	driver := &fakeDriver{pending: []*queue.Delivery{
		delivery(t, queue.KindHandleInboundMessage, "m1", queue.InboundMessagePayload{
			CustomerID:  "cust-1",
			FromNumber:  "+15550001111",
			MessageText: "hi",
			MessageID:   "m1",
		}, 3),
	}}

	runUntilSettled(t, testWorker(t, driver, env), driver, 1)

	// dead_letter is terminal but swallowed: the delivery is acked, the
	// record lives in the DLQ.
	acked, retried, failed := driver.counts()
	assert.Equal(t, 1, acked)
	assert.Zero(t, retried)
	assert.Zero(t, failed)
	assert.Equal(t, 1, env.sink.commitCount())
}

func TestWorker_UnknownKindIsFailed(t *testing.T) {
	env := newTaskEnv()
	driver := &fakeDriver{pending: []*queue.Delivery{
		{Job: &queue.Job{ID: "job-x", Kind: queue.Kind("bogus"), Payload: json.RawMessage(`{}`)}},
	}}

	runUntilSettled(t, testWorker(t, driver, env), driver, 1)

	acked, retried, failed := driver.counts()
	assert.Zero(t, acked)
	assert.Zero(t, retried)
	assert.Equal(t, 1, failed)
}

func TestWorker_ProcessesMultipleJobs(t *testing.T) {
	env := newTaskEnv()
	var deliveries []*queue.Delivery
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		deliveries = append(deliveries, delivery(t, queue.KindHandleInboundMessage, id, queue.InboundMessagePayload{
			CustomerID:  "cust-1",
			FromNumber:  "+15550001111",
			MessageText: "hi",
			MessageID:   id,
		}, 1))
	}
	driver := &fakeDriver{pending: deliveries}

	runUntilSettled(t, testWorker(t, driver, env), driver, 4)

	acked, _, _ := driver.counts()
	assert.Equal(t, 4, acked)
	assert.Equal(t, 4, env.sender.sentCount())
}

func TestWorker_ShutdownDrainsInFlightJob(t *testing.T) {
	env := newTaskEnv()
	env.searcher.delay = 150 * time.Millisecond
	driver := &fakeDriver{pending: []*queue.Delivery{
		delivery(t, queue.KindHandleInboundMessage, "m1", queue.InboundMessagePayload{
			CustomerID:  "cust-1",
			FromNumber:  "+15550001111",
			MessageText: "hi",
			MessageID:   "m1",
		}, 1),
	}}

	w := testWorker(t, driver, env)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Shut down while the job body is still executing.
	require.Eventually(t, func() bool { return env.searcher.callCount() >= 1 },
		2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	// The in-flight job ran to completion and was acked, not aborted and
	// rescheduled.
	acked, retried, failed := driver.counts()
	assert.Equal(t, 1, acked)
	assert.Zero(t, retried)
	assert.Zero(t, failed)
	assert.Equal(t, 1, env.sender.sentCount())
}

func TestNew_Defaults(t *testing.T) {
	w := New(&Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	assert.Equal(t, 10, w.concurrency)
	assert.Equal(t, 3, w.maxAttempts)
	assert.Equal(t, 300*time.Second, w.jobTimeout)
	assert.Equal(t, time.Second, w.pollInterval)
}

type assertableError string

func (e assertableError) Error() string { return string(e) }
