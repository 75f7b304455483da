package worker

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/autolinehq/autoline-be/internal/search"
	"github.com/autolinehq/autoline-be/internal/whatsapp"
)

// Sender is the outbound messaging surface. MarkAsRead is best-effort and
// never fails the caller. Implemented by whatsapp.Client.
type Sender interface {
	SendMessage(ctx context.Context, to, content string) (*whatsapp.SendResult, error)
	MarkAsRead(ctx context.Context, messageID string)
}

// Searcher runs an inbound message through the NL inventory-search backend.
// A (nil, nil) return means the backend had no reply; that is not an error.
// Implemented by search.Client.
type Searcher interface {
	ProcessMessage(ctx context.Context, customerID, message, userID string) (*search.Reply, error)
}

// DeadLetterSink persists terminally-failed job metadata. Implemented by
// dlq.Queue. Commit is best-effort: it logs and never fails the caller.
type DeadLetterSink interface {
	Commit(ctx context.Context, jobKey string, jobErr error, details map[string]interface{})
}

// WorkerContext bundles the long-lived handles shared by every job a worker
// executes. It is built once at startup, read-only afterwards, and safe to
// share across concurrently running jobs; every handle in it must be safe
// for concurrent use.
type WorkerContext struct {
	Logger      *slog.Logger
	HTTP        *http.Client
	WhatsApp    Sender
	Search      Searcher
	Dedup       Dedup
	DeadLetters DeadLetterSink
	Reporter    *FailureReporter
}

// JobContext is the per-invocation view of the worker context. Attempt is
// set per dispatch so concurrent jobs never share mutable state.
type JobContext struct {
	*WorkerContext

	Attempt     int
	MaxAttempts int
}
