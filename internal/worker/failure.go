package worker

import (
	"fmt"
	"log/slog"
	"time"
)

// Decision is the outcome of a failure report.
type Decision int

const (
	// DecisionRetry means the caller should schedule a retry after
	// RetryDelay(attempt).
	DecisionRetry Decision = iota
	// DecisionDeadLetter means the caller should commit the job to the
	// dead-letter sink.
	DecisionDeadLetter
)

func (d Decision) String() string {
	if d == DecisionRetry {
		return "retry"
	}
	return "dead_letter"
}

// FailureReporter centralizes failure logging and the retry vs dead-letter
// decision. It performs neither action itself: retry scheduling belongs to
// the runtime and the DLQ write to the sink, which keeps the decision logic
// testable without a queue.
type FailureReporter struct {
	logger *slog.Logger
}

// NewFailureReporter creates a reporter logging through the given logger.
func NewFailureReporter(logger *slog.Logger) *FailureReporter {
	return &FailureReporter{logger: logger}
}

// ReportFailure logs the failure with full context and decides the next
// step: retry while attempts remain, dead-letter once they are exhausted.
func (r *FailureReporter) ReportFailure(jobKey string, jobErr error, attempt, maxAttempts int, details map[string]interface{}) Decision {
	decision := DecisionDeadLetter
	if attempt < maxAttempts {
		decision = DecisionRetry
	}

	attrs := []any{
		slog.String("job_key", jobKey),
		slog.String("error_type", fmt.Sprintf("%T", jobErr)),
		slog.String("error_message", jobErr.Error()),
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
		slog.String("status", decision.String()),
		slog.Time("timestamp", time.Now().UTC()),
		slog.Any("job_details", details),
	}

	if decision == DecisionRetry {
		r.logger.Warn(fmt.Sprintf("Job %s failed (attempt %d/%d), will retry", jobKey, attempt, maxAttempts), attrs...)
	} else {
		r.logger.Error(fmt.Sprintf("Job %s failed after %d attempts, moving to dead letter queue", jobKey, maxAttempts), attrs...)
	}

	return decision
}
