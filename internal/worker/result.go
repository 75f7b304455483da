package worker

import "time"

// Status is the terminal state of one task invocation.
type Status string

const (
	// StatusSuccess means the job body ran and the marker was written.
	StatusSuccess Status = "success"
	// StatusAlreadyProcessed means the dedup marker was present; nothing ran.
	StatusAlreadyProcessed Status = "already_processed"
	// StatusNoResponse means the search backend produced no reply. The job
	// is marked processed so it is not retried.
	StatusNoResponse Status = "no_response"
	// StatusRetry asks the runtime to re-dispatch after RetryAfter.
	StatusRetry Status = "retry"
	// StatusDeadLetter means the job was committed to the DLQ and the error
	// swallowed; the runtime acks the delivery.
	StatusDeadLetter Status = "dead_letter"
	// StatusFailed means the job is permanently failed; the runtime moves
	// the delivery to the failed channel.
	StatusFailed Status = "failed"
)

// Result is what every task executor returns. The runtime loop consumes it
// to decide between ack, delayed retry, and permanent failure.
type Result struct {
	Status      Status
	JobKey      string
	MessageSent string
	RetryAfter  time.Duration
	Err         error
}
