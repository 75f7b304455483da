package queue

import (
	"encoding/json"
	"time"
)

// Kind identifies a job type. The set is closed: the worker dispatches
// through a registration table keyed by Kind and rejects anything else.
type Kind string

const (
	KindFetchContent         Kind = "fetch_content"
	KindHandleInboundMessage Kind = "handle_inbound_message"
	KindSendReply            Kind = "send_reply"
)

// Valid reports whether k is one of the registered job kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFetchContent, KindHandleInboundMessage, KindSendReply:
		return true
	}
	return false
}

// Job is the unit of work carried through Redis. Identity is Key (the
// idempotency key); ID is unique per enqueue. A job is never mutated after
// creation except for Attempt, which the driver increments on retry.
type Job struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Key            string          `json:"key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
	MaxAttempts    int             `json:"max_attempts"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
}

// FetchContentPayload is the payload for fetch_content jobs.
type FetchContentPayload struct {
	URL string `json:"url"`
}

// InboundMessagePayload is the payload for handle_inbound_message jobs.
// MessageID is the provider message ID and doubles as the idempotency key.
type InboundMessagePayload struct {
	CustomerID  string `json:"customer_id"`
	FromNumber  string `json:"from_number"`
	MessageText string `json:"message_text"`
	MessageID   string `json:"message_id,omitempty"`
}

// SendReplyPayload is the payload for send_reply jobs.
type SendReplyPayload struct {
	To        string `json:"to"`
	Content   string `json:"content"`
	MessageID string `json:"message_id,omitempty"`
}
