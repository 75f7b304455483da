package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"

	"github.com/autolinehq/autoline-be/internal/queue"
)

// defaultReply is sent when the search backend answers without reply text.
const defaultReply = "No response available"

// TaskFunc is the signature every job executor implements.
type TaskFunc func(ctx context.Context, jc *JobContext, job *queue.Job) *Result

// Registry maps every job kind to its executor. The runtime dispatches
// through this table; an unknown kind is a permanent failure.
func Registry() map[queue.Kind]TaskFunc {
	return map[queue.Kind]TaskFunc{
		queue.KindFetchContent:         FetchContent,
		queue.KindHandleInboundMessage: HandleInboundMessage,
		queue.KindSendReply:            SendReply,
	}
}

// deriveKey builds a deterministic fallback job key from the identifying
// arguments. Hash-derived keys are not collision-proof; callers should
// always supply a natural idempotency key and treat this as a last resort.
func deriveKey(prefix string, parts ...string) string {
	h := fnv.New64a()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return fmt.Sprintf("%s:%x", prefix, h.Sum64())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// malformedPayload handles undecodable job arguments. These are defects to
// be fixed upstream, not transient conditions, so they fail immediately
// without a retry or a DLQ entry.
func malformedPayload(jc *JobContext, job *queue.Job, err error) *Result {
	jc.Logger.Error("Malformed job payload",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("error", err.Error()),
	)
	return &Result{Status: StatusFailed, Err: fmt.Errorf("malformed payload: %w", err)}
}

// fail runs the common failure path: report, then either signal a delayed
// retry or commit to the DLQ. terminal is the result returned once the job
// is dead-lettered; the asymmetry between executors lives there.
func fail(ctx context.Context, jc *JobContext, jobKey string, jobErr error, details map[string]interface{}, terminal Status) *Result {
	decision := jc.Reporter.ReportFailure(jobKey, jobErr, jc.Attempt, jc.MaxAttempts, details)
	if decision == DecisionRetry {
		return &Result{
			Status:     StatusRetry,
			JobKey:     jobKey,
			RetryAfter: RetryDelay(jc.Attempt),
			Err:        jobErr,
		}
	}
	jc.DeadLetters.Commit(ctx, jobKey, jobErr, details)
	return &Result{Status: terminal, JobKey: jobKey, Err: jobErr}
}

// FetchContent downloads the content behind a URL. URL presence is the only
// validation; anything the server returns outside 2xx is a body failure.
func FetchContent(ctx context.Context, jc *JobContext, job *queue.Job) *Result {
	var payload queue.FetchContentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return malformedPayload(jc, job, err)
	}
	if payload.URL == "" {
		return malformedPayload(jc, job, fmt.Errorf("url is required"))
	}

	jobKey := job.Key
	if jobKey == "" {
		jobKey = deriveKey("fetch", payload.URL)
	}

	if jc.Dedup.IsProcessed(ctx, jobKey) {
		jc.Logger.Info("Job already processed, skipping",
			slog.String("job_key", jobKey),
			slog.String("url", payload.URL),
		)
		return &Result{Status: StatusAlreadyProcessed, JobKey: jobKey}
	}

	details := map[string]interface{}{
		"function": string(queue.KindFetchContent),
		"url":      payload.URL,
	}

	jc.Logger.Info("Fetching content",
		slog.String("job_key", jobKey),
		slog.String("url", payload.URL),
		slog.Int("attempt", jc.Attempt),
	)

	size, err := fetchURL(ctx, jc.HTTP, payload.URL)
	if err != nil {
		return fail(ctx, jc, jobKey, err, details, StatusFailed)
	}

	jc.Dedup.MarkProcessed(ctx, jobKey)
	jc.Logger.Info("Content fetched",
		slog.String("job_key", jobKey),
		slog.Int64("bytes", size),
	)
	return &Result{Status: StatusSuccess, JobKey: jobKey}
}

func fetchURL(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build fetch request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	size, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read fetch response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("fetch returned status %d for %s", resp.StatusCode, url)
	}
	return size, nil
}

// HandleInboundMessage runs an inbound WhatsApp message through the search
// backend and sends the reply. A terminally-failed job returns a
// dead_letter result instead of a permanent failure: user-facing replies
// are best-effort and must not cause requeue storms.
func HandleInboundMessage(ctx context.Context, jc *JobContext, job *queue.Job) *Result {
	var payload queue.InboundMessagePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return malformedPayload(jc, job, err)
	}

	jobKey := job.Key
	if jobKey == "" {
		jobKey = payload.MessageID
	}
	if jobKey == "" {
		jobKey = deriveKey("whatsapp", payload.CustomerID, payload.FromNumber, payload.MessageText)
	}

	if jc.Dedup.IsProcessed(ctx, jobKey) {
		jc.Logger.Info("Inbound message already processed, skipping",
			slog.String("job_key", jobKey),
			slog.String("from_number", payload.FromNumber),
		)
		return &Result{Status: StatusAlreadyProcessed, JobKey: jobKey}
	}

	if payload.MessageID != "" {
		// Best-effort read receipt; processing continues regardless.
		jc.WhatsApp.MarkAsRead(ctx, payload.MessageID)
	}

	details := map[string]interface{}{
		"function":     string(queue.KindHandleInboundMessage),
		"customer_id":  payload.CustomerID,
		"from_number":  payload.FromNumber,
		"user_message": truncate(payload.MessageText, 100),
		"message_id":   payload.MessageID,
	}

	jc.Logger.Info("Processing inbound message",
		slog.String("job_key", jobKey),
		slog.String("customer_id", payload.CustomerID),
		slog.String("from_number", payload.FromNumber),
		slog.Int("attempt", jc.Attempt),
	)

	reply, err := jc.Search.ProcessMessage(ctx, payload.CustomerID, payload.MessageText, payload.FromNumber)
	if err != nil {
		return fail(ctx, jc, jobKey, err, details, StatusDeadLetter)
	}

	if reply == nil {
		jc.Logger.Warn("No response for inbound message",
			slog.String("job_key", jobKey),
			slog.String("from_number", payload.FromNumber),
		)
		// Mark processed anyway so a legitimately unanswerable message does
		// not retry forever.
		jc.Dedup.MarkProcessed(ctx, jobKey)
		return &Result{Status: StatusNoResponse, JobKey: jobKey}
	}

	messageToSend := reply.Reply
	if messageToSend == "" {
		messageToSend = defaultReply
	}

	if _, err := jc.WhatsApp.SendMessage(ctx, payload.FromNumber, messageToSend); err != nil {
		return fail(ctx, jc, jobKey, fmt.Errorf("failed to send reply: %w", err), details, StatusDeadLetter)
	}

	jc.Dedup.MarkProcessed(ctx, jobKey)
	jc.Logger.Info("Inbound message processed",
		slog.String("job_key", jobKey),
		slog.String("from_number", payload.FromNumber),
	)
	return &Result{Status: StatusSuccess, JobKey: jobKey, MessageSent: messageToSend}
}

// SendReply sends one outbound message. Unlike HandleInboundMessage, a
// dead-lettered send is also a permanent failure to the runtime.
func SendReply(ctx context.Context, jc *JobContext, job *queue.Job) *Result {
	var payload queue.SendReplyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return malformedPayload(jc, job, err)
	}

	jobKey := job.Key
	if jobKey == "" {
		jobKey = payload.MessageID
	}
	if jobKey == "" {
		jobKey = deriveKey("send", payload.To, payload.Content)
	}

	if jc.Dedup.IsProcessed(ctx, jobKey) {
		jc.Logger.Info("Send job already processed, skipping",
			slog.String("job_key", jobKey),
			slog.String("to", payload.To),
		)
		return &Result{Status: StatusAlreadyProcessed, JobKey: jobKey}
	}

	details := map[string]interface{}{
		"function": string(queue.KindSendReply),
		"to":       payload.To,
		"content":  truncate(payload.Content, 100),
	}

	jc.Logger.Info("Sending message",
		slog.String("job_key", jobKey),
		slog.String("to", payload.To),
		slog.Int("attempt", jc.Attempt),
	)

	if _, err := jc.WhatsApp.SendMessage(ctx, payload.To, payload.Content); err != nil {
		return fail(ctx, jc, jobKey, err, details, StatusFailed)
	}

	jc.Dedup.MarkProcessed(ctx, jobKey)
	jc.Logger.Info("Message sent",
		slog.String("job_key", jobKey),
		slog.String("to", payload.To),
	)
	return &Result{Status: StatusSuccess, JobKey: jobKey, MessageSent: payload.Content}
}
