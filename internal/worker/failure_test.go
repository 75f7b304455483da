package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCapturedReporter() (*FailureReporter, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	return NewFailureReporter(logger), buf
}

func decodeLogLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestReportFailure_RetryWhileAttemptsRemain(t *testing.T) {
	reporter, buf := newCapturedReporter()

	decision := reporter.ReportFailure("msg-1", errors.New("connection refused"), 1, 3, map[string]interface{}{
		"function": "handle_inbound_message",
	})

	assert.Equal(t, DecisionRetry, decision)

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "msg-1", entry["job_key"])
	assert.Equal(t, "connection refused", entry["error_message"])
	assert.Equal(t, "*errors.errorString", entry["error_type"])
	assert.Equal(t, float64(1), entry["attempt"])
	assert.Equal(t, float64(3), entry["max_attempts"])
	assert.Equal(t, "retry", entry["status"])
	assert.Contains(t, entry, "timestamp")

	details, ok := entry["job_details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "handle_inbound_message", details["function"])
}

func TestReportFailure_DeadLetterOnLastAttempt(t *testing.T) {
	reporter, buf := newCapturedReporter()

	decision := reporter.ReportFailure("msg-2", errors.New("boom"), 3, 3, nil)

	assert.Equal(t, DecisionDeadLetter, decision)

	entry := decodeLogLine(t, buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "msg-2", entry["job_key"])
	assert.Equal(t, "dead_letter", entry["status"])
}

func TestReportFailure_AttemptBeyondMax(t *testing.T) {
	reporter, _ := newCapturedReporter()

	decision := reporter.ReportFailure("msg-3", errors.New("boom"), 5, 3, nil)
	assert.Equal(t, DecisionDeadLetter, decision)
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "retry", DecisionRetry.String())
	assert.Equal(t, "dead_letter", DecisionDeadLetter.String())
}
