package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autolinehq/autoline-be/internal/customer"
	"github.com/autolinehq/autoline-be/internal/queue"
	"github.com/autolinehq/autoline-be/internal/whatsapp"
)

const (
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
	testAPIKey      = "customer-webhook-key"
)

type enqueuedJob struct {
	Kind    queue.Kind
	Payload interface{}
	Opts    int
}

type fakeEnqueuer struct {
	jobs []enqueuedJob
	err  error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, kind queue.Kind, payload interface{}, opts ...queue.Option) (*queue.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.jobs = append(f.jobs, enqueuedJob{Kind: kind, Payload: payload, Opts: len(opts)})
	return &queue.Job{ID: "job-1", Kind: kind}, nil
}

type fakeCustomers struct {
	customers map[string]*customer.Customer
}

func (f *fakeCustomers) FindByAPIKey(_ context.Context, apiKey string) (*customer.Customer, error) {
	if c, ok := f.customers[apiKey]; ok {
		return c, nil
	}
	return nil, customer.ErrNotFound
}

func newTestRouter(q Enqueuer) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewWebhookHandler(&Dependencies{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:  q,
		Customers: &fakeCustomers{customers: map[string]*customer.Customer{
			testAPIKey: {ID: "cust-1", Name: "Test Motors", IsActive: true},
		}},
		Processor:   whatsapp.NewMessageProcessor(),
		VerifyToken: testVerifyToken,
		AppSecret:   testAppSecret,
	})

	r := gin.New()
	r.GET("/api/v1/hook/:customer_api_key", h.Verify)
	r.POST("/api/v1/hook/:customer_api_key", h.Receive)
	return r
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testAppSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, msgType, msgID, text string) []byte {
	t.Helper()
	msg := map[string]interface{}{
		"from":      "15550001111",
		"id":        msgID,
		"timestamp": "1700000000",
		"type":      msgType,
	}
	if msgType == "text" {
		msg["text"] = map[string]string{"body": text}
	}
	body, err := json.Marshal(map[string]interface{}{
		"entry": []map[string]interface{}{{
			"changes": []map[string]interface{}{{
				"value": map[string]interface{}{
					"metadata": map[string]string{"phone_number_id": "123456789012345"},
					"messages": []map[string]interface{}{msg},
				},
			}},
		}},
	})
	require.NoError(t, err)
	return body
}

func postWebhook(r *gin.Engine, apiKey string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hook/"+apiKey, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "successful handshake echoes challenge",
			query:      "hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345",
			wantStatus: http.StatusOK,
			wantBody:   "12345",
		},
		{
			name:       "missing parameters",
			query:      "hub.challenge=12345",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong token",
			query:      "hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "wrong mode",
			query:      "hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=12345",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&fakeEnqueuer{})

			req := httptest.NewRequest(http.MethodGet, "/api/v1/hook/"+testAPIKey+"?"+tt.query, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestReceive_EnqueuesTextMessage(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(q)

	body := webhookBody(t, "text", "wamid.m1", "show me sedans")
	w := postWebhook(r, testAPIKey, body, signBody(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())

	require.Len(t, q.jobs, 1)
	assert.Equal(t, queue.KindHandleInboundMessage, q.jobs[0].Kind)

	payload, ok := q.jobs[0].Payload.(queue.InboundMessagePayload)
	require.True(t, ok)
	assert.Equal(t, "cust-1", payload.CustomerID)
	assert.Equal(t, "15550001111", payload.FromNumber)
	assert.Equal(t, "show me sedans", payload.MessageText)
	assert.Equal(t, "wamid.m1", payload.MessageID)

	// The message ID rides along as the idempotency key.
	assert.Equal(t, 1, q.jobs[0].Opts)
}

func TestReceive_InvalidSignature(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(q)

	body := webhookBody(t, "text", "wamid.m1", "hi")

	w := postWebhook(r, testAPIKey, body, "sha256=deadbeef")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postWebhook(r, testAPIKey, body, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Empty(t, q.jobs)
}

func TestReceive_UnknownAPIKey(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(q)

	body := webhookBody(t, "text", "wamid.m1", "hi")
	w := postWebhook(r, "wrong-key", body, signBody(body))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, q.jobs)
}

func TestReceive_UnsupportedTypeAcknowledged(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(q)

	body := webhookBody(t, "image", "wamid.img", "")
	w := postWebhook(r, testAPIKey, body, signBody(body))

	// Acknowledged so the provider stops retrying, but nothing is enqueued.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, q.jobs)
}

func TestReceive_StatusUpdateAcknowledged(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(q)

	body := []byte(`{"entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.m1","status":"delivered"}]}}]}]}`)
	w := postWebhook(r, testAPIKey, body, signBody(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, q.jobs)
}

func TestReceive_MalformedBodyAcknowledged(t *testing.T) {
	q := &fakeEnqueuer{}
	r := newTestRouter(q)

	body := []byte(`not json at all`)
	w := postWebhook(r, testAPIKey, body, signBody(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, q.jobs)
}

func TestReceive_DuplicateDeliveryAcknowledged(t *testing.T) {
	q := &fakeEnqueuer{err: queue.ErrDuplicateJob}
	r := newTestRouter(q)

	body := webhookBody(t, "text", "wamid.m1", "hi")
	w := postWebhook(r, testAPIKey, body, signBody(body))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"received"}`, w.Body.String())
}

func TestReceive_EnqueueFailureStillAcknowledged(t *testing.T) {
	q := &fakeEnqueuer{err: errors.New("redis down")}
	r := newTestRouter(q)

	body := webhookBody(t, "text", "wamid.m1", "hi")
	w := postWebhook(r, testAPIKey, body, signBody(body))

	// Failing the response would only multiply provider retries.
	assert.Equal(t, http.StatusOK, w.Code)
}
