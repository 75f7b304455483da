// Package search is the client for the NL inventory-search backend.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// APIError is a non-2xx response from the search backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search api error: status %d: %s", e.StatusCode, e.Body)
}

// Reply is the search backend's answer to one message.
type Reply struct {
	Reply            string                   `json:"reply"`
	Cars             []map[string]interface{} `json:"cars,omitempty"`
	SessionID        string                   `json:"session_id,omitempty"`
	EscalationNeeded bool                     `json:"escalation_needed,omitempty"`
}

// KeyResolver resolves the active search API key for a customer.
// Implemented by customer.Store.
type KeyResolver interface {
	ActiveAPIKey(ctx context.Context, customerID string) (string, error)
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Client calls the search backend's /search endpoint, authenticated with a
// per-customer x-api-key. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	keys    KeyResolver
	logger  *slog.Logger
}

// NewClient creates a search client.
func NewClient(baseURL string, httpClient *http.Client, keys KeyResolver, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("search base url is required")
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		keys:    keys,
		logger:  logger,
	}, nil
}

// ProcessMessage runs one user message through the backend. It returns
// (nil, nil) when the backend legitimately has no reply; that outcome must
// not be treated as a failure by callers.
func (c *Client) ProcessMessage(ctx context.Context, customerID, message, userID string) (*Reply, error) {
	apiKey, err := c.keys.ActiveAPIKey(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve search api key: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		UserID:  userID,
		Message: message,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if len(respBody) == 0 {
		return nil, nil
	}

	var reply Reply
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	if reply.Reply == "" && len(reply.Cars) == 0 {
		return nil, nil
	}

	c.logger.Info("Search completed",
		slog.String("customer_id", customerID),
		slog.Bool("escalation_needed", reply.EscalationNeeded),
	)

	return &reply, nil
}
