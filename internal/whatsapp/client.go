// Package whatsapp is the Meta Graph API messaging client plus the webhook
// helpers: envelope parsing and request authentication.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const defaultBaseURL = "https://graph.facebook.com"

// Config holds WhatsApp Business API configuration.
type Config struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	AppSecret     string
}

// APIError is a non-2xx response from the Graph API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api error: status %d: %s", e.StatusCode, e.Body)
}

// SendResult carries the provider message ID of an accepted send.
type SendResult struct {
	MessageID string
}

// Client sends messages through the WhatsApp Business API. Safe for
// concurrent use; all state is read-only after construction.
type Client struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a WhatsApp client using the provided HTTP client.
func NewClient(config *Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if config.AccessToken == "" {
		return nil, fmt.Errorf("whatsapp access token is required")
	}
	if config.PhoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.APIVersion == "" {
		config.APIVersion = "v21.0"
	}
	return &Client{
		config: config,
		http:   httpClient,
		logger: logger,
	}, nil
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             sendText `json:"text"`
}

type sendText struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendMessage posts one text message. A non-2xx response or a response
// without a message ID is an *APIError.
func (c *Client) SendMessage(ctx context.Context, to, content string) (*SendResult, error) {
	body, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             sendText{Body: content},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	respBody, status, err := c.post(ctx, "messages", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{StatusCode: status, Body: string(respBody)}
	}

	var resp sendResponse
	if err := json.Unmarshal(respBody, &resp); err != nil || len(resp.Messages) == 0 || resp.Messages[0].ID == "" {
		return nil, &APIError{StatusCode: status, Body: string(respBody)}
	}

	c.logger.Info("WhatsApp message sent",
		slog.String("to", to),
		slog.String("message_id", resp.Messages[0].ID),
	)

	return &SendResult{MessageID: resp.Messages[0].ID}, nil
}

// MarkAsRead flags an inbound message as read. Best-effort: failures are
// logged, never propagated.
func (c *Client) MarkAsRead(ctx context.Context, messageID string) {
	body, err := json.Marshal(map[string]string{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
	if err != nil {
		return
	}

	respBody, status, err := c.post(ctx, "messages", body)
	if err != nil {
		c.logger.Warn("Failed to mark message as read",
			slog.String("message_id", messageID),
			slog.String("error", err.Error()),
		)
		return
	}
	if status < 200 || status >= 300 {
		c.logger.Warn("Failed to mark message as read",
			slog.String("message_id", messageID),
			slog.Int("status", status),
			slog.String("body", string(respBody)),
		)
	}
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, int, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.config.BaseURL, c.config.APIVersion, c.config.PhoneNumberID, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build whatsapp request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read whatsapp response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}
