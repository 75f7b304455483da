package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autolinehq/autoline-be/internal/queue"
	"github.com/autolinehq/autoline-be/internal/whatsapp"
)

// WebhookHandler receives WhatsApp webhook events and turns text messages
// into handle_inbound_message jobs keyed by the provider message ID.
type WebhookHandler struct {
	logger      *slog.Logger
	queue       Enqueuer
	customers   CustomerStore
	processor   *whatsapp.MessageProcessor
	verifyToken string
	appSecret   string
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:      deps.Logger,
		queue:       deps.Queue,
		customers:   deps.Customers,
		processor:   deps.Processor,
		verifyToken: deps.VerifyToken,
		appSecret:   deps.AppSecret,
	}
}

// Verify handles GET /api/v1/hook/:customer_api_key, Meta's webhook
// verification handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing parameters"})
		return
	}

	if !whatsapp.VerifyToken(mode, token, h.verifyToken) {
		h.logger.Warn("Webhook verification failed",
			slog.String("mode", mode),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "Verification failed"})
		return
	}

	h.logger.Info("Webhook verification successful")
	c.String(http.StatusOK, challenge)
}

// Receive handles POST /api/v1/hook/:customer_api_key. It authenticates
// the payload signature and the customer, extracts one message, and
// enqueues exactly one job. The caller always gets an immediate 200 on
// accepted posts; everything downstream is asynchronous.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	signature := c.GetHeader("X-Hub-Signature-256")
	if !whatsapp.ValidateSignature(body, signature, h.appSecret) {
		h.logger.Warn("Webhook signature verification failed",
			slog.String("ip", c.ClientIP()),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid signature"})
		return
	}

	apiKey := c.Param("customer_api_key")
	cust, err := h.customers.FindByAPIKey(c.Request.Context(), apiKey)
	if err != nil {
		h.logger.Warn("Webhook customer lookup failed",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized action"})
		return
	}

	var envelope whatsapp.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.logger.Warn("Failed to parse webhook body",
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	msg, ok := h.processor.ExtractMessage(&envelope)
	if !ok || !h.processor.ShouldProcess(msg.Type) {
		// Status updates and unsupported types are acknowledged and ignored.
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), queue.KindHandleInboundMessage,
		queue.InboundMessagePayload{
			CustomerID:  cust.ID,
			FromNumber:  msg.From,
			MessageText: msg.Text,
			MessageID:   msg.ID,
		},
		queue.WithKey(msg.ID),
	)
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
		// Redelivered webhook for a message already enqueued.
		h.logger.Info("Duplicate webhook delivery ignored",
			slog.String("message_id", msg.ID),
		)
	case err != nil:
		// The provider retries undelivered webhooks; failing the response
		// here would only multiply traffic, so acknowledge and log.
		h.logger.Error("Failed to enqueue inbound message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	default:
		h.logger.Info("Inbound message enqueued",
			slog.String("job_id", job.ID),
			slog.String("message_id", msg.ID),
			slog.String("customer_id", cust.ID),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
