package handler

import (
	"context"
	"log/slog"

	"github.com/autolinehq/autoline-be/internal/customer"
	"github.com/autolinehq/autoline-be/internal/queue"
	"github.com/autolinehq/autoline-be/internal/whatsapp"
)

// Enqueuer pushes jobs into the queue. Implemented by queue.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind queue.Kind, payload interface{}, opts ...queue.Option) (*queue.Job, error)
}

// CustomerStore authenticates webhook calls by customer API key.
// Implemented by customer.Store.
type CustomerStore interface {
	FindByAPIKey(ctx context.Context, apiKey string) (*customer.Customer, error)
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Logger    *slog.Logger
	Queue     Enqueuer
	Customers CustomerStore
	Processor *whatsapp.MessageProcessor

	// VerifyToken answers Meta's webhook verification handshake;
	// AppSecret signs inbound payloads.
	VerifyToken string
	AppSecret   string
}
