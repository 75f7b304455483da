package whatsapp

import "fmt"

// Envelope is the Meta webhook payload: entry -> changes -> value -> messages.
type Envelope struct {
	Entry []Entry `json:"entry"`
}

// Entry is one webhook entry.
type Entry struct {
	Changes []Change `json:"changes"`
}

// Change is one change notification inside an entry.
type Change struct {
	Value Value `json:"value"`
}

// Value carries the messages and the receiving phone number metadata.
type Value struct {
	Metadata Metadata  `json:"metadata"`
	Messages []Message `json:"messages"`
}

// Metadata identifies the business phone number the event arrived on.
type Metadata struct {
	PhoneNumberID string `json:"phone_number_id"`
}

// Message is one inbound message as delivered by the webhook.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *Text  `json:"text,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Body string `json:"body"`
}

// IncomingMessage is the flattened view of the first message in an envelope.
type IncomingMessage struct {
	ID        string
	From      string
	To        string
	Timestamp string
	Type      string
	Text      string
}

// MessageProcessor decides which inbound message types get processed and
// flattens webhook envelopes.
type MessageProcessor struct {
	supported map[string]struct{}
}

// NewMessageProcessor creates a processor for the given message types.
// With no arguments only text messages are processed.
func NewMessageProcessor(types ...string) *MessageProcessor {
	if len(types) == 0 {
		types = []string{"text"}
	}
	supported := make(map[string]struct{}, len(types))
	for _, t := range types {
		supported[t] = struct{}{}
	}
	return &MessageProcessor{supported: supported}
}

// ShouldProcess reports whether messages of the given type are handled.
func (p *MessageProcessor) ShouldProcess(messageType string) bool {
	_, ok := p.supported[messageType]
	return ok
}

// ExtractMessage pulls the first message out of the envelope. The second
// return is false when the event carries no message (status updates and
// other non-message notifications).
func (p *MessageProcessor) ExtractMessage(env *Envelope) (*IncomingMessage, bool) {
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 {
		return nil, false
	}
	value := env.Entry[0].Changes[0].Value
	if len(value.Messages) == 0 {
		return nil, false
	}
	msg := value.Messages[0]

	text := ""
	if msg.Type == "text" && msg.Text != nil {
		text = msg.Text.Body
	} else {
		text = fmt.Sprintf("<%s message>", msg.Type)
	}

	return &IncomingMessage{
		ID:        msg.ID,
		From:      msg.From,
		To:        value.Metadata.PhoneNumberID,
		Timestamp: msg.Timestamp,
		Type:      msg.Type,
		Text:      text,
	}, true
}
