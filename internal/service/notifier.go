package service

import "context"

// Event types published after successful mutations.
const (
	EventConversationCreated = "conversation_created"
	EventMessage             = "message"
	EventMessagesRead        = "messages_read"
	EventConversationDeleted = "conversation_deleted"
)

// Event is pushed to every user in Recipients.
type Event struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id"`
	Recipients     []string `json:"-"`
	Payload        any      `json:"payload,omitempty"`
}

// Notifier delivers events to connected clients. Delivery is best effort;
// implementations handle their own failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

// ReadReceipt is the payload of EventMessagesRead.
type ReadReceipt struct {
	ReaderID string `json:"reader_id"`
	Marked   int64  `json:"marked"`
}
