package domain

import (
	"context"
	"time"
)

// ConversationRepository defines persistence operations for conversations.
type ConversationRepository interface {
	// Create inserts a new conversation. It returns ErrConflict when a live
	// conversation already exists for the same participant pair.
	Create(ctx context.Context, c *Conversation) error
	// FindByParticipants returns the live conversation for the pair, in any order.
	FindByParticipants(ctx context.Context, userA, userB string) (*Conversation, error)
	// GetByID returns the conversation, including deleted ones.
	GetByID(ctx context.Context, id string) (*Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]*Conversation, error)
	// Delete removes every message of the conversation and marks it deleted
	// in a single transaction.
	Delete(ctx context.Context, id string) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	// Create stores the message and bumps the owning conversation's
	// timestamps in a single transaction.
	Create(ctx context.Context, m *Message) error
	ListForConversation(ctx context.Context, conversationID string) ([]*Message, error)
	Latest(ctx context.Context, conversationID string) (*Message, error)
	// MarkRead sets read_at on unread messages not sent by readerID and
	// returns how many rows changed.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int64, error)
	CountUnread(ctx context.Context, conversationID, readerID string) (int, error)
}
