package service

import (
	"time"

	"dmcore/internal/domain"
)

// UnavailableContent replaces the body of a message that could not be decrypted.
const UnavailableContent = "message unavailable"

// MessageResponse is the caller-facing view of a message. Content is
// plaintext, or UnavailableContent when Unavailable is set.
type MessageResponse struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	Unavailable    bool       `json:"unavailable"`
	MessageType    string     `json:"message_type"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// ConversationResponse is the view of a conversation for one of its participants.
type ConversationResponse struct {
	ID               string           `json:"id"`
	Participants     []string         `json:"participants"`
	OtherParticipant string           `json:"other_participant"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	LastMessageAt    time.Time        `json:"last_message_at"`
	LastMessage      *MessageResponse `json:"last_message,omitempty"`
	UnreadCount      int              `json:"unread_count"`
}

func newMessageResponse(m *domain.Message, content string, unavailable bool) *MessageResponse {
	return &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        content,
		Unavailable:    unavailable,
		MessageType:    m.MessageType,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

func newConversationResponse(c *domain.Conversation, viewerID string) *ConversationResponse {
	return &ConversationResponse{
		ID:               c.ID,
		Participants:     c.Participants(),
		OtherParticipant: c.OtherParticipant(viewerID),
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
		LastMessageAt:    c.LastMessageAt,
	}
}
