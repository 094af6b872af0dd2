package domain

import "time"

// MessageTypeText is the only payload kind the core currently produces.
const MessageTypeText = "text"

// Conversation is a direct conversation between exactly two users.
// ParticipantA and ParticipantB are stored in canonical (sorted) order.
type Conversation struct {
	ID            string    `db:"id"`
	ParticipantA  string    `db:"participant_a"`
	ParticipantB  string    `db:"participant_b"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
	LastMessageAt time.Time `db:"last_message_at"`
	IsDeleted     bool      `db:"is_deleted"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ParticipantA == userID || c.ParticipantB == userID)
}

// OtherParticipant returns the participant that is not userID.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Participants returns both participant ids in canonical order.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// Message is a single stored message. Content holds a ciphertext envelope
// when Encrypted is true and plaintext otherwise.
type Message struct {
	ID             string     `db:"id"`
	ConversationID string     `db:"conversation_id"`
	SenderID       string     `db:"sender_id"`
	Content        string     `db:"content"`
	Encrypted      bool       `db:"encrypted"`
	MessageType    string     `db:"message_type"`
	CreatedAt      time.Time  `db:"created_at"`
	DeliveredAt    *time.Time `db:"delivered_at"`
	ReadAt         *time.Time `db:"read_at"`
}
