package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dmcore/internal/domain"
	"dmcore/internal/security"
)

// DefaultMaxMessageLength is the default limit on message length, in runes.
const DefaultMaxMessageLength = 5000

type ConversationService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	keys          *security.KeyDeriver
	cipher        *security.MessageCipher
	pipeline      *DecryptionPipeline
	notifier      Notifier
	log           *zap.Logger

	now   func() time.Time
	newID func() string

	MaxMessageLength int
}

type Option func(*ConversationService)

func WithNotifier(n Notifier) Option {
	return func(s *ConversationService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock replaces the time source. Timestamps are truncated to
// milliseconds, the precision every store keeps.
func WithClock(now func() time.Time) Option {
	return func(s *ConversationService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *ConversationService) { s.newID = newID }
}

func WithMaxMessageLength(n int) Option {
	return func(s *ConversationService) {
		if n > 0 {
			s.MaxMessageLength = n
		}
	}
}

func NewConversationService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	keys *security.KeyDeriver,
	cipher *security.MessageCipher,
	log *zap.Logger,
	opts ...Option,
) *ConversationService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &ConversationService{
		conversations:    conversations,
		messages:         messages,
		keys:             keys,
		cipher:           cipher,
		pipeline:         NewDecryptionPipeline(keys, cipher, log),
		notifier:         nopNotifier{},
		log:              log,
		now:              time.Now,
		newID:            uuid.NewString,
		MaxMessageLength: DefaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConversationService) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// unavailable passes domain errors through and marks anything else coming
// out of a store as a retryable persistence failure.
func unavailable(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNotAParticipant),
		errors.Is(err, domain.ErrPersistenceUnavailable):
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrPersistenceUnavailable, err)
}

// FindOrCreate returns the live conversation between callerID and otherID,
// creating it when none exists. The bool reports whether it was created.
// Concurrent calls for the same pair converge on a single conversation.
func (s *ConversationService) FindOrCreate(ctx context.Context, callerID, otherID string) (*ConversationResponse, bool, error) {
	if err := security.ValidatePair(callerID, otherID); err != nil {
		return nil, false, err
	}

	conv, err := s.conversations.FindByParticipants(ctx, callerID, otherID)
	if err == nil {
		return newConversationResponse(conv, callerID), false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, unavailable("find conversation", err)
	}

	now := s.timestamp()
	a, b := security.CanonicalPair(callerID, otherID)
	conv = &domain.Conversation{
		ID:            s.newID(),
		ParticipantA:  a,
		ParticipantB:  b,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	err = s.conversations.Create(ctx, conv)
	if errors.Is(err, domain.ErrConflict) {
		// another request created the pair first
		existing, rerr := s.conversations.FindByParticipants(ctx, callerID, otherID)
		if rerr != nil {
			return nil, false, fmt.Errorf("re-read conversation after conflict: %w: %w",
				domain.ErrPersistenceUnavailable, errors.Join(err, rerr))
		}
		s.log.Debug("conversation create raced", zap.String("conversation_id", existing.ID))
		return newConversationResponse(existing, callerID), false, nil
	}
	if err != nil {
		return nil, false, unavailable("create conversation", err)
	}

	s.log.Info("conversation created", zap.String("conversation_id", conv.ID))
	s.notifier.Notify(ctx, Event{
		Type:           EventConversationCreated,
		ConversationID: conv.ID,
		Recipients:     conv.Participants(),
	})
	return newConversationResponse(conv, callerID), true, nil
}

// participantConversation loads the conversation and checks that userID is
// one of its participants. Deleted conversations are returned as well.
func (s *ConversationService) participantConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	if conversationID == "" || userID == "" {
		return nil, fmt.Errorf("%w: conversation id and user id are required", domain.ErrInvalidInput)
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, unavailable("get conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, domain.ErrNotAParticipant
	}
	return conv, nil
}

// Send encrypts plaintext under the conversation key and stores it. The
// returned view carries the plaintext the sender just wrote.
func (s *ConversationService) Send(ctx context.Context, conversationID, senderID, plaintext string) (*MessageResponse, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, fmt.Errorf("%w: message content cannot be empty", domain.ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(plaintext); n > s.MaxMessageLength {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", domain.ErrInvalidInput, s.MaxMessageLength)
	}

	conv, err := s.participantConversation(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return nil, domain.ErrNotFound
	}

	key, err := s.keys.Derive(conv.ParticipantA, conv.ParticipantB)
	if err != nil {
		return nil, fmt.Errorf("derive conversation key: %w", err)
	}
	envelope, err := s.cipher.Encrypt(plaintext, key)
	if err != nil {
		return nil, fmt.Errorf("encrypt content: %w", err)
	}

	now := s.timestamp()
	msg := &domain.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        envelope,
		Encrypted:      true,
		MessageType:    domain.MessageTypeText,
		CreatedAt:      now,
		DeliveredAt:    &now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, unavailable("store message", err)
	}

	resp := newMessageResponse(msg, plaintext, false)
	s.notifier.Notify(ctx, Event{
		Type:           EventMessage,
		ConversationID: conv.ID,
		Recipients:     conv.Participants(),
		Payload:        resp,
	})
	return resp, nil
}

// ListMessages returns the thread in creation order. A deleted conversation
// reads as empty for its former participants.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID, requesterID string) ([]*MessageResponse, error) {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return []*MessageResponse{}, nil
	}

	msgs, err := s.messages.ListForConversation(ctx, conv.ID)
	if err != nil {
		return nil, unavailable("list messages", err)
	}
	return s.pipeline.Render(ctx, conv, msgs), nil
}

// MarkRead stamps readAt on every unread message sent by the other
// participant and returns how many changed. Repeating it changes nothing.
func (s *ConversationService) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	conv, err := s.participantConversation(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	if conv.IsDeleted {
		return 0, domain.ErrNotFound
	}

	n, err := s.messages.MarkRead(ctx, conv.ID, readerID, s.timestamp())
	if err != nil {
		return 0, unavailable("mark read", err)
	}
	if n > 0 {
		s.notifier.Notify(ctx, Event{
			Type:           EventMessagesRead,
			ConversationID: conv.ID,
			Recipients:     conv.Participants(),
			Payload:        ReadReceipt{ReaderID: readerID, Marked: n},
		})
	}
	return n, nil
}

// Delete removes the conversation together with all of its messages.
func (s *ConversationService) Delete(ctx context.Context, conversationID, requesterID string) error {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return err
	}
	if conv.IsDeleted {
		return domain.ErrNotFound
	}

	if err := s.conversations.Delete(ctx, conv.ID); err != nil {
		return unavailable("delete conversation", err)
	}

	s.log.Info("conversation deleted",
		zap.String("conversation_id", conv.ID), zap.String("requester_id", requesterID))
	s.notifier.Notify(ctx, Event{
		Type:           EventConversationDeleted,
		ConversationID: conv.ID,
		Recipients:     conv.Participants(),
	})
	return nil
}

// GetConversation returns a single live conversation with its preview.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID, requesterID string) (*ConversationResponse, error) {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return nil, domain.ErrNotFound
	}
	return s.summarize(ctx, conv, requesterID)
}

// ListConversations returns the user's live conversations, most recently
// active first, each with a decrypted preview of its latest message.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]*ConversationResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, unavailable("list conversations", err)
	}

	out := make([]*ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp, err := s.summarize(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func (s *ConversationService) summarize(ctx context.Context, conv *domain.Conversation, viewerID string) (*ConversationResponse, error) {
	resp := newConversationResponse(conv, viewerID)

	latest, err := s.messages.Latest(ctx, conv.ID)
	switch {
	case err == nil:
		resp.LastMessage = s.pipeline.Render(ctx, conv, []*domain.Message{latest})[0]
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, unavailable("latest message", err)
	}

	unread, err := s.messages.CountUnread(ctx, conv.ID, viewerID)
	if err != nil {
		return nil, unavailable("count unread", err)
	}
	resp.UnreadCount = unread
	return resp, nil
}

// Participants returns both participants of a live conversation the caller
// belongs to.
func (s *ConversationService) Participants(ctx context.Context, conversationID, requesterID string) ([]string, error) {
	conv, err := s.participantConversation(ctx, conversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if conv.IsDeleted {
		return nil, domain.ErrNotFound
	}
	return conv.Participants(), nil
}
