package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dmcore/internal/domain"
	"dmcore/internal/security"
	"dmcore/internal/service"
)

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) Create(ctx context.Context, c *domain.Conversation) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockConversationRepo) FindByParticipants(ctx context.Context, a, b string) (*domain.Conversation, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockMessageRepo) ListForConversation(ctx context.Context, id string) ([]*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) Latest(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) MarkRead(ctx context.Context, id, readerID string, at time.Time) (int64, error) {
	args := m.Called(ctx, id, readerID, at)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepo) CountUnread(ctx context.Context, id, readerID string) (int, error) {
	args := m.Called(ctx, id, readerID)
	return args.Int(0), args.Error(1)
}

func newMockedService(t *testing.T) (*service.ConversationService, *MockConversationRepo, *MockMessageRepo) {
	t.Helper()
	keys, err := security.NewKeyDeriver(testSecret)
	require.NoError(t, err)
	convs := &MockConversationRepo{}
	msgs := &MockMessageRepo{}
	t.Cleanup(func() {
		convs.AssertExpectations(t)
		msgs.AssertExpectations(t)
	})
	svc := service.NewConversationService(convs, msgs, keys, security.NewMessageCipher(), nil,
		service.WithIDGenerator(func() string { return "new-id" }))
	return svc, convs, msgs
}

func TestFindOrCreate_ConflictRereads(t *testing.T) {
	svc, convs, _ := newMockedService(t)
	ctx := context.Background()
	winner := &domain.Conversation{ID: "winner", ParticipantA: "alice", ParticipantB: "bob"}

	convs.On("FindByParticipants", ctx, "bob", "alice").Return(nil, domain.ErrNotFound).Once()
	convs.On("Create", ctx, mock.MatchedBy(func(c *domain.Conversation) bool {
		return c.ID == "new-id" && c.ParticipantA == "alice" && c.ParticipantB == "bob"
	})).Return(domain.ErrConflict).Once()
	convs.On("FindByParticipants", ctx, "bob", "alice").Return(winner, nil).Once()

	conv, created, err := svc.FindOrCreate(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", conv.ID)
}

func TestFindOrCreate_ConflictRereadFails(t *testing.T) {
	svc, convs, _ := newMockedService(t)
	ctx := context.Background()

	convs.On("FindByParticipants", ctx, "alice", "bob").Return(nil, domain.ErrNotFound).Once()
	convs.On("Create", ctx, mock.Anything).Return(domain.ErrConflict).Once()
	convs.On("FindByParticipants", ctx, "alice", "bob").Return(nil, domain.ErrNotFound).Once()

	_, _, err := svc.FindOrCreate(ctx, "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestFindOrCreate_StoreDown(t *testing.T) {
	svc, convs, _ := newMockedService(t)
	ctx := context.Background()
	down := errors.New("connection refused")

	convs.On("FindByParticipants", ctx, "alice", "bob").Return(nil, down).Once()

	_, _, err := svc.FindOrCreate(ctx, "alice", "bob")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.ErrorIs(t, err, down)
}

func TestSend_StoreFailureIsReported(t *testing.T) {
	svc, convs, msgs := newMockedService(t)
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}

	convs.On("GetByID", ctx, "c1").Return(conv, nil)
	msgs.On("Create", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Encrypted && m.Content != "hello" && m.DeliveredAt != nil
	})).Return(errors.New("disk I/O error"))

	_, err := svc.Send(ctx, "c1", "alice", "hello")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}

func TestSend_ConversationDeletedConcurrently(t *testing.T) {
	svc, convs, msgs := newMockedService(t)
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}

	convs.On("GetByID", ctx, "c1").Return(conv, nil)
	msgs.On("Create", ctx, mock.Anything).Return(domain.ErrNotFound)

	_, err := svc.Send(ctx, "c1", "bob", "hello")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotErrorIs(t, err, domain.ErrPersistenceUnavailable)
}

func TestDelete_FailureLeavesNoEvent(t *testing.T) {
	keys, err := security.NewKeyDeriver(testSecret)
	require.NoError(t, err)
	convs := &MockConversationRepo{}
	n := &recordingNotifier{}
	svc := service.NewConversationService(convs, &MockMessageRepo{}, keys, security.NewMessageCipher(), nil,
		service.WithNotifier(n))
	ctx := context.Background()

	convs.On("GetByID", ctx, "c1").Return(&domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}, nil)
	convs.On("Delete", ctx, "c1").Return(errors.New("tx aborted"))

	err = svc.Delete(ctx, "c1", "alice")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Empty(t, n.types())
	convs.AssertExpectations(t)
}

func TestListConversations_CountFailure(t *testing.T) {
	svc, convs, msgs := newMockedService(t)
	ctx := context.Background()
	conv := &domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}

	convs.On("ListForUser", ctx, "alice").Return([]*domain.Conversation{conv}, nil)
	msgs.On("Latest", ctx, "c1").Return(nil, domain.ErrNotFound)
	msgs.On("CountUnread", ctx, "c1", "alice").Return(0, errors.New("locked"))

	_, err := svc.ListConversations(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
}

func TestMarkRead_UsesMillisecondClock(t *testing.T) {
	keys, err := security.NewKeyDeriver(testSecret)
	require.NoError(t, err)
	convs := &MockConversationRepo{}
	msgs := &MockMessageRepo{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.FixedZone("X", 3600))
	svc := service.NewConversationService(convs, msgs, keys, security.NewMessageCipher(), nil,
		service.WithClock(func() time.Time { return at }))
	ctx := context.Background()

	convs.On("GetByID", ctx, "c1").Return(&domain.Conversation{ID: "c1", ParticipantA: "alice", ParticipantB: "bob"}, nil)
	want := at.UTC().Truncate(time.Millisecond)
	msgs.On("MarkRead", ctx, "c1", "bob", want).Return(int64(3), nil)

	n, err := svc.MarkRead(ctx, "c1", "bob")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	msgs.AssertExpectations(t)
}
