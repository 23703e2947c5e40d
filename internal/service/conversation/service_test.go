package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ispilo-backend/internal/domain"
	apperrors "ispilo-backend/pkg/errors"
	"ispilo-backend/pkg/pagination"
)

type mockConversationRepo struct {
	mock.Mock
}

func (m *mockConversationRepo) Create(ctx context.Context, conversation *domain.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

func (m *mockConversationRepo) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *mockConversationRepo) FindDirectBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *mockConversationRepo) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *mockConversationRepo) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockConversationRepo) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview string, at time.Time) error {
	args := m.Called(ctx, conversationID, preview, at)
	return args.Error(0)
}

func (m *mockConversationRepo) Delete(ctx context.Context, conversationID uuid.UUID) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Exists(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

type mockMessageRepo struct {
	mock.Mock
}

func (m *mockMessageRepo) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func newTestService() (*Service, *mockConversationRepo, *mockUserRepo, *mockMessageRepo) {
	conversationRepo := new(mockConversationRepo)
	userRepo := new(mockUserRepo)
	messageRepo := new(mockMessageRepo)
	return NewService(conversationRepo, userRepo, messageRepo), conversationRepo, userRepo, messageRepo
}

func TestCreateIncludesCreator(t *testing.T) {
	svc, conversationRepo, userRepo, _ := newTestService()
	creator := uuid.New()
	other := uuid.New()

	userRepo.On("Exists", mock.Anything, creator).Return(true, nil)
	userRepo.On("Exists", mock.Anything, other).Return(true, nil)
	conversationRepo.On("FindDirectBetween", mock.Anything, creator, other).Return(nil, nil)
	conversationRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Conversation")).Return(nil)

	conversation, err := svc.Create(context.Background(), creator, &domain.ConversationCreate{
		Type:           domain.ConversationTypeDirect,
		ParticipantIDs: []uuid.UUID{other},
	})
	require.NoError(t, err)

	assert.True(t, conversation.HasParticipant(creator))
	assert.True(t, conversation.HasParticipant(other))
	assert.Len(t, conversation.Participants, 2)
}

func TestCreateDirectDeduplicatesPair(t *testing.T) {
	svc, conversationRepo, userRepo, _ := newTestService()
	creator := uuid.New()
	other := uuid.New()
	existing := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeDirect,
		Participants:   []uuid.UUID{creator, other},
	}

	userRepo.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	conversationRepo.On("FindDirectBetween", mock.Anything, creator, other).Return(existing, nil)

	conversation, err := svc.Create(context.Background(), creator, &domain.ConversationCreate{
		Type:           domain.ConversationTypeDirect,
		ParticipantIDs: []uuid.UUID{other},
	})
	require.NoError(t, err)

	assert.Equal(t, existing.ConversationID, conversation.ConversationID)
	conversationRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateDirectRejectsWrongCardinality(t *testing.T) {
	svc, _, userRepo, _ := newTestService()
	creator := uuid.New()

	userRepo.On("Exists", mock.Anything, mock.Anything).Return(true, nil)

	// Creator listed as the only participant collapses to one member
	_, err := svc.Create(context.Background(), creator, &domain.ConversationCreate{
		Type:           domain.ConversationTypeDirect,
		ParticipantIDs: []uuid.UUID{creator},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))

	// Three distinct members is too many for direct
	_, err = svc.Create(context.Background(), creator, &domain.ConversationCreate{
		Type:           domain.ConversationTypeDirect,
		ParticipantIDs: []uuid.UUID{uuid.New(), uuid.New()},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestCreateRejectsUnknownParticipant(t *testing.T) {
	svc, _, userRepo, _ := newTestService()
	creator := uuid.New()
	ghost := uuid.New()

	userRepo.On("Exists", mock.Anything, creator).Return(true, nil)
	userRepo.On("Exists", mock.Anything, ghost).Return(false, nil)

	_, err := svc.Create(context.Background(), creator, &domain.ConversationCreate{
		Type:           domain.ConversationTypeGroup,
		ParticipantIDs: []uuid.UUID{ghost},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUserNotFound))
}

func TestGetOrCreateDirectSymmetric(t *testing.T) {
	svc, conversationRepo, userRepo, _ := newTestService()
	userA := uuid.New()
	userB := uuid.New()
	existing := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeDirect,
		Participants:   []uuid.UUID{userA, userB},
	}

	userRepo.On("Exists", mock.Anything, mock.Anything).Return(true, nil)
	conversationRepo.On("FindDirectBetween", mock.Anything, userA, userB).Return(existing, nil)
	conversationRepo.On("FindDirectBetween", mock.Anything, userB, userA).Return(existing, nil)

	fromA, err := svc.GetOrCreateDirect(context.Background(), userA, userB)
	require.NoError(t, err)
	fromB, err := svc.GetOrCreateDirect(context.Background(), userB, userA)
	require.NoError(t, err)

	assert.Equal(t, fromA.ConversationID, fromB.ConversationID)
}

func TestGetOrCreateDirectRejectsSelfPair(t *testing.T) {
	svc, _, _, _ := newTestService()
	userID := uuid.New()

	_, err := svc.GetOrCreateDirect(context.Background(), userID, userID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidation))
}

func TestGetEnforcesMembership(t *testing.T) {
	svc, conversationRepo, _, _ := newTestService()
	member := uuid.New()
	outsider := uuid.New()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeGroup,
		Participants:   []uuid.UUID{member},
	}

	conversationRepo.On("GetByID", mock.Anything, conversation.ConversationID).Return(conversation, nil)

	got, err := svc.Get(context.Background(), member, conversation.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, conversation.ConversationID, got.ConversationID)

	_, err = svc.Get(context.Background(), outsider, conversation.ConversationID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthorized))
}

func TestGetNotFound(t *testing.T) {
	svc, conversationRepo, _, _ := newTestService()
	conversationID := uuid.New()

	conversationRepo.On("GetByID", mock.Anything, conversationID).Return(nil, nil)

	_, err := svc.Get(context.Background(), uuid.New(), conversationID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConversationNotFound))
}

func TestLeaveKeepsConversationWithRemainingMembers(t *testing.T) {
	svc, conversationRepo, _, messageRepo := newTestService()
	leaver := uuid.New()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeGroup,
		Participants:   []uuid.UUID{leaver, uuid.New(), uuid.New()},
	}

	conversationRepo.On("GetByID", mock.Anything, conversation.ConversationID).Return(conversation, nil)
	conversationRepo.On("RemoveParticipant", mock.Anything, conversation.ConversationID, leaver).Return(2, nil)

	err := svc.Leave(context.Background(), leaver, conversation.ConversationID)
	require.NoError(t, err)

	conversationRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	messageRepo.AssertNotCalled(t, "DeleteByConversation", mock.Anything, mock.Anything)
}

func TestLeaveLastMemberDestroysConversation(t *testing.T) {
	svc, conversationRepo, _, messageRepo := newTestService()
	leaver := uuid.New()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeGroup,
		Participants:   []uuid.UUID{leaver},
	}

	conversationRepo.On("GetByID", mock.Anything, conversation.ConversationID).Return(conversation, nil)
	conversationRepo.On("RemoveParticipant", mock.Anything, conversation.ConversationID, leaver).Return(0, nil)
	messageRepo.On("DeleteByConversation", mock.Anything, conversation.ConversationID).Return(nil)
	conversationRepo.On("Delete", mock.Anything, conversation.ConversationID).Return(nil)

	err := svc.Leave(context.Background(), leaver, conversation.ConversationID)
	require.NoError(t, err)

	conversationRepo.AssertExpectations(t)
	messageRepo.AssertExpectations(t)
}

func TestListForUserPagination(t *testing.T) {
	svc, conversationRepo, _, _ := newTestService()
	userID := uuid.New()

	page := make([]*domain.Conversation, 3)
	for i := range page {
		page[i] = &domain.Conversation{ConversationID: uuid.New()}
	}

	conversationRepo.On("ListForUser", mock.Anything, userID, 3, 0).Return(page, nil)

	conversations, hasMore, err := svc.ListForUser(context.Background(), userID, pagination.Params{Page: 0, Size: 2, Offset: 0})
	require.NoError(t, err)

	assert.Len(t, conversations, 2)
	assert.True(t, hasMore)
}
