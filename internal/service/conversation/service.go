package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ispilo-backend/internal/domain"
	apperrors "ispilo-backend/pkg/errors"
	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/pagination"
)

// ConversationRepository is the persistence interface for conversations
type ConversationRepository interface {
	Create(ctx context.Context, conversation *domain.Conversation) error
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	FindDirectBetween(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Conversation, error)
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) (int, error)
	UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview string, at time.Time) error
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// UserRepository is the directory lookup interface
type UserRepository interface {
	Exists(ctx context.Context, userID uuid.UUID) (bool, error)
}

// MessageRepository is the slice of message storage the registry needs to
// destroy a conversation's history. Messages live in a different store than
// conversation metadata, so the cleanup is explicit.
type MessageRepository interface {
	DeleteByConversation(ctx context.Context, conversationID uuid.UUID) error
}

// Service manages conversation lifecycle and membership
type Service struct {
	conversationRepo ConversationRepository
	userRepo         UserRepository
	messageRepo      MessageRepository
}

// NewService creates a new conversation service
func NewService(conversationRepo ConversationRepository, userRepo UserRepository, messageRepo MessageRepository) *Service {
	return &Service{
		conversationRepo: conversationRepo,
		userRepo:         userRepo,
		messageRepo:      messageRepo,
	}
}

// Create creates a conversation. The creator is always a participant whether
// or not the request lists them. Direct conversations must resolve to exactly
// two distinct members and are deduplicated by their unordered pair: creating
// the same pair again returns the existing conversation.
func (s *Service) Create(ctx context.Context, creatorID uuid.UUID, req *domain.ConversationCreate) (*domain.Conversation, error) {
	participants := dedupe(append([]uuid.UUID{creatorID}, req.ParticipantIDs...))

	for _, userID := range participants {
		exists, err := s.userRepo.Exists(ctx, userID)
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		if !exists {
			return nil, apperrors.UserNotFoundError()
		}
	}

	if req.Type == domain.ConversationTypeDirect {
		if len(participants) != 2 {
			return nil, apperrors.ValidationError("direct conversation requires exactly two distinct participants")
		}
		existing, err := s.conversationRepo.FindDirectBetween(ctx, participants[0], participants[1])
		if err != nil {
			return nil, apperrors.DatabaseError(err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := time.Now()
	conversation := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           req.Type,
		CreatedAt:      now,
		UpdatedAt:      now,
		Participants:   participants,
	}

	if err := s.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, apperrors.DatabaseError(err)
	}

	logger.Info("conversation created",
		zap.String("conversation_id", conversation.ConversationID.String()),
		zap.String("type", conversation.Type),
		zap.Int("participants", len(participants)))

	return conversation, nil
}

// GetOrCreateDirect resolves the direct conversation between two users,
// creating it when absent. A self-pair is rejected.
func (s *Service) GetOrCreateDirect(ctx context.Context, userID, otherID uuid.UUID) (*domain.Conversation, error) {
	if userID == otherID {
		return nil, apperrors.ValidationError("cannot start a direct conversation with yourself")
	}
	return s.Create(ctx, userID, &domain.ConversationCreate{
		Type:           domain.ConversationTypeDirect,
		ParticipantIDs: []uuid.UUID{otherID},
	})
}

// Get retrieves a conversation the caller participates in
func (s *Service) Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if conversation == nil {
		return nil, apperrors.ConversationNotFoundError()
	}
	if !conversation.HasParticipant(userID) {
		return nil, apperrors.UnauthorizedError("not a participant of this conversation")
	}
	return conversation, nil
}

// ListForUser retrieves the caller's conversations, most recent activity first
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]*domain.Conversation, bool, error) {
	// Fetch one extra row to detect a following page
	conversations, err := s.conversationRepo.ListForUser(ctx, userID, params.Size+1, params.Offset)
	if err != nil {
		return nil, false, apperrors.DatabaseError(err)
	}

	hasMore := len(conversations) > params.Size
	if hasMore {
		conversations = conversations[:params.Size]
	}
	return conversations, hasMore, nil
}

// Leave removes the caller from a conversation. When the last participant
// leaves, the conversation, its key, and its message history are destroyed.
func (s *Service) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if conversation == nil {
		return apperrors.ConversationNotFoundError()
	}
	if !conversation.HasParticipant(userID) {
		return apperrors.UnauthorizedError("not a participant of this conversation")
	}

	remaining, err := s.conversationRepo.RemoveParticipant(ctx, conversationID, userID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}

	if remaining > 0 {
		return nil
	}

	if err := s.messageRepo.DeleteByConversation(ctx, conversationID); err != nil {
		return apperrors.DatabaseError(err)
	}
	if err := s.conversationRepo.Delete(ctx, conversationID); err != nil {
		return apperrors.DatabaseError(err)
	}

	logger.Info("conversation destroyed",
		zap.String("conversation_id", conversationID.String()))

	return nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
