package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ispilo-backend/internal/domain"
	"ispilo-backend/internal/repository/cassandra"
	"ispilo-backend/internal/service/broadcast"
	"ispilo-backend/pkg/crypto"
	apperrors "ispilo-backend/pkg/errors"
	"ispilo-backend/pkg/logger"
	"ispilo-backend/pkg/metrics"
	"ispilo-backend/pkg/pagination"
)

const (
	// previewMaxRunes caps the plaintext preview stored on the conversation
	previewMaxRunes = 100

	// decryptFailurePlaceholder stands in for a message whose stored blob can
	// no longer be decrypted. History never aborts over one bad item.
	decryptFailurePlaceholder = "[Encrypted message]"
)

// MessageRepository is the persistence interface for messages
type MessageRepository interface {
	ClaimClientMsgID(ctx context.Context, senderID uuid.UUID, clientMsgID string, conversationID, messageID uuid.UUID) (uuid.UUID, uuid.UUID, error)
	ReleaseClaim(ctx context.Context, senderID uuid.UUID, clientMsgID string) error
	Create(ctx context.Context, message *domain.Message) error
	GetByMessageID(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.Message, error)
	GetByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*domain.Message, bool, error)
	MarkRead(ctx context.Context, conversationID, reader uuid.UUID) ([]uuid.UUID, error)
}

// ConversationRepository is the slice of conversation storage delivery needs
type ConversationRepository interface {
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, preview string, at time.Time) error
}

// KeyRepository is the persistence interface for conversation keys
type KeyRepository interface {
	SetIfAbsent(ctx context.Context, conversationID uuid.UUID, key string) (string, error)
	Get(ctx context.Context, conversationID uuid.UUID) (string, error)
}

// Publisher fans events out to recipient channels
type Publisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, event broadcast.Event) error
	FanOut(ctx context.Context, recipients []uuid.UUID, event broadcast.Event) int
}

// Service handles message delivery, history, and the conversation key vault
type Service struct {
	messageRepo      MessageRepository
	conversationRepo ConversationRepository
	keyRepo          KeyRepository
	publisher        Publisher
}

// NewService creates a new chat service
func NewService(messageRepo MessageRepository, conversationRepo ConversationRepository, keyRepo KeyRepository, publisher Publisher) *Service {
	return &Service{
		messageRepo:      messageRepo,
		conversationRepo: conversationRepo,
		keyRepo:          keyRepo,
		publisher:        publisher,
	}
}

// KeyFor returns the conversation's encryption key, provisioning one on
// first use. Provisioning is a single atomic set-if-absent, so concurrent
// first senders converge on the same key. Keys never reach clients.
func (s *Service) KeyFor(ctx context.Context, conversationID uuid.UUID) (string, error) {
	key, err := s.keyRepo.Get(ctx, conversationID)
	if err != nil {
		return "", apperrors.DatabaseError(err)
	}
	if key != "" {
		return key, nil
	}

	raw, err := crypto.GenerateConversationKey()
	if err != nil {
		return "", apperrors.CryptoFailureError(err)
	}
	candidate := crypto.KeyToString(raw)

	stored, err := s.keyRepo.SetIfAbsent(ctx, conversationID, candidate)
	if err != nil {
		return "", apperrors.DatabaseError(err)
	}
	if stored == candidate {
		metrics.ChatKeyProvisionedTotal.Inc()
		logger.Info("conversation key provisioned",
			zap.String("conversation_id", conversationID.String()))
	}
	return stored, nil
}

// Send delivers a message: authorize, claim the client message ID, encrypt,
// persist, update the conversation summary, then fan out to recipients.
// A retried client message ID returns the original message instead of
// writing a second one.
func (s *Service) Send(ctx context.Context, senderID uuid.UUID, req *domain.MessageSend) (*domain.MessageResponse, error) {
	if !domain.ValidMessageType(req.Type) {
		return nil, apperrors.ValidationError("unknown message type")
	}
	if req.ClientMsgID == "" {
		return nil, apperrors.ValidationError("client_msg_id is required")
	}
	if req.Type == domain.MessageTypeText && strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.ValidationError("text messages require content")
	}

	conversation, err := s.conversationRepo.GetByID(ctx, req.ConversationID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if conversation == nil {
		return nil, apperrors.ConversationNotFoundError()
	}
	if !conversation.HasParticipant(senderID) {
		metrics.ChatMessageSendUnauthorizedTotal.Inc()
		return nil, apperrors.UnauthorizedError("not a participant of this conversation")
	}

	messageID := uuid.New()
	winnerConversation, winnerMessage, err := s.messageRepo.ClaimClientMsgID(ctx, senderID, req.ClientMsgID, req.ConversationID, messageID)
	if err != nil {
		if errors.Is(err, cassandra.ErrDuplicateClientMsgID) {
			metrics.ChatMessageDuplicateTotal.Inc()
			return s.resolveExisting(ctx, winnerConversation, winnerMessage)
		}
		return nil, apperrors.DatabaseError(err)
	}

	// Media-only messages carry no content, so there is nothing to encrypt
	var ciphertext string
	if req.Content != "" {
		key, err := s.KeyFor(ctx, req.ConversationID)
		if err != nil {
			s.releaseClaim(ctx, senderID, req.ClientMsgID)
			return nil, err
		}
		keyBytes, err := crypto.StringToKey(key)
		if err != nil {
			s.releaseClaim(ctx, senderID, req.ClientMsgID)
			return nil, apperrors.CryptoFailureError(err)
		}
		ciphertext, err = crypto.EncryptAESGCM(req.Content, keyBytes)
		if err != nil {
			s.releaseClaim(ctx, senderID, req.ClientMsgID)
			return nil, apperrors.CryptoFailureError(err)
		}
	}

	message := &domain.Message{
		MessageID:      messageID,
		ClientMsgID:    req.ClientMsgID,
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Type:           req.Type,
		Content:        ciphertext,
		MediaURL:       req.MediaURL,
		IsRead:         false,
		CreatedAt:      time.Now(),
	}
	if err := s.messageRepo.Create(ctx, message); err != nil {
		s.releaseClaim(ctx, senderID, req.ClientMsgID)
		return nil, apperrors.DatabaseError(err)
	}
	metrics.ChatMessagePersistedTotal.WithLabelValues(message.Type).Inc()

	preview := previewFor(req.Type, req.Content)
	if err := s.conversationRepo.UpdateLastMessage(ctx, req.ConversationID, preview, message.CreatedAt); err != nil {
		logger.Warn("last message update failed",
			zap.String("conversation_id", req.ConversationID.String()),
			zap.Error(err))
	}

	response := message.ToResponse(req.Content)
	s.publisher.FanOut(ctx, recipientsExcept(conversation.Participants, senderID), broadcast.Event{
		Type:    broadcast.EventMessage,
		Payload: response,
	})

	return response, nil
}

// releaseClaim frees an idempotency claim after the message write failed, so
// the retry is not stuck behind a claim with no message. Best effort.
func (s *Service) releaseClaim(ctx context.Context, senderID uuid.UUID, clientMsgID string) {
	if err := s.messageRepo.ReleaseClaim(ctx, senderID, clientMsgID); err != nil {
		logger.Warn("claim release failed",
			zap.String("sender_id", senderID.String()),
			zap.String("client_msg_id", clientMsgID),
			zap.Error(err))
	}
}

// resolveExisting serves a duplicate send by returning the message that won
// the claim. The conversation comes from the claim row, not the retry, so a
// client message ID resolves to the same stored message wherever it is
// replayed.
func (s *Service) resolveExisting(ctx context.Context, conversationID, messageID uuid.UUID) (*domain.MessageResponse, error) {
	message, err := s.messageRepo.GetByMessageID(ctx, conversationID, messageID)
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	if message == nil {
		// Claim row exists but the message write never landed; the retry
		// cannot be served from either side.
		return nil, apperrors.InternalError("duplicate claim without stored message")
	}

	plaintext, err := s.decrypt(ctx, message)
	if err != nil {
		return nil, err
	}
	return message.ToResponse(plaintext), nil
}

// History returns a page of messages newest-first with decrypted content.
// Items whose blob fails to decrypt render the placeholder instead of
// failing the page.
func (s *Service) History(ctx context.Context, userID, conversationID uuid.UUID, params pagination.Params) ([]*domain.MessageResponse, bool, error) {
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, false, apperrors.DatabaseError(err)
	}
	if conversation == nil {
		return nil, false, apperrors.ConversationNotFoundError()
	}
	if !conversation.HasParticipant(userID) {
		return nil, false, apperrors.UnauthorizedError("not a participant of this conversation")
	}

	messages, hasMore, err := s.messageRepo.GetByConversation(ctx, conversationID, params.Size, params.Offset)
	if err != nil {
		return nil, false, apperrors.DatabaseError(err)
	}
	if len(messages) == 0 {
		return []*domain.MessageResponse{}, false, nil
	}

	key, err := s.keyRepo.Get(ctx, conversationID)
	if err != nil {
		return nil, false, apperrors.DatabaseError(err)
	}
	keyBytes, keyErr := crypto.StringToKey(key)

	responses := make([]*domain.MessageResponse, 0, len(messages))
	for _, message := range messages {
		if message.Content == "" {
			responses = append(responses, message.ToResponse(""))
			continue
		}
		plaintext := decryptFailurePlaceholder
		if key != "" && keyErr == nil {
			if pt, err := crypto.DecryptAESGCM(message.Content, keyBytes); err == nil {
				plaintext = pt
			} else {
				metrics.ChatMessageDecryptFailureTotal.Inc()
			}
		} else {
			metrics.ChatMessageDecryptFailureTotal.Inc()
		}
		responses = append(responses, message.ToResponse(plaintext))
	}

	return responses, hasMore, nil
}

// MarkRead flips every unread message not sent by userID to read and
// broadcasts a receipt for what changed. Nothing flipped means nothing
// broadcast, so retries are harmless.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID uuid.UUID) error {
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

	flipped, err := s.messageRepo.MarkRead(ctx, conversationID, userID)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	if len(flipped) == 0 {
		return nil
	}

	s.publisher.FanOut(ctx, recipientsExcept(conversation.Participants, userID), broadcast.Event{
		Type: broadcast.EventRead,
		Payload: broadcast.ReadPayload{
			ConversationID: conversationID,
			ReaderID:       userID,
			MessageIDs:     flipped,
		},
	})
	return nil
}

// Typing broadcasts a typing indicator to the other participants. Nothing is
// persisted.
func (s *Service) Typing(ctx context.Context, userID, conversationID uuid.UUID, isTyping bool) error {
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

	s.publisher.FanOut(ctx, recipientsExcept(conversation.Participants, userID), broadcast.Event{
		Type: broadcast.EventTyping,
		Payload: broadcast.TypingPayload{
			ConversationID: conversationID,
			UserID:         userID,
			IsTyping:       isTyping,
		},
	})
	return nil
}

func (s *Service) decrypt(ctx context.Context, message *domain.Message) (string, error) {
	if message.Content == "" {
		return "", nil
	}
	key, err := s.keyRepo.Get(ctx, message.ConversationID)
	if err != nil {
		return "", apperrors.DatabaseError(err)
	}
	keyBytes, err := crypto.StringToKey(key)
	if err != nil {
		return "", apperrors.CryptoFailureError(err)
	}
	plaintext, err := crypto.DecryptAESGCM(message.Content, keyBytes)
	if err != nil {
		return "", apperrors.CryptoFailureError(err)
	}
	return plaintext, nil
}

// previewFor builds the conversation summary line. Non-text messages never
// leak content into the preview.
func previewFor(messageType, content string) string {
	if messageType != domain.MessageTypeText {
		return "[" + messageType + "]"
	}
	runes := []rune(content)
	if len(runes) > previewMaxRunes {
		return string(runes[:previewMaxRunes])
	}
	return content
}

func recipientsExcept(participants []uuid.UUID, excluded uuid.UUID) []uuid.UUID {
	recipients := make([]uuid.UUID, 0, len(participants))
	for _, id := range participants {
		if id != excluded {
			recipients = append(recipients, id)
		}
	}
	return recipients
}
