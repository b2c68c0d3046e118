package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
	"github.com/vedran77/chatten/pkg/validator"
)

var ErrInvalidMessage = errors.New("invalid message")

// Notifier broadcasts real-time events to connected clients.
type Notifier interface {
	NotifyNewMessage(ctx context.Context, msg *domain.Message)
	NotifyConversationDeleted(conversationID uuid.UUID)
}

type MessageService struct {
	messageRepo repository.MessageRepository
	convRepo    repository.ConversationRepository
	userRepo    repository.UserRepository
	notifier    Notifier
	now         func() time.Time
}

func NewMessageService(
	messageRepo repository.MessageRepository,
	convRepo repository.ConversationRepository,
	userRepo repository.UserRepository,
) *MessageService {
	return &MessageService{
		messageRepo: messageRepo,
		convRepo:    convRepo,
		userRepo:    userRepo,
		now:         time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Send persists a message and appends it to the conversation's message
// list, then hands it to the notifier for live delivery.
func (s *MessageService) Send(ctx context.Context, senderID, conversationID uuid.UUID, text string) (*domain.Message, error) {
	if errs := validator.ValidateMessage(text); errs.HasErrors() {
		return nil, ErrInvalidMessage
	}

	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotParticipant
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           strings.TrimSpace(text),
		Timestamp:      s.now().UTC(),
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}

	// The message is durable from here on. A failure below leaves it
	// unreachable from the conversation until the repair job relinks it.
	if err := s.convRepo.AppendMessage(ctx, conversationID, msg.ID); err != nil {
		return nil, fmt.Errorf("appending message %s to conversation: %w", msg.ID, err)
	}

	full, err := s.messageRepo.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	if full == nil {
		full = msg
	}

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(ctx, full)
	}

	return full, nil
}

// List returns the conversation's messages in chronological order. It
// fetches one extra row to report whether older messages exist.
func (s *MessageService) List(ctx context.Context, userID, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, bool, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if conv == nil {
		return nil, false, ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, false, ErrNotParticipant
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}

	messages, err := s.messageRepo.ListByConversation(ctx, conversationID, before, limit+1)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[len(messages)-limit:]
	}

	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, hasMore, nil
}

// ResolveSender returns the display name of senderID for a message in
// conversationID. It fails when either record is missing.
func (s *MessageService) ResolveSender(ctx context.Context, conversationID, senderID uuid.UUID) (string, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return "", ErrConversationNotFound
	}

	sender, err := s.userRepo.GetByID(ctx, senderID)
	if err != nil {
		return "", err
	}
	if sender == nil {
		return "", ErrUserNotFound
	}
	return sender.Name, nil
}
