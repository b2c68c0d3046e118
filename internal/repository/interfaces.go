package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate record")

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.User, error)
	List(ctx context.Context) ([]domain.UserSummary, error)
	Block(ctx context.Context, userID, blockedID uuid.UUID) error
	Unblock(ctx context.Context, userID, blockedID uuid.UUID) error
	ListBlocked(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	IsBlocked(ctx context.Context, userID, otherID uuid.UUID) (bool, error)
}

type ConversationRepository interface {
	// Create stores the conversation and its participants. It returns
	// ErrDuplicate when a conversation with the same participant key exists.
	Create(ctx context.Context, conv *domain.Conversation, participantKey string) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	GetByParticipantKey(ctx context.Context, participantKey string) (*domain.Conversation, error)
	// ListByUser returns the user's conversations whose participant names
	// contain search (case-insensitive), each with its latest message attached.
	ListByUser(ctx context.Context, userID uuid.UUID, search string) ([]domain.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AppendMessage(ctx context.Context, conversationID, messageID uuid.UUID) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListByConversation returns messages reachable from the conversation's
	// message list in chronological order.
	ListByConversation(ctx context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error)
	// RelinkOrphans appends messages that were persisted but never linked to
	// their (still existing) conversation. Safe to run repeatedly.
	RelinkOrphans(ctx context.Context) (int64, error)
}
