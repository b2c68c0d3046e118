package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
)

var (
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrConversationExists   = errors.New("conversation already exists")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("you are not a participant of this conversation")
)

type ConversationService struct {
	convRepo repository.ConversationRepository
	userRepo repository.UserRepository
	notifier Notifier
	now      func() time.Time
}

func NewConversationService(convRepo repository.ConversationRepository, userRepo repository.UserRepository) *ConversationService {
	return &ConversationService{
		convRepo: convRepo,
		userRepo: userRepo,
		now:      time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *ConversationService) SetNotifier(n Notifier) {
	s.notifier = n
}

// Create creates a conversation between the caller and participantIDs.
// The caller is added when missing. When a conversation with exactly the
// same participant set exists, it is returned together with
// ErrConversationExists. The returned conversation may be nil alongside
// ErrConversationExists when the other one could not be loaded.
func (s *ConversationService) Create(ctx context.Context, callerID uuid.UUID, participantIDs []uuid.UUID) (*domain.Conversation, error) {
	ids := uniqueIDs(append(append([]uuid.UUID{}, participantIDs...), callerID))
	if len(ids) < 2 {
		return nil, ErrInvalidParticipants
	}

	users, err := s.userRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	if len(users) != len(ids) {
		return nil, ErrInvalidParticipants
	}
	byID := make(map[uuid.UUID]domain.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	key := domain.ParticipantKey(ids)
	existing, err := s.convRepo.GetByParticipantKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, ErrConversationExists
	}

	// A duplicate whose winner is gone by the time it is looked up was
	// deleted in between, so the key is free again: try once more.
	for attempt := 0; ; attempt++ {
		conv := newConversation(ids, byID, s.now().UTC())
		err := s.convRepo.Create(ctx, conv, key)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}

		// Lost a race with a concurrent create of the same set.
		existing, err := s.convRepo.GetByParticipantKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, ErrConversationExists
		}
		if attempt > 0 {
			return nil, ErrConversationExists
		}
	}
}

func newConversation(ids []uuid.UUID, byID map[uuid.UUID]domain.User, createdAt time.Time) *domain.Conversation {
	conv := &domain.Conversation{
		ID:               uuid.New(),
		Participants:     make([]domain.Participant, len(ids)),
		ParticipantNames: make([]string, len(ids)),
		CreatedAt:        createdAt,
	}
	for i, id := range ids {
		u := byID[id]
		conv.Participants[i] = domain.Participant{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL}
		conv.ParticipantNames[i] = u.Name
	}
	return conv
}

// List returns the user's conversations filtered by participant name,
// most recently active first.
func (s *ConversationService) List(ctx context.Context, userID uuid.UUID, search string) ([]domain.Conversation, error) {
	convs, err := s.convRepo.ListByUser(ctx, userID, search)
	if err != nil {
		return nil, err
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}

func (s *ConversationService) Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// Delete removes the conversation record. Only a participant may delete it.
// Its messages are left in place.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID uuid.UUID) error {
	if _, err := s.Get(ctx, userID, conversationID); err != nil {
		return err
	}

	if err := s.convRepo.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	if s.notifier != nil {
		s.notifier.NotifyConversationDeleted(conversationID)
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
