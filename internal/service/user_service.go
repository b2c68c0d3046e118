package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrCannotBlockSelf = errors.New("cannot block yourself")
)

// BlockCache is notified when a user's block list changes.
type BlockCache interface {
	InvalidateBlocks(ctx context.Context, userID uuid.UUID) error
}

type UserService struct {
	userRepo repository.UserRepository
	cache    BlockCache
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// SetBlockCache sets the block-list cache to invalidate (optional dependency).
func (s *UserService) SetBlockCache(c BlockCache) {
	s.cache = c
}

func (s *UserService) List(ctx context.Context) ([]domain.UserSummary, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []domain.UserSummary{}
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Block adds contactID to userID's blocked set. Blocking twice is a no-op.
func (s *UserService) Block(ctx context.Context, userID, contactID uuid.UUID) error {
	if userID == contactID {
		return ErrCannotBlockSelf
	}
	if _, err := s.Get(ctx, contactID); err != nil {
		return err
	}

	if err := s.userRepo.Block(ctx, userID, contactID); err != nil {
		return fmt.Errorf("blocking user: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

// Unblock removes contactID from userID's blocked set. Unblocking a user
// that is not blocked is a no-op.
func (s *UserService) Unblock(ctx context.Context, userID, contactID uuid.UUID) error {
	if err := s.userRepo.Unblock(ctx, userID, contactID); err != nil {
		return fmt.Errorf("unblocking user: %w", err)
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *UserService) ListBlocked(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := s.userRepo.ListBlocked(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	return ids, nil
}

func (s *UserService) invalidate(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBlocks(ctx, userID); err != nil {
		log.Warn("block cache invalidation failed", "user", userID, "err", err)
	}
}
