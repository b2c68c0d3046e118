package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID   `json:"id"`
	ExternalID   string      `json:"-"`
	Name         string      `json:"name"`
	Email        string      `json:"email"`
	AvatarURL    *string     `json:"avatarUrl,omitempty"`
	BlockedUsers []uuid.UUID `json:"blockedUsers"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// UserSummary is the directory view of a user.
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
}
