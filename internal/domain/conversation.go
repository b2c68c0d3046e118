package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Conversation struct {
	ID               uuid.UUID     `json:"id"`
	Participants     []Participant `json:"participants"`
	ParticipantNames []string      `json:"participantNames"`
	CreatedAt        time.Time     `json:"createdAt"`
	// Joined fields for list views
	LastMessage *LastMessage `json:"lastMessage"`
}

type Participant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
}

// LastMessage is the preview attached to a conversation in list views.
type LastMessage struct {
	ID        uuid.UUID `json:"id"`
	SenderID  uuid.UUID `json:"senderId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HasParticipant reports whether userID is one of the conversation's participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant ids in conversation order.
func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(c.Participants))
	for i, p := range c.Participants {
		ids[i] = p.ID
	}
	return ids
}

// ParticipantKey is the canonical form of a participant set: sorted,
// de-duplicated ids joined by commas. Two conversations with the same
// set of participants share a key regardless of order.
func ParticipantKey(ids []uuid.UUID) string {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, id.String())
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
