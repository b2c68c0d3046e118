package domain

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	// Joined fields
	SenderName      string  `json:"senderName,omitempty"`
	SenderAvatarURL *string `json:"senderAvatarUrl,omitempty"`
}

// Preview returns the list-view preview of m.
func (m *Message) Preview() *LastMessage {
	return &LastMessage{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}
