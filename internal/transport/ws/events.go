package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

// Event types - Client → Server
const (
	EventTypeJoinConversation  = "joinConversation"
	EventTypeLeaveConversation = "leaveConversation"
	EventTypeNewMessage        = "newMessage"
	EventTypePing              = "ping"
)

// Event types - Server → Client
const (
	EventTypeJoined              = "joinedConversation"
	EventTypeLeft                = "leftConversation"
	EventTypeMessageReceived     = "messageReceived"
	EventTypeMessageSent         = "messageSent"
	EventTypeConversationDeleted = "conversationDeleted"
	EventTypePong                = "pong"
	EventTypeError               = "error"
)

// Event is the base envelope for all WebSocket messages.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type ConversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type NewMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Text           string    `json:"text"`
}

// --- Server → Client payloads ---

type MessagePayload struct {
	domain.Message
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, conversationID *uuid.UUID, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:           eventType,
		ConversationID: conversationID,
		Payload:        data,
		Timestamp:      time.Now().Unix(),
	}, nil
}
