package chatclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is a real-time event received from the server.
type Event struct {
	Type           string          `json:"type"`
	ConversationID *uuid.UUID      `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// Message decodes the payload of messageReceived and messageSent events.
func (e *Event) Message() (*domain.Message, error) {
	var m domain.Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Stream is an open WebSocket session.
type Stream struct {
	conn *websocket.Conn
}

// Dial opens the real-time channel.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	u := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Authorization": {"Bearer " + c.token}},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &Stream{conn: conn}, nil
}

func (s *Stream) emit(ctx context.Context, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, s.conn, Event{Type: eventType, Payload: data})
}

func (s *Stream) Join(ctx context.Context, conversationID uuid.UUID) error {
	return s.emit(ctx, "joinConversation", map[string]uuid.UUID{"conversationId": conversationID})
}

func (s *Stream) Leave(ctx context.Context, conversationID uuid.UUID) error {
	return s.emit(ctx, "leaveConversation", map[string]uuid.UUID{"conversationId": conversationID})
}

// Send posts a message over the socket. The server answers with a
// messageSent event carrying the persisted message.
func (s *Stream) Send(ctx context.Context, conversationID uuid.UUID, text string) error {
	return s.emit(ctx, "newMessage", map[string]any{"conversationId": conversationID, "text": text})
}

// Next blocks until the next event arrives.
func (s *Stream) Next(ctx context.Context) (*Event, error) {
	var evt Event
	if err := wsjson.Read(ctx, s.conn, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
