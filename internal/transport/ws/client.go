package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/service"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 16 * 1024
	sendBufSize    = 256
)

// Ingestor persists a message sent over the socket and triggers its fan-out.
type Ingestor interface {
	Send(ctx context.Context, senderID, conversationID uuid.UUID, text string) (*domain.Message, error)
}

// Membership checks that a user may join a conversation's room.
type Membership interface {
	Get(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error)
}

// Client represents a single WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	userID  uuid.UUID
	ingest  Ingestor
	members Membership
	limiter *rate.Limiter

	// rooms is owned by the Hub's Run goroutine.
	rooms map[uuid.UUID]struct{}
	send  chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID, ingest Ingestor, members Membership, limiter *rate.Limiter) *Client {
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
	}
	return &Client{
		hub:     hub,
		conn:    conn,
		userID:  userID,
		ingest:  ingest,
		members: members,
		limiter: limiter,
		rooms:   make(map[uuid.UUID]struct{}),
		send:    make(chan []byte, sendBufSize),
	}
}

// ReadPump reads events from the WebSocket until the connection closes or
// the hub shuts down.
func (c *Client) ReadPump() {
	defer func() {
		_ = c.hub.Unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var event Event
		err := wsjson.Read(c.hub.ctx, c.conn, &event)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				log.Debug("ws: client disconnected", "user", c.userID)
			} else {
				log.Warn("ws: read error", "user", c.userID, "err", err)
			}
			return
		}

		c.handleEvent(&event)
	}
}

// WritePump writes queued events to the WebSocket and keeps it alive with
// pings. It returns once the hub closes the send buffer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				log.Warn("ws: write error", "user", c.userID, "err", err)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Warn("ws: ping error", "user", c.userID, "err", err)
				return
			}
		}
	}
}

// handleEvent routes an incoming client event.
func (c *Client) handleEvent(event *Event) {
	switch event.Type {
	case EventTypeJoinConversation:
		id, ok := c.conversationID(event)
		if !ok {
			return
		}
		if _, err := c.members.Get(c.hub.ctx, c.userID, id); err != nil {
			c.sendServiceError(err)
			return
		}
		_ = c.hub.Join(c, id)

	case EventTypeLeaveConversation:
		id, ok := c.conversationID(event)
		if !ok {
			return
		}
		_ = c.hub.Leave(c, id)

	case EventTypeNewMessage:
		var p NewMessagePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid newMessage payload")
			return
		}
		if p.ConversationID == uuid.Nil && event.ConversationID != nil {
			p.ConversationID = *event.ConversationID
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError("RATE_LIMITED", "Too many messages")
			return
		}
		msg, err := c.ingest.Send(c.hub.ctx, c.userID, p.ConversationID, p.Text)
		if err != nil {
			c.sendServiceError(err)
			return
		}
		evt, err := NewEvent(EventTypeMessageSent, &msg.ConversationID, MessagePayload{Message: *msg})
		if err == nil {
			c.hub.SendTo(c, evt)
		}

	case EventTypePing:
		c.hub.SendTo(c, &Event{Type: EventTypePong})

	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Type)
	}
}

func (c *Client) conversationID(event *Event) (uuid.UUID, bool) {
	var p ConversationPayload
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			c.sendError("INVALID_PAYLOAD", "invalid "+event.Type+" payload")
			return uuid.Nil, false
		}
	}
	if p.ConversationID == uuid.Nil && event.ConversationID != nil {
		p.ConversationID = *event.ConversationID
	}
	if p.ConversationID == uuid.Nil {
		c.sendError("INVALID_PAYLOAD", "conversationId is required")
		return uuid.Nil, false
	}
	return p.ConversationID, true
}

func (c *Client) sendServiceError(err error) {
	switch {
	case errors.Is(err, service.ErrInvalidMessage):
		c.sendError("INVALID_MESSAGE", "Message text is required")
	case errors.Is(err, service.ErrConversationNotFound):
		c.sendError("NOT_FOUND", "Conversation not found")
	case errors.Is(err, service.ErrNotParticipant):
		c.sendError("FORBIDDEN", "You are not a participant of this conversation")
	default:
		log.Error("ws: event failed", "user", c.userID, "err", err)
		c.sendError("INTERNAL", "Internal server error")
	}
}

func (c *Client) sendError(code, message string) {
	evt, err := NewEvent(EventTypeError, nil, ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	c.hub.SendTo(c, evt)
}
