package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

// ErrHubClosed is returned by operations attempted after Shutdown.
var ErrHubClosed = errors.New("hub closed")

// SenderResolver resolves the display name of a message's sender. It fails
// when the conversation or the sender no longer exists.
type SenderResolver interface {
	ResolveSender(ctx context.Context, conversationID, senderID uuid.UUID) (string, error)
}

// DeliveryPolicy decides whether a message from senderID may be pushed to
// recipientID.
type DeliveryPolicy interface {
	MayDeliver(ctx context.Context, senderID, recipientID uuid.UUID) (bool, error)
}

// Hub owns room membership for all live connections. Membership is only
// touched by the Run goroutine.
type Hub struct {
	clients map[*Client]struct{}
	// rooms maps conversationID → joined connections.
	rooms map[uuid.UUID]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	join       chan roomRequest
	leave      chan roomRequest
	broadcast  chan *broadcastMsg
	direct     chan directMsg
	members    chan membersQuery

	resolver SenderResolver
	policy   DeliveryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type roomRequest struct {
	client         *Client
	conversationID uuid.UUID
}

type broadcastMsg struct {
	conversationID uuid.UUID
	data           []byte
	excludeUser    uuid.UUID
	// allowed restricts delivery to these users when non-nil.
	allowed map[uuid.UUID]bool
}

type directMsg struct {
	client *Client
	data   []byte
}

type membersQuery struct {
	conversationID uuid.UUID
	reply          chan []uuid.UUID
}

func NewHub(resolver SenderResolver, policy DeliveryPolicy) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan roomRequest),
		leave:      make(chan roomRequest),
		broadcast:  make(chan *broadcastMsg, 256),
		direct:     make(chan directMsg, 256),
		members:    make(chan membersQuery),
		resolver:   resolver,
		policy:     policy,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run starts the Hub's main event loop. Call this in a goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			h.clients = map[*Client]struct{}{}
			h.rooms = map[uuid.UUID]map[*Client]struct{}{}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			log.Debug("ws: connected", "user", client.userID, "clients", len(h.clients))

		case client := <-h.unregister:
			h.drop(client)

		case req := <-h.join:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			room, ok := h.rooms[req.conversationID]
			if !ok {
				room = make(map[*Client]struct{})
				h.rooms[req.conversationID] = room
			}
			room[req.client] = struct{}{}
			req.client.rooms[req.conversationID] = struct{}{}
			h.deliver(req.client, mustEvent(EventTypeJoined, &req.conversationID, ConversationPayload{ConversationID: req.conversationID}))

		case req := <-h.leave:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			h.removeFromRoom(req.client, req.conversationID)
			h.deliver(req.client, mustEvent(EventTypeLeft, &req.conversationID, ConversationPayload{ConversationID: req.conversationID}))

		case q := <-h.members:
			seen := make(map[uuid.UUID]bool)
			var users []uuid.UUID
			for client := range h.rooms[q.conversationID] {
				if !seen[client.userID] {
					seen[client.userID] = true
					users = append(users, client.userID)
				}
			}
			q.reply <- users

		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.deliver(msg.client, msg.data)
			}

		case msg := <-h.broadcast:
			for client := range h.rooms[msg.conversationID] {
				if client.userID == msg.excludeUser {
					continue
				}
				if msg.allowed != nil && !msg.allowed[client.userID] {
					continue
				}
				h.deliver(client, msg.data)
			}
		}
	}
}

// deliver queues data on the client's send buffer. A client whose buffer is
// full is disconnected.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		log.Warn("ws: send buffer full, dropping client", "user", client.userID)
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	for conversationID := range client.rooms {
		h.removeFromRoom(client, conversationID)
	}
	delete(h.clients, client)
	close(client.send)
	log.Debug("ws: disconnected", "user", client.userID, "clients", len(h.clients))
}

func (h *Hub) removeFromRoom(client *Client, conversationID uuid.UUID) {
	delete(client.rooms, conversationID)
	room, ok := h.rooms[conversationID]
	if !ok {
		return
	}
	delete(room, client)
	if len(room) == 0 {
		delete(h.rooms, conversationID)
	}
}

// submit hands a request to the Run loop unless the hub is shutting down.
func submit[T any](h *Hub, ch chan T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

func (h *Hub) Register(client *Client) error   { return submit(h, h.register, client) }
func (h *Hub) Unregister(client *Client) error { return submit(h, h.unregister, client) }

// Join adds the client to the conversation's room. Joining twice is a no-op
// beyond a second acknowledgement.
func (h *Hub) Join(client *Client, conversationID uuid.UUID) error {
	return submit(h, h.join, roomRequest{client: client, conversationID: conversationID})
}

// Leave removes the client from the conversation's room. Idempotent.
func (h *Hub) Leave(client *Client, conversationID uuid.UUID) error {
	return submit(h, h.leave, roomRequest{client: client, conversationID: conversationID})
}

// SendTo queues an event for a single connection.
func (h *Hub) SendTo(client *Client, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("ws hub: marshal error", "err", err)
		return
	}
	_ = submit(h, h.direct, directMsg{client: client, data: data})
}

// RoomMembers returns the distinct users with a connection in the room.
func (h *Hub) RoomMembers(conversationID uuid.UUID) ([]uuid.UUID, error) {
	reply := make(chan []uuid.UUID, 1)
	if err := submit(h, h.members, membersQuery{conversationID: conversationID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case users := <-reply:
		return users, nil
	case <-h.ctx.Done():
		return nil, ErrHubClosed
	}
}

// BroadcastToRoom sends an event to every connection in the room.
func (h *Hub) BroadcastToRoom(conversationID uuid.UUID, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("ws hub: marshal error", "err", err)
		return
	}
	_ = submit(h, h.broadcast, &broadcastMsg{conversationID: conversationID, data: data})
}

// Publish fans msg out to every other user connected to its room. Recipients
// whose delivery policy rejects the sender are skipped. Failures are logged
// and never surfaced: the message is already durable.
func (h *Hub) Publish(ctx context.Context, msg *domain.Message) {
	name, err := h.resolver.ResolveSender(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		log.Warn("ws: publish aborted", "conversation", msg.ConversationID, "sender", msg.SenderID, "err", err)
		return
	}

	members, err := h.RoomMembers(msg.ConversationID)
	if err != nil || len(members) == 0 {
		return
	}

	allowed := make(map[uuid.UUID]bool, len(members))
	for _, userID := range members {
		if userID == msg.SenderID {
			continue
		}
		ok, err := h.policy.MayDeliver(ctx, msg.SenderID, userID)
		if err != nil {
			log.Warn("ws: delivery check failed", "recipient", userID, "err", err)
			continue
		}
		if !ok {
			log.Debug("ws: delivery suppressed", "sender", msg.SenderID, "recipient", userID)
			continue
		}
		allowed[userID] = true
	}
	if len(allowed) == 0 {
		return
	}

	out := *msg
	out.SenderName = name
	evt, err := NewEvent(EventTypeMessageReceived, &out.ConversationID, MessagePayload{Message: out})
	if err != nil {
		log.Error("ws: marshal error", "err", err)
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Error("ws: marshal error", "err", err)
		return
	}

	_ = submit(h, h.broadcast, &broadcastMsg{
		conversationID: msg.ConversationID,
		data:           data,
		excludeUser:    msg.SenderID,
		allowed:        allowed,
	})
}

// Shutdown stops the Run loop, closing every connection's send buffer, and
// waits for the loop to exit.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

func mustEvent(eventType string, conversationID *uuid.UUID, payload any) []byte {
	evt, err := NewEvent(eventType, conversationID, payload)
	if err != nil {
		panic(err)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		panic(err)
	}
	return data
}
