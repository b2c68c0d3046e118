package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

type stubResolver struct {
	names map[uuid.UUID]string
}

func (r *stubResolver) ResolveSender(_ context.Context, _, senderID uuid.UUID) (string, error) {
	name, ok := r.names[senderID]
	if !ok {
		return "", errors.New("sender not found")
	}
	return name, nil
}

// blockList maps recipient → blocked senders.
type blockList map[uuid.UUID][]uuid.UUID

func (b blockList) MayDeliver(_ context.Context, senderID, recipientID uuid.UUID) (bool, error) {
	for _, id := range b[recipientID] {
		if id == senderID {
			return false, nil
		}
	}
	return true, nil
}

type hubFixture struct {
	hub      *Hub
	resolver *stubResolver
	blocks   blockList
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	f := &hubFixture{
		resolver: &stubResolver{names: map[uuid.UUID]string{}},
		blocks:   blockList{},
	}
	f.hub = NewHub(f.resolver, f.blocks)
	go f.hub.Run()
	t.Cleanup(func() { _ = f.hub.Shutdown(time.Second) })
	return f
}

func (f *hubFixture) connect(t *testing.T, userID uuid.UUID, name string) *Client {
	t.Helper()
	f.resolver.names[userID] = name
	c := NewClient(f.hub, nil, userID, nil, nil, nil)
	if err := f.hub.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c
}

func (f *hubFixture) join(t *testing.T, c *Client, conversationID uuid.UUID) {
	t.Helper()
	if err := f.hub.Join(c, conversationID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	evt := expectEvent(t, c)
	if evt.Type != EventTypeJoined {
		t.Fatalf("got %q, want %q", evt.Type, EventTypeJoined)
	}
}

func expectEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			t.Fatal("send buffer closed")
		}
		var evt Event
		if err := json.Unmarshal(data, &evt); err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func newMessage(conversationID, senderID uuid.UUID, text string) *domain.Message {
	return &domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}
}

func TestPublishReachesOtherRoomMembers(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	aliceID, bobID, carolID := uuid.New(), uuid.New(), uuid.New()

	alice := f.connect(t, aliceID, "Alice")
	bob := f.connect(t, bobID, "Bob")
	carol := f.connect(t, carolID, "Carol")
	f.join(t, alice, room)
	f.join(t, bob, room)

	f.hub.Publish(context.Background(), newMessage(room, aliceID, "hi"))

	evt := expectEvent(t, bob)
	if evt.Type != EventTypeMessageReceived {
		t.Fatalf("type = %q, want %q", evt.Type, EventTypeMessageReceived)
	}
	var msg domain.Message
	if err := json.Unmarshal(evt.Payload, &msg); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if msg.Text != "hi" || msg.SenderName != "Alice" {
		t.Fatalf("payload = %+v", msg)
	}

	expectNoEvent(t, alice)
	expectNoEvent(t, carol)
}

func TestPublishSkipsBlockingRecipient(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	aliceID, bobID, carolID := uuid.New(), uuid.New(), uuid.New()
	f.blocks[bobID] = []uuid.UUID{aliceID}

	alice := f.connect(t, aliceID, "Alice")
	bob := f.connect(t, bobID, "Bob")
	carol := f.connect(t, carolID, "Carol")
	for _, c := range []*Client{alice, bob, carol} {
		f.join(t, c, room)
	}

	f.hub.Publish(context.Background(), newMessage(room, aliceID, "still there?"))

	if evt := expectEvent(t, carol); evt.Type != EventTypeMessageReceived {
		t.Fatalf("carol got %q", evt.Type)
	}
	expectNoEvent(t, bob)

	// The block is directed.
	f.hub.Publish(context.Background(), newMessage(room, bobID, "yes"))
	if evt := expectEvent(t, alice); evt.Type != EventTypeMessageReceived {
		t.Fatalf("alice got %q", evt.Type)
	}
}

func TestPublishAbortsOnUnknownSender(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	bob := f.connect(t, uuid.New(), "Bob")
	f.join(t, bob, room)

	f.hub.Publish(context.Background(), newMessage(room, uuid.New(), "ghost"))
	expectNoEvent(t, bob)
}

func TestLeaveAndDisconnectStopDelivery(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	aliceID := uuid.New()
	alice := f.connect(t, aliceID, "Alice")
	bob := f.connect(t, uuid.New(), "Bob")
	carol := f.connect(t, uuid.New(), "Carol")
	for _, c := range []*Client{alice, bob, carol} {
		f.join(t, c, room)
	}

	// Leaving twice is harmless.
	for range 2 {
		if err := f.hub.Leave(bob, room); err != nil {
			t.Fatalf("Leave: %v", err)
		}
		if evt := expectEvent(t, bob); evt.Type != EventTypeLeft {
			t.Fatalf("got %q, want %q", evt.Type, EventTypeLeft)
		}
	}
	if err := f.hub.Unregister(carol); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	f.hub.Publish(context.Background(), newMessage(room, aliceID, "anyone?"))
	expectNoEvent(t, bob)

	if _, ok := <-carol.send; ok {
		t.Fatal("carol's send buffer still open after unregister")
	}

	members, err := f.hub.RoomMembers(room)
	if err != nil || len(members) != 1 || members[0] != aliceID {
		t.Fatalf("RoomMembers = %v, %v; want only alice", members, err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	aliceID := uuid.New()
	alice := f.connect(t, aliceID, "Alice")
	bob := f.connect(t, uuid.New(), "Bob")
	f.join(t, alice, room)
	f.join(t, bob, room)
	f.join(t, bob, room)

	f.hub.Publish(context.Background(), newMessage(room, aliceID, "once"))
	expectEvent(t, bob)
	expectNoEvent(t, bob)
}

func TestRoomOrderFollowsPublishOrder(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	aliceID := uuid.New()
	f.connect(t, aliceID, "Alice")
	bob := f.connect(t, uuid.New(), "Bob")
	f.join(t, bob, room)

	texts := []string{"a", "b", "c", "d"}
	for _, text := range texts {
		f.hub.Publish(context.Background(), newMessage(room, aliceID, text))
	}
	for _, want := range texts {
		evt := expectEvent(t, bob)
		var msg domain.Message
		_ = json.Unmarshal(evt.Payload, &msg)
		if msg.Text != want {
			t.Fatalf("got %q, want %q", msg.Text, want)
		}
	}
}

func TestConversationDeletedNotification(t *testing.T) {
	f := newHubFixture(t)
	room := uuid.New()
	alice := f.connect(t, uuid.New(), "Alice")
	f.join(t, alice, room)

	NewHubNotifier(f.hub).NotifyConversationDeleted(room)

	evt := expectEvent(t, alice)
	if evt.Type != EventTypeConversationDeleted || evt.ConversationID == nil || *evt.ConversationID != room {
		t.Fatalf("event = %+v", evt)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	f := newHubFixture(t)
	alice := f.connect(t, uuid.New(), "Alice")

	if err := f.hub.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, ok := <-alice.send; ok {
		t.Fatal("send buffer still open after shutdown")
	}
	if err := f.hub.Join(alice, uuid.New()); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("Join after shutdown err = %v, want ErrHubClosed", err)
	}
}
