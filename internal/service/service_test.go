package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
	"github.com/vedran77/chatten/internal/repository/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []domain.Message
	deleted  []uuid.UUID
}

func (n *recordingNotifier) NotifyNewMessage(_ context.Context, msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, *msg)
}

func (n *recordingNotifier) NotifyConversationDeleted(id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
}

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

type fixture struct {
	store    *memory.Store
	users    *UserService
	convs    *ConversationService
	messages *MessageService
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewStore()
	notifier := &recordingNotifier{}
	clock := stepClock()

	convs := NewConversationService(store.Conversations(), store.Users())
	convs.SetNotifier(notifier)
	convs.now = clock

	messages := NewMessageService(store.Messages(), store.Conversations(), store.Users())
	messages.SetNotifier(notifier)
	messages.now = clock

	return &fixture{
		store:    store,
		users:    NewUserService(store.Users()),
		convs:    convs,
		messages: messages,
		notifier: notifier,
	}
}

func (f *fixture) user(t *testing.T, name string) *domain.User {
	t.Helper()

	now := time.Now().UTC()
	u := &domain.User{
		ID:         uuid.New(),
		ExternalID: "google-" + name,
		Name:       name,
		Email:      name + "@example.com",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := f.store.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
	return u
}

func (f *fixture) conversation(t *testing.T, caller *domain.User, others ...*domain.User) *domain.Conversation {
	t.Helper()

	ids := make([]uuid.UUID, len(others))
	for i, o := range others {
		ids[i] = o.ID
	}
	conv, err := f.convs.Create(context.Background(), caller.ID, ids)
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}
	return conv
}

func TestCreateConversationIncludesCaller(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")

	conv := f.conversation(t, alice, bob)

	if !conv.HasParticipant(alice.ID) || !conv.HasParticipant(bob.ID) {
		t.Fatalf("participants = %+v, want alice and bob", conv.Participants)
	}
	if len(conv.ParticipantNames) != len(conv.Participants) {
		t.Fatalf("participantNames has %d entries, participants %d", len(conv.ParticipantNames), len(conv.Participants))
	}
	for i, p := range conv.Participants {
		if conv.ParticipantNames[i] != p.Name {
			t.Errorf("participantNames[%d] = %q, want %q", i, conv.ParticipantNames[i], p.Name)
		}
	}
}

func TestCreateConversationInvalidParticipants(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	ctx := context.Background()

	tests := []struct {
		name string
		ids  []uuid.UUID
	}{
		{"empty", nil},
		{"only self", []uuid.UUID{alice.ID}},
		{"self twice", []uuid.UUID{alice.ID, alice.ID}},
		{"unknown user", []uuid.UUID{uuid.New()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.convs.Create(ctx, alice.ID, tt.ids)
			if !errors.Is(err, ErrInvalidParticipants) {
				t.Fatalf("err = %v, want ErrInvalidParticipants", err)
			}
		})
	}
}

func TestCreateConversationDuplicateSet(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	ctx := context.Background()

	first := f.conversation(t, alice, bob, carol)

	// Same set in a different order, requested by another participant.
	existing, err := f.convs.Create(ctx, carol.ID, []uuid.UUID{bob.ID, alice.ID})
	if !errors.Is(err, ErrConversationExists) {
		t.Fatalf("err = %v, want ErrConversationExists", err)
	}
	if existing == nil || existing.ID != first.ID {
		t.Fatalf("existing = %+v, want conversation %s", existing, first.ID)
	}

	// A subset is a different conversation.
	if _, err := f.convs.Create(ctx, alice.ID, []uuid.UUID{bob.ID}); err != nil {
		t.Fatalf("creating pair conversation: %v", err)
	}
}

// vanishingWinnerRepo reports a duplicate key for the first failures
// creates while no conversation with that key can be found, as when the
// concurrent winner is deleted before it is looked up.
type vanishingWinnerRepo struct {
	repository.ConversationRepository
	failures int
	creates  int
}

func (r *vanishingWinnerRepo) Create(ctx context.Context, conv *domain.Conversation, key string) error {
	r.creates++
	if r.creates <= r.failures {
		return repository.ErrDuplicate
	}
	return r.ConversationRepository.Create(ctx, conv, key)
}

func TestCreateConversationWinnerDeleted(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	ctx := context.Background()

	repo := &vanishingWinnerRepo{ConversationRepository: f.store.Conversations(), failures: 1}
	convs := NewConversationService(repo, f.store.Users())

	conv, err := convs.Create(ctx, alice.ID, []uuid.UUID{bob.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv == nil || !conv.HasParticipant(bob.ID) {
		t.Fatalf("conv = %+v, want conversation with bob", conv)
	}
	if repo.creates != 2 {
		t.Errorf("creates = %d, want 2", repo.creates)
	}

	// Gives up after one retry without inventing a conversation.
	repo = &vanishingWinnerRepo{ConversationRepository: f.store.Conversations(), failures: 10}
	convs = NewConversationService(repo, f.store.Users())
	carol := f.user(t, "carol")

	conv, err = convs.Create(ctx, alice.ID, []uuid.UUID{carol.ID})
	if !errors.Is(err, ErrConversationExists) {
		t.Fatalf("err = %v, want ErrConversationExists", err)
	}
	if conv != nil {
		t.Errorf("conv = %+v, want nil", conv)
	}
	if repo.creates != 2 {
		t.Errorf("creates = %d, want 2", repo.creates)
	}
}

func TestSendPersistsAndNotifies(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conv := f.conversation(t, alice, bob)
	ctx := context.Background()

	msg, err := f.messages.Send(ctx, alice.ID, conv.ID, "  hi bob  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text != "hi bob" {
		t.Errorf("text = %q, want trimmed", msg.Text)
	}
	if msg.SenderName != "alice" {
		t.Errorf("senderName = %q, want alice", msg.SenderName)
	}

	if len(f.notifier.messages) != 1 || f.notifier.messages[0].ID != msg.ID {
		t.Fatalf("notified = %+v, want one notification for %s", f.notifier.messages, msg.ID)
	}

	list, hasMore, err := f.messages.List(ctx, bob.ID, conv.ID, nil, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if hasMore || len(list) != 1 || list[0].ID != msg.ID {
		t.Fatalf("list = %+v hasMore=%v, want just the sent message", list, hasMore)
	}

	convs, err := f.convs.List(ctx, bob.ID, "")
	if err != nil {
		t.Fatalf("List conversations: %v", err)
	}
	if len(convs) != 1 || convs[0].LastMessage == nil || convs[0].LastMessage.ID != msg.ID {
		t.Fatalf("conversations = %+v, want lastMessage %s", convs, msg.ID)
	}
}

func TestSendErrors(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	conv := f.conversation(t, alice, bob)
	ctx := context.Background()

	tests := []struct {
		name   string
		sender uuid.UUID
		conv   uuid.UUID
		text   string
		want   error
	}{
		{"empty text", alice.ID, conv.ID, "   ", ErrInvalidMessage},
		{"missing conversation", alice.ID, uuid.New(), "hello", ErrConversationNotFound},
		{"not a participant", carol.ID, conv.ID, "hello", ErrNotParticipant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.messages.Send(ctx, tt.sender, tt.conv, tt.text)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if len(f.notifier.messages) != 0 {
		t.Fatalf("failed sends notified %d times", len(f.notifier.messages))
	}
}

func TestSendAppendFailureIsRepaired(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conv := f.conversation(t, alice, bob)
	ctx := context.Background()

	f.store.FailAppend = errors.New("connection reset")
	if _, err := f.messages.Send(ctx, alice.ID, conv.ID, "lost?"); err == nil {
		t.Fatal("expected Send to fail")
	}
	f.store.FailAppend = nil

	if len(f.notifier.messages) != 0 {
		t.Fatal("message was broadcast despite failed append")
	}

	list, _, err := f.messages.List(ctx, bob.ID, conv.ID, nil, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("orphan visible before repair: %+v", list)
	}

	job := NewRepairJob(f.store.Messages(), time.Minute)
	n, err := job.RunOnce(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v; want 1, nil", n, err)
	}

	// Idempotent.
	if n, err := job.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("second RunOnce = %d, %v; want 0, nil", n, err)
	}

	list, _, err = f.messages.List(ctx, bob.ID, conv.ID, nil, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Text != "lost?" {
		t.Fatalf("after repair list = %+v", list)
	}
}

func TestListMessagesPaging(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conv := f.conversation(t, alice, bob)
	ctx := context.Background()

	var sent []*domain.Message
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		m, err := f.messages.Send(ctx, alice.ID, conv.ID, text)
		if err != nil {
			t.Fatalf("Send %s: %v", text, err)
		}
		sent = append(sent, m)
	}

	page, hasMore, err := f.messages.List(ctx, bob.ID, conv.ID, nil, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !hasMore || len(page) != 2 || page[0].Text != "four" || page[1].Text != "five" {
		t.Fatalf("latest page = %+v hasMore=%v", page, hasMore)
	}

	page, hasMore, err = f.messages.List(ctx, bob.ID, conv.ID, &page[0].ID, 2)
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	if !hasMore || len(page) != 2 || page[0].Text != "two" || page[1].Text != "three" {
		t.Fatalf("second page = %+v hasMore=%v", page, hasMore)
	}

	page, hasMore, err = f.messages.List(ctx, bob.ID, conv.ID, &sent[1].ID, 2)
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	if hasMore || len(page) != 1 || page[0].Text != "one" {
		t.Fatalf("last page = %+v hasMore=%v", page, hasMore)
	}
}

func TestListConversationsOrderAndSearch(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol, dave := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol"), f.user(t, "dave")
	ctx := context.Background()

	withBob := f.conversation(t, alice, bob)
	withCarol := f.conversation(t, alice, carol)
	withDave := f.conversation(t, alice, dave)

	if _, err := f.messages.Send(ctx, bob.ID, withBob.ID, "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.messages.Send(ctx, carol.ID, withCarol.ID, "second"); err != nil {
		t.Fatal(err)
	}

	convs, err := f.convs.List(ctx, alice.ID, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []uuid.UUID{withCarol.ID, withBob.ID, withDave.ID}
	if len(convs) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(convs), len(want))
	}
	for i, id := range want {
		if convs[i].ID != id {
			t.Errorf("convs[%d] = %s, want %s", i, convs[i].ID, id)
		}
	}

	convs, err = f.convs.List(ctx, alice.ID, "CAR")
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != withCarol.ID {
		t.Fatalf("search CAR = %+v, want carol's conversation", convs)
	}

	convs, err = f.convs.List(ctx, bob.ID, "dave")
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("bob sees %d conversations matching dave, want 0", len(convs))
	}
}

func TestDeleteConversation(t *testing.T) {
	f := newFixture(t)
	alice, bob, carol := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
	conv := f.conversation(t, alice, bob)
	ctx := context.Background()

	if err := f.convs.Delete(ctx, carol.ID, conv.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("non-participant delete err = %v, want ErrNotParticipant", err)
	}
	if err := f.convs.Delete(ctx, bob.ID, conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.convs.Delete(ctx, bob.ID, conv.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("second delete err = %v, want ErrConversationNotFound", err)
	}
	if len(f.notifier.deleted) != 1 || f.notifier.deleted[0] != conv.ID {
		t.Fatalf("deleted notifications = %v", f.notifier.deleted)
	}

	if _, err := f.messages.Send(ctx, alice.ID, conv.ID, "anyone?"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("send after delete err = %v, want ErrConversationNotFound", err)
	}
}

func TestBlockAndPolicy(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	ctx := context.Background()
	policy := NewBlockPolicy(f.store.Users())

	if err := f.users.Block(ctx, alice.ID, alice.ID); !errors.Is(err, ErrCannotBlockSelf) {
		t.Fatalf("self block err = %v", err)
	}
	if err := f.users.Block(ctx, alice.ID, uuid.New()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown block err = %v", err)
	}

	for range 2 {
		if err := f.users.Block(ctx, alice.ID, bob.ID); err != nil {
			t.Fatalf("Block: %v", err)
		}
	}

	blocked, err := f.users.ListBlocked(ctx, alice.ID)
	if err != nil || len(blocked) != 1 || blocked[0] != bob.ID {
		t.Fatalf("ListBlocked = %v, %v", blocked, err)
	}

	if ok, _ := policy.MayDeliver(ctx, bob.ID, alice.ID); ok {
		t.Error("bob -> alice delivered although alice blocked bob")
	}
	if ok, _ := policy.MayDeliver(ctx, alice.ID, bob.ID); !ok {
		t.Error("alice -> bob suppressed; block is directed")
	}

	for range 2 {
		if err := f.users.Unblock(ctx, alice.ID, bob.ID); err != nil {
			t.Fatalf("Unblock: %v", err)
		}
	}
	if ok, _ := policy.MayDeliver(ctx, bob.ID, alice.ID); !ok {
		t.Error("bob -> alice suppressed after unblock")
	}
}

type fakeCache struct{ invalidated []uuid.UUID }

func (c *fakeCache) InvalidateBlocks(_ context.Context, id uuid.UUID) error {
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestBlockInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	cache := &fakeCache{}
	f.users.SetBlockCache(cache)
	ctx := context.Background()

	if err := f.users.Block(ctx, alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.users.Unblock(ctx, alice.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	if len(cache.invalidated) != 2 || cache.invalidated[0] != alice.ID {
		t.Fatalf("invalidated = %v, want alice twice", cache.invalidated)
	}
}

func TestResolveSender(t *testing.T) {
	f := newFixture(t)
	alice, bob := f.user(t, "alice"), f.user(t, "bob")
	conv := f.conversation(t, alice, bob)
	ctx := context.Background()

	name, err := f.messages.ResolveSender(ctx, conv.ID, bob.ID)
	if err != nil || name != "bob" {
		t.Fatalf("ResolveSender = %q, %v", name, err)
	}
	if _, err := f.messages.ResolveSender(ctx, uuid.New(), bob.ID); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("missing conversation err = %v", err)
	}
	if _, err := f.messages.ResolveSender(ctx, conv.ID, uuid.New()); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("missing sender err = %v", err)
	}
}
