package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
)

func seedConversation(t *testing.T, s *Store, names ...string) *domain.Conversation {
	t.Helper()
	ctx := context.Background()

	conv := &domain.Conversation{ID: uuid.New(), CreatedAt: time.Now()}
	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		u := &domain.User{ID: uuid.New(), ExternalID: name + uuid.NewString(), Name: name, Email: uuid.NewString() + "@example.com"}
		if err := s.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
		conv.Participants = append(conv.Participants, domain.Participant{ID: u.ID, Name: name})
		conv.ParticipantNames = append(conv.ParticipantNames, name)
		ids = append(ids, u.ID)
	}
	if err := s.Conversations().Create(ctx, conv, domain.ParticipantKey(ids)); err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestCreateDuplicateKey(t *testing.T) {
	s := NewStore()
	conv := seedConversation(t, s, "alice", "bob")

	ids := conv.ParticipantIDs()
	dup := &domain.Conversation{ID: uuid.New(), Participants: conv.Participants}
	err := s.Conversations().Create(context.Background(), dup, domain.ParticipantKey([]uuid.UUID{ids[1], ids[0]}))
	if !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestRelinkSkipsDeletedConversations(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	kept := seedConversation(t, s, "alice", "bob")
	gone := seedConversation(t, s, "carol", "dave")

	for _, conv := range []*domain.Conversation{kept, gone} {
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       conv.Participants[0].ID,
			Text:           "hello",
			Timestamp:      time.Now(),
		}
		if err := s.Messages().Create(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Conversations().Delete(ctx, gone.ID); err != nil {
		t.Fatal(err)
	}

	n, err := s.Messages().RelinkOrphans(ctx)
	if err != nil || n != 1 {
		t.Fatalf("RelinkOrphans = %d, %v; want 1", n, err)
	}

	msgs, err := s.Messages().ListByConversation(ctx, kept.ID, nil, 10)
	if err != nil || len(msgs) != 1 || msgs[0].SenderName != "alice" {
		t.Fatalf("kept messages = %+v, %v", msgs, err)
	}
}

func TestParticipantNamesAreSnapshots(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv := seedConversation(t, s, "alice", "bob")

	u, _ := s.Users().GetByID(ctx, conv.Participants[0].ID)
	u.Name = "alicia"
	if err := s.Users().Update(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := s.Conversations().GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Participants[0].Name != "alicia" {
		t.Errorf("participant name = %q, want current name", got.Participants[0].Name)
	}
	if got.ParticipantNames[0] != "alice" {
		t.Errorf("participantNames[0] = %q, want snapshot", got.ParticipantNames[0])
	}
}

func TestListBeforeKeepsSameTimestampMessages(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	conv := seedConversation(t, s, "alice", "bob")

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var ids []uuid.UUID
	for _, text := range []string{"one", "two", "three"} {
		msg := &domain.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			SenderID:       conv.Participants[0].ID,
			Text:           text,
			Timestamp:      at,
		}
		if err := s.Messages().Create(ctx, msg); err != nil {
			t.Fatal(err)
		}
		if err := s.Conversations().AppendMessage(ctx, conv.ID, msg.ID); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.ID)
	}

	page, err := s.Messages().ListByConversation(ctx, conv.ID, &ids[2], 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[0] || page[1].ID != ids[1] {
		t.Fatalf("page before third = %v, want first two", page)
	}

	page, _ = s.Messages().ListByConversation(ctx, conv.ID, &ids[1], 10)
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("page before second = %v, want first", page)
	}
}
