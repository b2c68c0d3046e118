// Package memory provides in-process implementations of the repository
// interfaces. All three repositories share one Store so that joins
// (sender names, participant names, last message) behave like the SQL ones.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
	"github.com/vedran77/chatten/internal/repository"
)

type conversationRow struct {
	id        uuid.UUID
	key       string
	conv      domain.Conversation
	messages  []uuid.UUID
	createdAt int64
}

type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*domain.User
	blocks        map[uuid.UUID][]uuid.UUID
	conversations map[uuid.UUID]*conversationRow
	messages      map[uuid.UUID]domain.Message
	linked        map[uuid.UUID]bool
	seq           int64

	// FailAppend makes AppendMessage fail, simulating a crash between the
	// two writes of message ingest.
	FailAppend error
}

func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]*domain.User),
		blocks:        make(map[uuid.UUID][]uuid.UUID),
		conversations: make(map[uuid.UUID]*conversationRow),
		messages:      make(map[uuid.UUID]domain.Message),
		linked:        make(map[uuid.UUID]bool),
	}
}

func (s *Store) Users() *UserRepo                 { return &UserRepo{s: s} }
func (s *Store) Conversations() *ConversationRepo { return &ConversationRepo{s: s} }
func (s *Store) Messages() *MessageRepo           { return &MessageRepo{s: s} }

// --- users ---

type UserRepo struct{ s *Store }

var _ repository.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.ID == user.ID || u.ExternalID == user.ExternalID || u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	cp := *user
	cp.BlockedUsers = nil
	r.s.users[user.ID] = &cp
	return nil
}

func (r *UserRepo) Update(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[user.ID]
	if !ok {
		return nil
	}
	u.Name = user.Name
	u.Email = user.Email
	u.AvatarURL = user.AvatarURL
	u.UpdatedAt = user.UpdatedAt
	return nil
}

func (r *UserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.userLocked(id), nil
}

func (r *UserRepo) GetByExternalID(_ context.Context, externalID string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for id, u := range r.s.users {
		if u.ExternalID == externalID {
			return r.s.userLocked(id), nil
		}
	}
	return nil, nil
}

func (r *UserRepo) GetByIDs(_ context.Context, ids []uuid.UUID) ([]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var users []domain.User
	for _, id := range ids {
		if u := r.s.userLocked(id); u != nil {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (r *UserRepo) List(_ context.Context) ([]domain.UserSummary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	users := make([]domain.UserSummary, 0, len(r.s.users))
	for _, u := range r.s.users {
		users = append(users, domain.UserSummary{ID: u.ID, Name: u.Name, AvatarURL: u.AvatarURL})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (r *UserRepo) Block(_ context.Context, userID, blockedID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, id := range r.s.blocks[userID] {
		if id == blockedID {
			return nil
		}
	}
	r.s.blocks[userID] = append(r.s.blocks[userID], blockedID)
	return nil
}

func (r *UserRepo) Unblock(_ context.Context, userID, blockedID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	list := r.s.blocks[userID]
	for i, id := range list {
		if id == blockedID {
			r.s.blocks[userID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *UserRepo) ListBlocked(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]uuid.UUID{}, r.s.blocks[userID]...), nil
}

func (r *UserRepo) IsBlocked(_ context.Context, userID, otherID uuid.UUID) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, id := range r.s.blocks[userID] {
		if id == otherID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) userLocked(id uuid.UUID) *domain.User {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	cp := *u
	cp.BlockedUsers = append([]uuid.UUID{}, s.blocks[id]...)
	return &cp
}

// --- conversations ---

type ConversationRepo struct{ s *Store }

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(_ context.Context, conv *domain.Conversation, participantKey string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, row := range r.s.conversations {
		if row.id == conv.ID || row.key == participantKey {
			return repository.ErrDuplicate
		}
	}

	r.s.seq++
	stored := *conv
	stored.Participants = append([]domain.Participant{}, conv.Participants...)
	stored.ParticipantNames = append([]string{}, conv.ParticipantNames...)
	stored.LastMessage = nil
	r.s.conversations[conv.ID] = &conversationRow{
		id:        conv.ID,
		key:       participantKey,
		conv:      stored,
		createdAt: r.s.seq,
	}
	return nil
}

func (r *ConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.conversations[id]
	if !ok {
		return nil, nil
	}
	conv := r.s.viewLocked(row)
	return &conv, nil
}

func (r *ConversationRepo) GetByParticipantKey(_ context.Context, participantKey string) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, row := range r.s.conversations {
		if row.key == participantKey {
			conv := r.s.viewLocked(row)
			return &conv, nil
		}
	}
	return nil, nil
}

func (r *ConversationRepo) ListByUser(_ context.Context, userID uuid.UUID, search string) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	term := strings.ToLower(search)
	type item struct {
		conv domain.Conversation
		seq  int64
	}
	var items []item
	for _, row := range r.s.conversations {
		if !row.conv.HasParticipant(userID) || !namesContain(row.conv.ParticipantNames, term) {
			continue
		}
		conv := r.s.viewLocked(row)
		conv.LastMessage = r.s.lastMessageLocked(row.id)
		items = append(items, item{conv: conv, seq: row.createdAt})
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].conv.LastMessage, items[j].conv.LastMessage
		switch {
		case a != nil && b != nil && !a.Timestamp.Equal(b.Timestamp):
			return a.Timestamp.After(b.Timestamp)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return items[i].seq > items[j].seq
	})

	convs := make([]domain.Conversation, len(items))
	for i, it := range items {
		convs[i] = it.conv
	}
	return convs, nil
}

func (r *ConversationRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if row, ok := r.s.conversations[id]; ok {
		for _, msgID := range row.messages {
			delete(r.s.linked, msgID)
		}
	}
	delete(r.s.conversations, id)
	return nil
}

func (r *ConversationRepo) AppendMessage(_ context.Context, conversationID, messageID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.FailAppend != nil {
		return r.s.FailAppend
	}
	r.s.appendLocked(conversationID, messageID)
	return nil
}

func (s *Store) appendLocked(conversationID, messageID uuid.UUID) bool {
	row, ok := s.conversations[conversationID]
	if !ok || s.linked[messageID] {
		return false
	}
	row.messages = append(row.messages, messageID)
	s.linked[messageID] = true
	return true
}

// viewLocked returns a copy of the conversation with current participant
// names and avatars joined in.
func (s *Store) viewLocked(row *conversationRow) domain.Conversation {
	conv := row.conv
	conv.Participants = make([]domain.Participant, len(row.conv.Participants))
	for i, p := range row.conv.Participants {
		if u, ok := s.users[p.ID]; ok {
			p.Name = u.Name
			p.AvatarURL = u.AvatarURL
		}
		conv.Participants[i] = p
	}
	conv.ParticipantNames = append([]string{}, row.conv.ParticipantNames...)
	return conv
}

func (s *Store) lastMessageLocked(conversationID uuid.UUID) *domain.LastMessage {
	var last *domain.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID {
			continue
		}
		if last == nil || m.Timestamp.After(last.Timestamp) {
			m := m
			last = &m
		}
	}
	if last == nil {
		return nil
	}
	return last.Preview()
}

func namesContain(names []string, term string) bool {
	if term == "" {
		return true
	}
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), term) {
			return true
		}
	}
	return false
}

// --- messages ---

type MessageRepo struct{ s *Store }

var _ repository.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[msg.ID]; ok {
		return repository.ErrDuplicate
	}
	stored := *msg
	stored.SenderName = ""
	stored.SenderAvatarURL = nil
	r.s.messages[msg.ID] = stored
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	r.s.joinSenderLocked(&m)
	return &m, nil
}

func (r *MessageRepo) ListByConversation(_ context.Context, conversationID uuid.UUID, before *uuid.UUID, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.conversations[conversationID]
	if !ok {
		return nil, nil
	}

	messages := make([]domain.Message, 0, len(row.messages))
	for _, id := range row.messages {
		m := r.s.messages[id]
		r.s.joinSenderLocked(&m)
		messages = append(messages, m)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})

	if before != nil {
		// Messages sharing the cursor's timestamp keep their append order.
		n := slices.IndexFunc(messages, func(m domain.Message) bool { return m.ID == *before })
		if n < 0 {
			return nil, nil
		}
		messages = messages[:n]
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (r *MessageRepo) RelinkOrphans(_ context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var orphans []domain.Message
	for id, m := range r.s.messages {
		if !r.s.linked[id] {
			orphans = append(orphans, m)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Timestamp.Before(orphans[j].Timestamp) })

	var n int64
	for _, m := range orphans {
		if r.s.appendLocked(m.ConversationID, m.ID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) joinSenderLocked(m *domain.Message) {
	if u, ok := s.users[m.SenderID]; ok {
		m.SenderName = u.Name
		m.SenderAvatarURL = u.AvatarURL
	}
}
