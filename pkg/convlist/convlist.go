// Package convlist keeps a client's conversation list consistent with live
// message events between authoritative fetches.
package convlist

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/chatten/internal/domain"
)

// Entry is one conversation as the client displays it.
type Entry struct {
	domain.Conversation
	// Active marks a conversation that received a live message since the
	// last fetch.
	Active bool
	// Flash is set on live updates and cleared by the view after it has
	// been rendered once.
	Flash bool
}

// List is safe for concurrent use.
type List struct {
	mu      sync.Mutex
	entries []Entry
	// transcripts holds the messages seen per conversation, deduplicated by id.
	transcripts map[uuid.UUID][]domain.Message
}

func New() *List {
	return &List{transcripts: make(map[uuid.UUID][]domain.Message)}
}

// Replace swaps in an authoritative list. Every entry starts inactive and
// unflashed.
func (l *List) Replace(convs []domain.Conversation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make([]Entry, len(convs))
	for i, c := range convs {
		l.entries[i] = Entry{Conversation: c}
	}
	sortEntries(l.entries)
}

// ApplyReceived applies a live messageReceived event. It reports true when
// the conversation is unknown and the caller should refetch the list.
// Applying the same event twice has the same effect as applying it once.
func (l *List) ApplyReceived(msg domain.Message) (refetch bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(msg.ConversationID)
	if i < 0 {
		return true
	}

	l.recordLocked(msg)
	e := &l.entries[i]
	e.Active = true
	e.Flash = true
	if newer(msg.Preview(), e.LastMessage) {
		e.LastMessage = msg.Preview()
	}
	sortEntries(l.entries)
	return false
}

// ApplySent records the caller's own message without waiting for an echo.
func (l *List) ApplySent(msg domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recordLocked(msg)
	if i := l.indexLocked(msg.ConversationID); i >= 0 {
		e := &l.entries[i]
		if newer(msg.Preview(), e.LastMessage) {
			e.LastMessage = msg.Preview()
		}
		sortEntries(l.entries)
	}
}

// Remove drops a deleted conversation and its transcript.
func (l *List) Remove(conversationID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexLocked(conversationID); i >= 0 {
		l.entries = slices.Delete(l.entries, i, i+1)
	}
	delete(l.transcripts, conversationID)
}

// ClearFlash resets the transient flash state of one conversation.
func (l *List) ClearFlash(conversationID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if i := l.indexLocked(conversationID); i >= 0 {
		l.entries[i].Flash = false
	}
}

// SetTranscript replaces the messages known for a conversation, typically
// after fetching its history.
func (l *List) SetTranscript(conversationID uuid.UUID, messages []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.transcripts[conversationID] = nil
	for _, m := range messages {
		l.recordLocked(m)
	}
}

// Entries returns a snapshot of the list in display order.
func (l *List) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

// Transcript returns a snapshot of the messages known for a conversation.
func (l *List) Transcript(conversationID uuid.UUID) []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.transcripts[conversationID])
}

func (l *List) indexLocked(conversationID uuid.UUID) int {
	return slices.IndexFunc(l.entries, func(e Entry) bool { return e.ID == conversationID })
}

func (l *List) recordLocked(msg domain.Message) {
	t := l.transcripts[msg.ConversationID]
	if slices.ContainsFunc(t, func(m domain.Message) bool { return m.ID == msg.ID }) {
		return
	}
	t = append(t, msg)
	slices.SortStableFunc(t, func(a, b domain.Message) int { return a.Timestamp.Compare(b.Timestamp) })
	l.transcripts[msg.ConversationID] = t
}

// newer reports whether a should replace b as the latest message.
func newer(a, b *domain.LastMessage) bool {
	return b == nil || !a.Timestamp.Before(b.Timestamp)
}

// sortEntries orders by last message time, newest first. Conversations
// without messages go last; ties keep their relative order.
func sortEntries(entries []Entry) {
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return 0
		case a.LastMessage == nil:
			return 1
		case b.LastMessage == nil:
			return -1
		}
		return b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp)
	})
}
