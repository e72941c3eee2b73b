package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTitleRunes bounds conversation titles.
	MaxTitleRunes = 60
	// DefaultMessageLimit is used when a caller asks for a non-positive number of messages.
	DefaultMessageLimit = 100
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationRecord is the persisted header of a conversation.
type ConversationRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageRecord is one persisted chat message. ID is assigned by the store and grows
// with insertion order.
type MessageRecord struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationStore persists the chat log of conversations.
type ConversationStore interface {
	// SaveConversation inserts or replaces a conversation header.
	SaveConversation(c ConversationRecord) error
	GetConversation(id string) (*ConversationRecord, error)
	// ListConversations returns the most recently active conversations of a user first.
	ListConversations(userID string, limit int) ([]ConversationRecord, error)
	UpdateConversationTitle(id, title string) error
	// AppendMessages adds messages to an existing conversation and marks it active.
	AppendMessages(conversationID string, msgs ...MessageRecord) error
	// ListMessages returns the last limit messages of a conversation, oldest first.
	ListMessages(conversationID string, limit int) ([]MessageRecord, error)
}

// TitleFrom derives a conversation title from the first user message.
func TitleFrom(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(t) <= MaxTitleRunes {
		return t
	}
	r := []rune(t)
	return strings.TrimSpace(string(r[:MaxTitleRunes-1])) + "…"
}

func validateMessages(conversationID string, msgs []MessageRecord) error {
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	for _, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("invalid message role %q", m.Role)
		}
	}
	return nil
}

func messageLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	return limit
}

// messageTime returns the latest message time, or now when none is set.
func messageTime(msgs []MessageRecord) time.Time {
	var latest time.Time
	for _, m := range msgs {
		if m.CreatedAt.After(latest) {
			latest = m.CreatedAt
		}
	}
	if latest.IsZero() {
		return time.Now().UTC()
	}
	return latest
}

// SaveConversation stores c, replacing any header with the same id.
func (s *InMemoryStore) SaveConversation(c ConversationRecord) error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c
	return nil
}

// GetConversation returns the header with the given id.
func (s *InMemoryStore) GetConversation(id string) (*ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// ListConversations returns up to limit conversations of userID, most recently active first.
func (s *InMemoryStore) ListConversations(userID string, limit int) ([]ConversationRecord, error) {
	s.mu.RLock()
	var out []ConversationRecord
	for _, c := range s.conversations {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := listLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// UpdateConversationTitle sets the title of an existing conversation.
func (s *InMemoryStore) UpdateConversationTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.Title = title
	s.conversations[id] = c
	return nil
}

// AppendMessages adds msgs to the conversation log.
func (s *InMemoryStore) AppendMessages(conversationID string, msgs ...MessageRecord) error {
	if err := validateMessages(conversationID, msgs); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	for _, m := range msgs {
		s.lastMessageID++
		m.ID = s.lastMessageID
		m.ConversationID = conversationID
		s.messages[conversationID] = append(s.messages[conversationID], m)
	}
	c.UpdatedAt = messageTime(msgs)
	s.conversations[conversationID] = c
	return nil
}

// ListMessages returns the last limit messages of the conversation, oldest first.
func (s *InMemoryStore) ListMessages(conversationID string, limit int) ([]MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrNotFound
	}
	msgs := s.messages[conversationID]
	if n := messageLimit(limit); len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]MessageRecord(nil), msgs...), nil
}
