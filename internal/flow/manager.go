package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/store"
)

// memoryLookback is how many past assessments feed user memory.
const memoryLookback = 3

// ErrConversationNotFound is returned for unknown conversation ids.
var ErrConversationNotFound = errors.New("conversation not found")

// StartOptions configures a new conversation.
type StartOptions struct {
	UserID string
	// Language pins replies to "en" or "hi". Empty detects it per utterance.
	Language string
	// Profile, when set, replaces the stored profile of UserID.
	Profile *models.Profile
}

// Manager is the registry of live conversations. Different conversations are handled
// in parallel; turns of one conversation are serialized by the conversation itself.
type Manager struct {
	engine *Engine
	mu     sync.RWMutex
	convs  map[string]*Conversation
}

// NewManager creates an empty registry on top of e.
func NewManager(e *Engine) *Manager {
	return &Manager{engine: e, convs: make(map[string]*Conversation)}
}

// Engine returns the engine conversations run on.
func (m *Manager) Engine() *Engine { return m.engine }

// Start opens a conversation. Stored profile and memory of the user are loaded as prompt
// context; store failures are logged and the conversation starts without them.
func (m *Manager) Start(opts StartOptions) (*Conversation, error) {
	if !models.IsSupportedLanguage(opts.Language) {
		return nil, models.ErrUnsupportedLang
	}
	var profile models.Profile
	if opts.Profile != nil {
		if err := opts.Profile.Validate(); err != nil {
			return nil, err
		}
		profile = *opts.Profile
	}

	var memory Memory
	if st := m.engine.store; st != nil && opts.UserID != "" {
		if opts.Profile != nil {
			if err := st.SaveProfile(opts.UserID, profile); err != nil {
				slog.Error("Failed to save profile", "userID", opts.UserID, "error", err)
			}
		} else if p, err := st.GetProfile(opts.UserID); err == nil {
			profile = *p
		} else if !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to load profile", "userID", opts.UserID, "error", err)
		}

		recs, err := st.ListAssessments(opts.UserID, memoryLookback)
		if err != nil {
			slog.Error("Failed to load user memory", "userID", opts.UserID, "error", err)
		}
		memory = MemoryFromAssessments(recs)
	}

	c := newConversation(m.engine, m.engine.newID(), opts.UserID, opts.Language, BuildUserContext(profile, memory))
	c.saveHeader()
	m.mu.Lock()
	m.convs[c.id] = c
	m.mu.Unlock()
	slog.Info("Conversation started", "conversationID", c.id, "userID", opts.UserID, "language", opts.Language, "hasMemory", !memory.IsZero())
	return c, nil
}

// Get returns a live conversation.
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return c, nil
}

// Handle routes text to conversation id.
func (m *Manager) Handle(ctx context.Context, id, text string) (Reply, error) {
	c, err := m.Get(id)
	if err != nil {
		return Reply{}, err
	}
	return c.Handle(ctx, text)
}

// End closes and forgets conversation id.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.convs[id]
	delete(m.convs, id)
	m.mu.Unlock()
	if !ok {
		return ErrConversationNotFound
	}
	c.End(ctx)
	return nil
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.convs)
}

// ExpireIdle ends and forgets conversations with no turn for longer than maxIdle. It
// returns how many were ended.
func (m *Manager) ExpireIdle(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.engine.now().Add(-maxIdle)
	var idle []*Conversation
	m.mu.Lock()
	for id, c := range m.convs {
		if c.LastActive().Before(cutoff) {
			idle = append(idle, c)
			delete(m.convs, id)
		}
	}
	m.mu.Unlock()

	for _, c := range idle {
		c.End(ctx)
	}
	if len(idle) > 0 {
		slog.Info("Idle conversations expired", "count", len(idle), "maxIdle", maxIdle)
	}
	return len(idle)
}

// Shutdown ends every live conversation.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	convs := m.convs
	m.convs = make(map[string]*Conversation)
	m.mu.Unlock()
	for _, c := range convs {
		c.End(ctx)
	}
	slog.Info("Conversation manager shut down", "ended", len(convs))
}
