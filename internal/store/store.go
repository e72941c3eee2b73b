// Package store provides storage backends for HealBee.
//
// It persists composed assessments (with the transcript they were built from), user
// profiles, and the chat log of every conversation. Backends: in-memory, SQLite and
// PostgreSQL.
package store

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/triage"
)

// DefaultListLimit is used when a caller asks for a non-positive number of assessments.
const DefaultListLimit = 20

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AssessmentRecord is one completed dialogue as persisted.
type AssessmentRecord struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id,omitempty"`
	Language       string            `json:"language"`
	Assessment     triage.Assessment `json:"assessment"`
	Transcript     []triage.Turn     `json:"transcript"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Store is the persistence collaborator used by the conversation layer and the API.
type Store interface {
	SaveAssessment(r AssessmentRecord) error
	GetAssessment(id string) (*AssessmentRecord, error)
	// ListAssessments returns the newest assessments of a user first.
	ListAssessments(userID string, limit int) ([]AssessmentRecord, error)
	SaveProfile(userID string, p models.Profile) error
	GetProfile(userID string) (*models.Profile, error)
	ConversationStore
	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and key/value DSNs, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the backend matching the DSN, or an in-memory store when no DSN is configured.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore keeps everything in process memory. Safe for concurrent use.
type InMemoryStore struct {
	mu            sync.RWMutex
	assessments   []AssessmentRecord
	profiles      map[string]models.Profile
	conversations map[string]ConversationRecord
	messages      map[string][]MessageRecord
	lastMessageID int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles:      make(map[string]models.Profile),
		conversations: make(map[string]ConversationRecord),
		messages:      make(map[string][]MessageRecord),
	}
}

// SaveAssessment stores r, replacing any record with the same id.
func (s *InMemoryStore) SaveAssessment(r AssessmentRecord) error {
	if r.ID == "" {
		return errors.New("assessment id is required")
	}
	r = cloneRecord(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assessments {
		if s.assessments[i].ID == r.ID {
			s.assessments[i] = r
			return nil
		}
	}
	s.assessments = append(s.assessments, r)
	return nil
}

// GetAssessment returns the record with the given id.
func (s *InMemoryStore) GetAssessment(id string) (*AssessmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.assessments {
		if r.ID == id {
			c := cloneRecord(r)
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// ListAssessments returns up to limit records of userID, newest first.
func (s *InMemoryStore) ListAssessments(userID string, limit int) ([]AssessmentRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	s.mu.RLock()
	var out []AssessmentRecord
	for _, r := range s.assessments {
		if r.UserID == userID {
			out = append(out, cloneRecord(r))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveProfile stores or replaces the profile of userID.
func (s *InMemoryStore) SaveProfile(userID string, p models.Profile) error {
	if userID == "" {
		return errors.New("user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = cloneProfile(p)
	return nil
}

// GetProfile returns the profile of userID.
func (s *InMemoryStore) GetProfile(userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneProfile(p)
	return &c, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneRecord(r AssessmentRecord) AssessmentRecord {
	r.Transcript = append([]triage.Turn(nil), r.Transcript...)
	a := r.Assessment
	a.Symptoms = append([]string(nil), a.Symptoms...)
	a.NextSteps = append([]string(nil), a.NextSteps...)
	a.Warnings = append([]string(nil), a.Warnings...)
	a.TriagePoints = append([]string(nil), a.TriagePoints...)
	r.Assessment = a
	return r
}

func cloneProfile(p models.Profile) models.Profile {
	p.ChronicConditions = append([]string(nil), p.ChronicConditions...)
	p.Allergies = append([]string(nil), p.Allergies...)
	if p.Pregnant != nil {
		v := *p.Pregnant
		p.Pregnant = &v
	}
	return p
}
