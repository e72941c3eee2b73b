package flow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/nlu"
	"github.com/healbee/healbee/internal/safety"
	"github.com/healbee/healbee/internal/store"
	"github.com/healbee/healbee/internal/triage"
)

// DefaultAnswerTimeout bounds one direct answer call.
const DefaultAnswerTimeout = 8 * time.Second

// Gate is the safety check every outbound reply passes through exactly once.
type Gate interface {
	Enforce(text string, c safety.Context) safety.Verdict
}

// Opts holds the collaborators of an Engine.
type Opts struct {
	Extractor     *nlu.Extractor
	Composer      *triage.Composer
	Gate          Gate
	Answerer      Answerer
	Store         store.Store
	MaxFollowUps  int
	AnswerTimeout time.Duration
	NewID         func() string
	Now           func() time.Time
}

// Option configures an Engine.
type Option func(*Opts)

// WithExtractor sets the intent and entity extractor. Defaults to local rules only.
func WithExtractor(e *nlu.Extractor) Option {
	return func(o *Opts) { o.Extractor = e }
}

// WithComposer sets the assessment composer. Defaults to templated summaries.
func WithComposer(c *triage.Composer) Option {
	return func(o *Opts) { o.Composer = c }
}

// WithGate replaces the safety gate.
func WithGate(g Gate) Option {
	return func(o *Opts) { o.Gate = g }
}

// WithAnswerer sets the direct answer collaborator. Without one, non-symptom
// questions get the fixed apology.
func WithAnswerer(a Answerer) Option {
	return func(o *Opts) { o.Answerer = a }
}

// WithStore persists completed assessments and supplies user memory.
func WithStore(s store.Store) Option {
	return func(o *Opts) { o.Store = s }
}

// WithMaxFollowUps caps follow-up questions per session. Values below 1 are clamped to 1.
func WithMaxFollowUps(n int) Option {
	return func(o *Opts) { o.MaxFollowUps = n }
}

// WithAnswerTimeout bounds each direct answer call.
func WithAnswerTimeout(d time.Duration) Option {
	return func(o *Opts) { o.AnswerTimeout = d }
}

// WithIDGenerator replaces uuid-based ids, for reproducible runs.
func WithIDGenerator(fn func() string) Option {
	return func(o *Opts) { o.NewID = fn }
}

// WithClock replaces time.Now for conversation activity tracking.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine holds the read-only collaborators shared by every conversation.
type Engine struct {
	kb            *kb.KnowledgeBase
	extractor     *nlu.Extractor
	composer      *triage.Composer
	gate          Gate
	answerer      Answerer
	store         store.Store
	maxFollowUps  int
	answerTimeout time.Duration
	newID         func() string
	now           func() time.Time
}

// NewEngine wires an engine around the knowledge base.
func NewEngine(k *kb.KnowledgeBase, opts ...Option) (*Engine, error) {
	if k == nil {
		return nil, fmt.Errorf("knowledge base is required")
	}
	cfg := Opts{MaxFollowUps: DefaultMaxFollowUps, AnswerTimeout: DefaultAnswerTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Extractor == nil {
		cfg.Extractor = nlu.NewExtractor(k)
	}
	if cfg.Composer == nil {
		c, err := triage.NewComposer(k)
		if err != nil {
			return nil, fmt.Errorf("create composer: %w", err)
		}
		cfg.Composer = c
	}
	if cfg.Gate == nil {
		cfg.Gate = safety.Layer{}
	}
	if cfg.MaxFollowUps < 1 {
		slog.Warn("Max follow-ups below 1, clamping", "requested", cfg.MaxFollowUps)
		cfg.MaxFollowUps = 1
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	slog.Debug("Engine created", "kb", k.Name(), "records", len(k.Records()), "maxFollowUps", cfg.MaxFollowUps,
		"answerer", cfg.Answerer != nil, "store", cfg.Store != nil)
	return &Engine{
		kb:            k,
		extractor:     cfg.Extractor,
		composer:      cfg.Composer,
		gate:          cfg.Gate,
		answerer:      cfg.Answerer,
		store:         cfg.Store,
		maxFollowUps:  cfg.MaxFollowUps,
		answerTimeout: cfg.AnswerTimeout,
		newID:         cfg.NewID,
		now:           cfg.Now,
	}, nil
}

// KnowledgeBase returns the catalog the engine runs on.
func (e *Engine) KnowledgeBase() *kb.KnowledgeBase { return e.kb }

// MaxFollowUps returns the per-session follow-up cap.
func (e *Engine) MaxFollowUps() int { return e.maxFollowUps }
