// Package triage composes the final structured assessment of a completed symptom dialogue:
// severity band, summary, next steps, warnings and knowledge base triage points.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/normalize"
)

// DefaultSummaryTimeout bounds a single summarizer call.
const DefaultSummaryTimeout = 8 * time.Second

// Summary sources recorded on an assessment.
const (
	SummarySourceLLM      = "llm"
	SummarySourceTemplate = "template"
)

// Turn is one recorded exchange. Question is zero for the initial symptom report.
type Turn struct {
	Question   kb.QuestionRef `json:"question,omitempty"`
	Raw        string         `json:"raw"`
	Normalized string         `json:"normalized"`
}

// Transcript is the read-only view of a dialogue the composer works from.
type Transcript struct {
	SessionID string   `json:"session_id"`
	Language  string   `json:"language"`
	Activated []string `json:"activated"`
	Turns     []Turn   `json:"turns"`
}

// Assessment is the immutable result of composition. Slices are owned by the assessment.
type Assessment struct {
	SessionID     string    `json:"session_id"`
	Summary       string    `json:"summary"`
	SummarySource string    `json:"summary_source"`
	Severity      Severity  `json:"severity"`
	Score         int       `json:"score"`
	Symptoms      []string  `json:"symptoms"`
	NextSteps     []string  `json:"next_steps"`
	Warnings      []string  `json:"warnings"`
	TriagePoints  []string  `json:"triage_points"`
	CreatedAt     time.Time `json:"created_at"`
}

// Text renders the assessment as the user-facing reply body.
func (a Assessment) Text(lang string) string {
	labels := map[string][4]string{
		normalize.LanguageEnglish: {"Severity", "What you can do", "Next steps", "Watch out for"},
		normalize.LanguageHindi:   {"गंभीरता", "आप क्या कर सकते हैं", "आगे क्या करें", "ध्यान दें"},
	}
	l, ok := labels[lang]
	if !ok {
		l = labels[normalize.LanguageEnglish]
	}

	var b strings.Builder
	b.WriteString(a.Summary)
	fmt.Fprintf(&b, "\n\n%s: %s", l[0], a.Severity)
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n\n%s:", title)
		for _, it := range items {
			b.WriteString("\n- ")
			b.WriteString(it)
		}
	}
	writeList(l[1], a.TriagePoints)
	writeList(l[2], a.NextSteps)
	writeList(l[3], a.Warnings)
	return b.String()
}

// Summarizer is the external free-text summarization collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, lang, transcript string) (string, error)
}

// Opts configures a Composer.
type Opts struct {
	Summarizer     Summarizer
	SummaryTimeout time.Duration
	Thresholds     Thresholds
	Now            func() time.Time
}

// Option configures a Composer.
type Option func(*Opts)

// WithSummarizer sets the external summarizer. Without one the templated summary is used.
func WithSummarizer(s Summarizer) Option {
	return func(o *Opts) { o.Summarizer = s }
}

// WithSummaryTimeout bounds each summarizer call.
func WithSummaryTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SummaryTimeout = d }
}

// WithThresholds overrides the severity band thresholds.
func WithThresholds(t Thresholds) Option {
	return func(o *Opts) { o.Thresholds = t }
}

// WithClock sets the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Composer builds assessments. It is safe for concurrent use.
type Composer struct {
	kb             *kb.KnowledgeBase
	summarizer     Summarizer
	summaryTimeout time.Duration
	thresholds     Thresholds
	now            func() time.Time
}

// NewComposer creates a composer over k.
func NewComposer(k *kb.KnowledgeBase, opts ...Option) (*Composer, error) {
	cfg := Opts{
		SummaryTimeout: DefaultSummaryTimeout,
		Thresholds:     DefaultThresholds,
		Now:            time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = DefaultSummaryTimeout
	}
	return &Composer{
		kb:             k,
		summarizer:     cfg.Summarizer,
		summaryTimeout: cfg.SummaryTimeout,
		thresholds:     cfg.Thresholds,
		now:            cfg.Now,
	}, nil
}

// Compose builds the assessment for a completed dialogue. It never fails: a summarizer
// error, timeout or blank result falls back to the templated summary.
func (c *Composer) Compose(ctx context.Context, t Transcript) Assessment {
	lang := t.Language
	if lang == "" {
		lang = normalize.LanguageEnglish
	}

	records := c.records(t.Activated)
	score := Score(c.kb, t)
	sev := c.thresholds.Band(score)

	names := make([]string, 0, len(records))
	for _, r := range records {
		names = append(names, r.NameFor(lang))
	}

	summary, source := c.summarize(ctx, lang, t, names)
	nextSteps, warnings := templatesFor(lang, sev)

	a := Assessment{
		SessionID:     t.SessionID,
		Summary:       summary,
		SummarySource: source,
		Severity:      sev,
		Score:         score,
		Symptoms:      names,
		NextSteps:     nextSteps,
		Warnings:      warnings,
		TriagePoints:  TriagePoints(records),
		CreatedAt:     c.now().UTC(),
	}
	slog.Info("Assessment composed", "sessionID", t.SessionID, "severity", sev, "score", score, "records", len(records), "summarySource", source)
	return a
}

func (c *Composer) records(ids []string) []kb.SymptomRecord {
	out := make([]kb.SymptomRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := c.kb.Record(id); ok {
			out = append(out, rec)
		} else {
			slog.Warn("Activated record missing from knowledge base", "recordID", id)
		}
	}
	return out
}

func (c *Composer) summarize(ctx context.Context, lang string, t Transcript, names []string) (string, string) {
	fallback := FallbackSummary(lang, names)
	if c.summarizer == nil {
		return fallback, SummarySourceTemplate
	}

	sctx, cancel := context.WithTimeout(ctx, c.summaryTimeout)
	defer cancel()
	out, err := c.summarizer.Summarize(sctx, lang, RenderTranscript(c.kb, t))
	if err != nil {
		slog.Warn("Summary call failed, using template", "sessionID", t.SessionID, "error", err)
		return fallback, SummarySourceTemplate
	}
	if out = strings.TrimSpace(out); out == "" {
		slog.Warn("Summary call returned empty text, using template", "sessionID", t.SessionID)
		return fallback, SummarySourceTemplate
	}
	return out, SummarySourceLLM
}

// Score sums the default weights of the activated records and the deltas of every rule
// triggered by the recorded answers. Unknown records, unknown questions and answers that do
// not fit their domain contribute nothing.
func Score(k *kb.KnowledgeBase, t Transcript) int {
	total := 0
	seen := make(map[string]bool, len(t.Activated))
	for _, id := range t.Activated {
		if seen[id] {
			continue
		}
		seen[id] = true
		if rec, ok := k.Record(id); ok {
			total += rec.Weight
		}
	}
	for _, turn := range t.Turns {
		if turn.Question.IsZero() {
			continue
		}
		q, ok := k.Question(turn.Question)
		if !ok {
			continue
		}
		total += q.Delta(kb.ParseAnswer(q, normalize.Normalize(turn.Raw)))
	}
	return total
}

// TriagePoints snapshots the records' triage points in record order, deduplicated by text.
func TriagePoints(records []kb.SymptomRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		for _, p := range r.TriagePoints {
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// RenderTranscript formats the dialogue as question/answer lines for the summarizer.
func RenderTranscript(k *kb.KnowledgeBase, t Transcript) string {
	var b strings.Builder
	for _, turn := range t.Turns {
		if turn.Question.IsZero() {
			fmt.Fprintf(&b, "Patient: %s\n", turn.Raw)
			continue
		}
		text := turn.Question.Key()
		if q, ok := k.Question(turn.Question); ok {
			text = q.Text
		}
		fmt.Fprintf(&b, "Question: %s\nAnswer: %s\n", text, turn.Raw)
	}
	return strings.TrimSpace(b.String())
}
