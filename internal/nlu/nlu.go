// Package nlu classifies normalized utterances into intents and extracts candidate
// medical entities.
//
// Classification is local first: emergency phrases, then diagnosis-request phrasing,
// then knowledge base keyword matches. Only when none of these fire is an external
// Hinter consulted, with a bounded timeout and a GENERAL_HEALTH_QUESTION fallback.
package nlu

import (
	"context"
	"log/slog"
	"time"

	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/normalize"
)

// Intent is the coarse purpose of an utterance.
type Intent string

// Intent constants.
const (
	IntentSymptomQuery          Intent = "SYMPTOM_QUERY"
	IntentGeneralHealthQuestion Intent = "GENERAL_HEALTH_QUESTION"
	IntentEmergency             Intent = "EMERGENCY"
	IntentDiagnosisRequest      Intent = "DIAGNOSIS_REQUEST"
	IntentOther                 Intent = "OTHER"
)

// IsValid reports whether i is a known intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentSymptomQuery, IntentGeneralHealthQuestion, IntentEmergency, IntentDiagnosisRequest, IntentOther:
		return true
	}
	return false
}

// Source records which path produced the intent.
type Source string

// Source constants.
const (
	SourceLocal    Source = "local"
	SourceHint     Source = "hint"
	SourceFallback Source = "fallback"
)

// DefaultHintTimeout bounds a single Hinter call.
const DefaultHintTimeout = 8 * time.Second

// EntitySet holds the candidate entities found in an utterance. Symptoms are knowledge
// base record ids in activation order; the other slices hold canonical vocabulary.
type EntitySet struct {
	Symptoms   []string `json:"symptoms,omitempty"`
	BodyParts  []string `json:"body_parts,omitempty"`
	Durations  []string `json:"durations,omitempty"`
	Severities []string `json:"severities,omitempty"`
	Other      []string `json:"other,omitempty"`
}

// Result is the outcome of extraction.
type Result struct {
	Intent   Intent    `json:"intent"`
	Entities EntitySet `json:"entities"`
	Source   Source    `json:"source"`
	// Emergency lists the emergency phrases that fired, if any.
	Emergency []string `json:"emergency,omitempty"`
}

// Hinter is the external intent/entity collaborator. It may fail or time out.
type Hinter interface {
	Hint(ctx context.Context, text normalize.Text) (Hint, error)
}

// Opts configures an Extractor.
type Opts struct {
	Hinter      Hinter
	HintTimeout time.Duration
}

// Option configures an Extractor.
type Option func(*Opts)

// WithHinter sets the external hinter consulted when local rules do not decide.
func WithHinter(h Hinter) Option {
	return func(o *Opts) { o.Hinter = h }
}

// WithHintTimeout bounds each hinter call.
func WithHintTimeout(d time.Duration) Option {
	return func(o *Opts) { o.HintTimeout = d }
}

// Extractor maps normalized text to an intent and entity set. It holds no per-call
// state and is safe for concurrent use.
type Extractor struct {
	kb          *kb.KnowledgeBase
	hinter      Hinter
	hintTimeout time.Duration
}

// NewExtractor creates an extractor over the given knowledge base.
func NewExtractor(k *kb.KnowledgeBase, opts ...Option) *Extractor {
	cfg := Opts{HintTimeout: DefaultHintTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HintTimeout <= 0 {
		cfg.HintTimeout = DefaultHintTimeout
	}
	return &Extractor{kb: k, hinter: cfg.Hinter, hintTimeout: cfg.HintTimeout}
}

// Extract classifies text. It never fails: hinter errors degrade to
// GENERAL_HEALTH_QUESTION.
func (e *Extractor) Extract(ctx context.Context, text normalize.Text) Result {
	res := e.ExtractLocal(text)
	if res.Intent != IntentOther || text.Text == "" {
		return res
	}
	if e.hinter == nil {
		res.Intent = IntentGeneralHealthQuestion
		res.Source = SourceFallback
		return res
	}

	hctx, cancel := context.WithTimeout(ctx, e.hintTimeout)
	defer cancel()
	hint, err := e.hinter.Hint(hctx, text)
	if err != nil {
		slog.Warn("Intent hint failed, falling back", "error", err, "fallback", IntentGeneralHealthQuestion)
		res.Intent = IntentGeneralHealthQuestion
		res.Source = SourceFallback
		return res
	}

	e.mergeHint(&res.Entities, hint.Entities)
	res.Intent = hint.Intent
	res.Source = SourceHint
	if res.Intent == IntentSymptomQuery && len(res.Entities.Symptoms) == 0 {
		// A symptom intent without a catalog record cannot drive a dialogue.
		res.Intent = IntentGeneralHealthQuestion
	}
	if res.Intent == IntentOther && len(res.Entities.Symptoms) > 0 {
		res.Intent = IntentSymptomQuery
	}
	slog.Debug("Intent hint applied", "intent", res.Intent, "symptoms", res.Entities.Symptoms)
	return res
}

// ExtractLocal applies only the local rules. Utterances that no local rule decides are
// reported as OTHER. The dialogue uses this for answers so turns stay deterministic.
func (e *Extractor) ExtractLocal(text normalize.Text) Result {
	res := Result{Intent: IntentOther, Source: SourceLocal, Entities: e.localEntities(text)}

	if hits := EmergencyPhrases(text); len(hits) > 0 {
		res.Intent = IntentEmergency
		res.Emergency = hits
		slog.Info("Emergency phrasing detected", "phrases", hits)
		return res
	}
	if IsDiagnosisRequest(text) {
		res.Intent = IntentDiagnosisRequest
		return res
	}
	if len(res.Entities.Symptoms) > 0 {
		res.Intent = IntentSymptomQuery
	}
	return res
}

// EmergencyPhrases returns the emergency phrases present in text, in list order.
func EmergencyPhrases(text normalize.Text) []string {
	var hits []string
	for _, p := range emergencyPhrases {
		if text.Contains(p) {
			hits = append(hits, p)
		}
	}
	return hits
}

// IsDiagnosisRequest reports whether text asks for a diagnosis.
func IsDiagnosisRequest(text normalize.Text) bool {
	if text.Text == "" {
		return false
	}
	padded := " " + text.Text + " "
	for _, re := range diagnosisPatterns {
		if re.MatchString(padded) {
			return true
		}
	}
	return false
}

func (e *Extractor) localEntities(text normalize.Text) EntitySet {
	var set EntitySet
	if e.kb != nil {
		set.Symptoms = e.kb.Match(text)
	}
	for _, tok := range text.Tokens {
		if part, ok := bodyParts[tok]; ok {
			set.BodyParts = appendUnique(set.BodyParts, part)
		}
		if sev, ok := severityWords[tok]; ok {
			set.Severities = appendUnique(set.Severities, sev)
		}
	}
	for _, d := range kb.FindDurations(text) {
		set.Durations = appendUnique(set.Durations, d.Value)
	}
	return set
}

// mergeHint folds hinted entities into set, mapping them onto the same vocabulary the
// local rules produce.
func (e *Extractor) mergeHint(set *EntitySet, entities []Entity) {
	for _, ent := range entities {
		text := normalize.Normalize(ent.Text)
		if text.Text == "" {
			continue
		}
		switch ent.Type {
		case EntitySymptom:
			var ids []string
			if e.kb != nil {
				ids = e.kb.Match(text)
			}
			if len(ids) == 0 {
				set.Other = appendUnique(set.Other, text.Text)
			}
			for _, id := range ids {
				set.Symptoms = appendUnique(set.Symptoms, id)
			}
		case EntityBodyPart:
			if part, ok := bodyParts[text.Text]; ok {
				set.BodyParts = appendUnique(set.BodyParts, part)
			} else {
				set.BodyParts = appendUnique(set.BodyParts, text.Text)
			}
		case EntityDuration:
			if found := kb.FindDurations(text); len(found) > 0 {
				set.Durations = appendUnique(set.Durations, found[0].Value)
			} else {
				set.Other = appendUnique(set.Other, text.Text)
			}
		case EntitySeverity:
			if sev, ok := severityWords[text.Text]; ok {
				set.Severities = appendUnique(set.Severities, sev)
			} else {
				set.Other = appendUnique(set.Other, text.Text)
			}
		default:
			set.Other = appendUnique(set.Other, text.Text)
		}
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
