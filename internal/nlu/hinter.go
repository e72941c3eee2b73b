package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/healbee/healbee/internal/normalize"
)

// EntityType classifies a hinted entity.
type EntityType string

// Entity type constants.
const (
	EntitySymptom  EntityType = "symptom"
	EntityBodyPart EntityType = "body_part"
	EntityDuration EntityType = "duration"
	EntitySeverity EntityType = "severity"
	EntityOther    EntityType = "other"
)

// Entity is a single hinted entity.
type Entity struct {
	Text string     `json:"text"`
	Type EntityType `json:"type"`
}

// Hint is a best-effort intent and entity list from the external collaborator.
type Hint struct {
	Intent   Intent   `json:"intent"`
	Entities []Entity `json:"entities"`
}

// ErrMalformedHint is returned when the collaborator's output cannot be parsed.
var ErrMalformedHint = errors.New("malformed intent hint")

// TextGenerator is the LLM call shape the hinter needs.
type TextGenerator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const hintSystemPrompt = `You classify messages sent to a health assistant used in India.
Messages may mix English, Hindi and Hinglish.
Reply with a single JSON object and nothing else:
{"intent": "<INTENT>", "entities": [{"text": "<span>", "type": "<TYPE>"}]}
INTENT is one of SYMPTOM_QUERY, GENERAL_HEALTH_QUESTION, EMERGENCY, DIAGNOSIS_REQUEST, OTHER.
TYPE is one of symptom, body_part, duration, severity, other.
Translate entity text to plain English words. Never include a diagnosis.`

// LLMHinter asks an LLM for an intent label and entity list.
type LLMHinter struct {
	gen TextGenerator
}

// NewLLMHinter creates a hinter backed by gen.
func NewLLMHinter(gen TextGenerator) *LLMHinter {
	return &LLMHinter{gen: gen}
}

// Hint implements Hinter.
func (h *LLMHinter) Hint(ctx context.Context, text normalize.Text) (Hint, error) {
	user := fmt.Sprintf("Message: %q\nNormalized: %q", text.Original, text.Text)
	raw, err := h.gen.GeneratePromptWithContext(ctx, hintSystemPrompt, user)
	if err != nil {
		return Hint{}, fmt.Errorf("intent hint: %w", err)
	}
	hint, err := ParseHint(raw)
	if err != nil {
		slog.Warn("Unparseable intent hint", "error", err, "raw", raw)
		return Hint{}, err
	}
	return hint, nil
}

// ParseHint decodes the collaborator's JSON, tolerating code fences and surrounding prose.
func ParseHint(raw string) (Hint, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return Hint{}, fmt.Errorf("%w: no JSON object", ErrMalformedHint)
	}

	var hint Hint
	if err := json.Unmarshal([]byte(s[start:end+1]), &hint); err != nil {
		return Hint{}, fmt.Errorf("%w: %v", ErrMalformedHint, err)
	}
	hint.Intent = Intent(strings.ToUpper(strings.TrimSpace(string(hint.Intent))))
	if !hint.Intent.IsValid() {
		return Hint{}, fmt.Errorf("%w: unknown intent %q", ErrMalformedHint, hint.Intent)
	}
	entities := hint.Entities[:0]
	for _, e := range hint.Entities {
		e.Type = EntityType(strings.ToLower(strings.TrimSpace(string(e.Type))))
		if strings.TrimSpace(e.Text) == "" {
			continue
		}
		entities = append(entities, e)
	}
	hint.Entities = entities
	return hint, nil
}
