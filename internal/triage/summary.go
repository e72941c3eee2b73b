package triage

import (
	"context"
	"fmt"

	"github.com/healbee/healbee/internal/normalize"
)

// TextGenerator is the LLM call shape the summarizer needs.
type TextGenerator interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const summarySystemPrompt = `You write short summaries of a symptom check-in for the patient who took it.
Summarize what the patient reported in two or three plain sentences, addressed to them as "you".
Mention durations and answers they gave. Do not name any disease or condition, do not diagnose,
and do not recommend medicines or doses.`

// LLMSummarizer produces the assessment summary with an LLM.
type LLMSummarizer struct {
	gen TextGenerator
}

// NewLLMSummarizer creates a summarizer backed by gen.
func NewLLMSummarizer(gen TextGenerator) *LLMSummarizer {
	return &LLMSummarizer{gen: gen}
}

// Summarize implements Summarizer.
func (s *LLMSummarizer) Summarize(ctx context.Context, lang, transcript string) (string, error) {
	language := "English"
	if lang == normalize.LanguageHindi {
		language = "Hindi (Devanagari script)"
	}
	user := fmt.Sprintf("Write the summary in %s.\n\nCheck-in transcript:\n%s", language, transcript)
	out, err := s.gen.GeneratePromptWithContext(ctx, summarySystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return out, nil
}
