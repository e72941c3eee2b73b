package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/healbee/healbee/internal/nlu"
	"github.com/healbee/healbee/internal/normalize"
	"github.com/openai/openai-go"
)

// maxHistoryMessages bounds the conversation history sent with a direct answer.
const maxHistoryMessages = 6

const healthcareSystemPrompt = `You are HealBee, a friendly health information assistant for people in India.
Answer general health questions in simple language the user can follow.
Rules:
- Never diagnose. Do not tell the user which disease or condition they have.
- Never prescribe medicines or doses.
- Encourage seeing a qualified doctor when symptoms are serious, persistent or unclear.
- For anything that sounds like an emergency, tell the user to call 108 or 112 or go to the nearest hospital.
- Keep answers short: a few sentences or a short list.
- Reply in the language the user wrote in.`

// ErrEmptyAnswer is returned when the generator produced only whitespace.
var ErrEmptyAnswer = errors.New("empty answer")

// AnswerRequest is everything the direct answer path knows about a turn.
type AnswerRequest struct {
	Query       string
	Normalized  normalize.Text
	Intent      nlu.Intent
	Entities    nlu.EntitySet
	Language    string
	UserContext UserContext
	History     []Message
}

// Answerer produces free-text replies for utterances that do not start a symptom dialogue.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) (string, error)
}

// ChatGenerator is the part of the LLM client the answerer needs.
type ChatGenerator interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
}

// LLMAnswerer answers through a chat model with the user context in the system prompt.
type LLMAnswerer struct {
	gen ChatGenerator
}

// NewLLMAnswerer creates an answerer backed by gen.
func NewLLMAnswerer(gen ChatGenerator) *LLMAnswerer {
	return &LLMAnswerer{gen: gen}
}

// Answer implements Answerer.
func (a *LLMAnswerer) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(SystemPrompt(req.UserContext))}

	history := req.History
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	for _, m := range history {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userContent(req)))

	slog.Debug("LLMAnswerer.Answer", "intent", req.Intent, "language", req.Language, "history", len(history))
	out, err := a.gen.GenerateWithMessages(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyAnswer
	}
	return strings.TrimSpace(out), nil
}

// SystemPrompt returns the healthcare system prompt with the user context appended.
func SystemPrompt(uc UserContext) string {
	prompt := healthcareSystemPrompt
	if formatted := uc.PromptText(); formatted != "" {
		prompt += "\n\n---\n\nCURRENT USER CONTEXT (trusted information):\n\n" + formatted
	}
	return prompt
}

func userContent(req AnswerRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %q\n", req.Query)
	fmt.Fprintf(&b, "Detected language: %s\n", req.Language)
	fmt.Fprintf(&b, "Intent: %s", req.Intent)
	var entities []string
	entities = append(entities, req.Entities.Symptoms...)
	entities = append(entities, req.Entities.BodyParts...)
	entities = append(entities, req.Entities.Durations...)
	entities = append(entities, req.Entities.Severities...)
	entities = append(entities, req.Entities.Other...)
	if len(entities) > 0 {
		fmt.Fprintf(&b, "\nEntities: %s", strings.Join(entities, ", "))
	}
	return b.String()
}

var apologies = map[string]string{
	normalize.LanguageEnglish: "Sorry, I am unable to answer that right now. Please try again later.",
	normalize.LanguageHindi:   "माफ़ कीजिए, मैं अभी आपकी मदद नहीं कर सकता। कृपया बाद में प्रयास करें।",
}

var unheard = map[string]string{
	normalize.LanguageEnglish: "Sorry, I could not hear you clearly. Please try again or type your question.",
	normalize.LanguageHindi:   "माफ़ कीजिए, मैं आपकी बात ठीक से सुन नहीं पाया। कृपया फिर से बोलें या अपना सवाल लिखें।",
}

func couldNotHear(lang string) string {
	if m, ok := unheard[lang]; ok {
		return m
	}
	return unheard[normalize.LanguageEnglish]
}

// Apology is the fixed reply used when no answer could be generated.
func Apology(lang string) string {
	if a, ok := apologies[lang]; ok {
		return a
	}
	return apologies[normalize.LanguageEnglish]
}
