package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/nlu"
	"github.com/openai/openai-go"
)

type fakeChat struct {
	out      string
	err      error
	messages []openai.ChatCompletionMessageParamUnion
}

func (f *fakeChat) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.messages = messages
	return f.out, f.err
}

func TestLLMAnswerer_Answer(t *testing.T) {
	gen := &fakeChat{out: "  Walking daily is good for the heart.  "}
	a := NewLLMAnswerer(gen)

	var history []Message
	for i := 0; i < 5; i++ {
		history = append(history, Message{Role: "user", Content: "q"}, Message{Role: "assistant", Content: "a"})
	}
	out, err := a.Answer(t.Context(), AnswerRequest{
		Query:    "Is walking good?",
		Intent:   nlu.IntentGeneralHealthQuestion,
		Language: "en",
		History:  history,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if out != "Walking daily is good for the heart." {
		t.Errorf("Answer() = %q", out)
	}

	// system + last history messages + query
	if got, want := len(gen.messages), 1+maxHistoryMessages+1; got != want {
		t.Fatalf("sent %d messages, want %d", got, want)
	}
	if gen.messages[0].OfSystem == nil {
		t.Error("first message is not a system message")
	}
	if gen.messages[1].OfUser == nil || gen.messages[2].OfAssistant == nil {
		t.Error("history roles not preserved")
	}
	if gen.messages[len(gen.messages)-1].OfUser == nil {
		t.Error("last message is not the user query")
	}
}

func TestLLMAnswerer_Errors(t *testing.T) {
	boom := errors.New("boom")
	if _, err := NewLLMAnswerer(&fakeChat{err: boom}).Answer(t.Context(), AnswerRequest{Query: "x"}); !errors.Is(err, boom) {
		t.Errorf("generator error not wrapped: %v", err)
	}
	if _, err := NewLLMAnswerer(&fakeChat{out: " \n"}).Answer(t.Context(), AnswerRequest{Query: "x"}); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("blank output: %v", err)
	}
}

func TestSystemPrompt(t *testing.T) {
	if got := SystemPrompt(UserContext{}); got != healthcareSystemPrompt {
		t.Error("empty context changed the system prompt")
	}
	uc := BuildUserContext(models.Profile{Name: "Meena"}, Memory{})
	got := SystemPrompt(uc)
	if !strings.HasPrefix(got, healthcareSystemPrompt) || !strings.Contains(got, "CURRENT USER CONTEXT") || !strings.Contains(got, "- Name: Meena") {
		t.Errorf("unexpected prompt:\n%s", got)
	}
}

func TestUserContent(t *testing.T) {
	got := userContent(AnswerRequest{
		Query:    "is dal good for fever?",
		Language: "en",
		Intent:   nlu.IntentGeneralHealthQuestion,
		Entities: nlu.EntitySet{Symptoms: []string{"fever"}},
	})
	want := "User query: \"is dal good for fever?\"\nDetected language: en\nIntent: GENERAL_HEALTH_QUESTION\nEntities: fever"
	if got != want {
		t.Errorf("userContent() = %q, want %q", got, want)
	}
}

func TestApology(t *testing.T) {
	if Apology("hi") == Apology("en") {
		t.Error("Hindi apology missing")
	}
	if Apology("fr") != Apology("en") {
		t.Error("unknown language does not fall back to English")
	}
}
