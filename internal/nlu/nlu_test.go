package nlu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/normalize"
)

type fakeHinter struct {
	hint  Hint
	err   error
	delay time.Duration
	calls int
}

func (f *fakeHinter) Hint(ctx context.Context, text normalize.Text) (Hint, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Hint{}, ctx.Err()
		}
	}
	return f.hint, f.err
}

func loadKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	k, err := kb.LoadDefault()
	if err != nil {
		t.Fatalf("load default kb: %v", err)
	}
	return k
}

func extract(e *Extractor, s string) Result {
	return e.Extract(context.Background(), normalize.Normalize(s))
}

func TestExtract_SymptomQuery(t *testing.T) {
	e := NewExtractor(loadKB(t))
	res := extract(e, "I have fever and cough")
	if res.Intent != IntentSymptomQuery {
		t.Fatalf("expected SYMPTOM_QUERY, got %s", res.Intent)
	}
	if diff := cmp.Diff([]string{"fever", "cough"}, res.Entities.Symptoms); diff != "" {
		t.Errorf("symptoms mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_HinglishSymptoms(t *testing.T) {
	e := NewExtractor(loadKB(t))
	res := extract(e, "Mujhe teen din se bukhar aur sir dard hai")
	if res.Intent != IntentSymptomQuery {
		t.Fatalf("expected SYMPTOM_QUERY, got %s", res.Intent)
	}
	if diff := cmp.Diff([]string{"fever", "headache"}, res.Entities.Symptoms); diff != "" {
		t.Errorf("symptoms mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"3 days"}, res.Entities.Durations); diff != "" {
		t.Errorf("durations mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_EmergencyPreemptsSymptoms(t *testing.T) {
	k := loadKB(t)
	hinter := &fakeHinter{hint: Hint{Intent: IntentSymptomQuery}}
	e := NewExtractor(k, WithHinter(hinter))

	for _, rec := range k.Records() {
		for _, phrase := range emergencyPhrases {
			utterance := "i have " + rec.Keywords[0] + " and " + phrase
			res := extract(e, utterance)
			if res.Intent != IntentEmergency {
				t.Errorf("%q: expected EMERGENCY, got %s", utterance, res.Intent)
			}
		}
	}
	if hinter.calls != 0 {
		t.Errorf("emergency detection must not consult the hinter, got %d calls", hinter.calls)
	}
}

func TestExtract_EmergencyScenarios(t *testing.T) {
	e := NewExtractor(loadKB(t))
	for _, s := range []string{
		"I am having chest pain and can't breathe",
		"Mujhe seene me dard hai aur bukhar bhi",
		"papa behosh ho gaye",
		"बहुत खून बह रहा है",
		"Chestpain since morning",
	} {
		if res := extract(e, s); res.Intent != IntentEmergency {
			t.Errorf("%q: expected EMERGENCY, got %s", s, res.Intent)
		}
	}
}

func TestExtract_DiagnosisRequest(t *testing.T) {
	e := NewExtractor(loadKB(t))
	for _, s := range []string{
		"What disease do I have?",
		"I have a fever, what do I have",
		"am I dying of something",
		"do I have dengue",
		"Mujhe kya bimari hai?",
		"is it cancer",
	} {
		if res := extract(e, s); res.Intent != IntentDiagnosisRequest {
			t.Errorf("%q: expected DIAGNOSIS_REQUEST, got %s", s, res.Intent)
		}
	}
	if res := extract(e, "what do I have to eat with fever"); res.Intent != IntentSymptomQuery {
		t.Errorf("question about food should not be a diagnosis request, got %s", res.Intent)
	}
}

func TestExtract_HintFallback(t *testing.T) {
	k := loadKB(t)
	tests := []struct {
		name   string
		hinter *fakeHinter
		want   Intent
		source Source
	}{
		{"hint error", &fakeHinter{err: errors.New("boom")}, IntentGeneralHealthQuestion, SourceFallback},
		{"hint timeout", &fakeHinter{delay: time.Second, hint: Hint{Intent: IntentOther}}, IntentGeneralHealthQuestion, SourceFallback},
		{"hint other", &fakeHinter{hint: Hint{Intent: IntentOther}}, IntentOther, SourceHint},
		{"hint symptom without record", &fakeHinter{hint: Hint{Intent: IntentSymptomQuery, Entities: []Entity{{Text: "hiccups", Type: EntitySymptom}}}}, IntentGeneralHealthQuestion, SourceHint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(k, WithHinter(tt.hinter), WithHintTimeout(20*time.Millisecond))
			res := extract(e, "how much water should I drink daily")
			if res.Intent != tt.want || res.Source != tt.source {
				t.Errorf("got intent=%s source=%s, want %s/%s", res.Intent, res.Source, tt.want, tt.source)
			}
		})
	}
}

func TestExtract_HintEntitiesNormalized(t *testing.T) {
	hinter := &fakeHinter{hint: Hint{
		Intent: IntentSymptomQuery,
		Entities: []Entity{
			{Text: "Bukhar", Type: EntitySymptom},
			{Text: "Forehead", Type: EntityBodyPart},
			{Text: "two days", Type: EntityDuration},
			{Text: "unbearable", Type: EntitySeverity},
		},
	}}
	e := NewExtractor(loadKB(t), WithHinter(hinter))
	res := extract(e, "mera sharir garam hai")
	if res.Intent != IntentSymptomQuery {
		t.Fatalf("expected SYMPTOM_QUERY, got %s", res.Intent)
	}
	want := EntitySet{
		Symptoms:   []string{"fever"},
		BodyParts:  []string{"head"},
		Durations:  []string{"2 days"},
		Severities: []string{"severe"},
	}
	if diff := cmp.Diff(want, res.Entities); diff != "" {
		t.Errorf("entities mismatch (-want +got):\n%s", diff)
	}
}

func TestExtract_NoHinter(t *testing.T) {
	e := NewExtractor(loadKB(t))
	if res := extract(e, "how do vaccines work"); res.Intent != IntentGeneralHealthQuestion {
		t.Errorf("expected GENERAL_HEALTH_QUESTION, got %s", res.Intent)
	}
	if res := extract(e, "   "); res.Intent != IntentOther {
		t.Errorf("expected OTHER for empty input, got %s", res.Intent)
	}
}

func TestExtract_EnglishWordIsNotASymptom(t *testing.T) {
	e := NewExtractor(loadKB(t))
	res := extract(e, "Ultimately what is a healthy diet?")
	if res.Intent != IntentGeneralHealthQuestion {
		t.Errorf("expected GENERAL_HEALTH_QUESTION, got %s", res.Intent)
	}
	if len(res.Entities.Symptoms) != 0 {
		t.Errorf("expected no symptoms, got %v", res.Entities.Symptoms)
	}
}

func TestExtractLocal_NoHinterCall(t *testing.T) {
	hinter := &fakeHinter{hint: Hint{Intent: IntentEmergency}}
	e := NewExtractor(loadKB(t), WithHinter(hinter))
	res := e.ExtractLocal(normalize.Normalize("it started yesterday"))
	if res.Intent != IntentOther {
		t.Errorf("expected OTHER, got %s", res.Intent)
	}
	if hinter.calls != 0 {
		t.Errorf("ExtractLocal must not call the hinter")
	}
}
