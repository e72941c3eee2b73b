package safety

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/healbee/healbee/internal/nlu"
)

func TestEnforce_EmergencyOverride(t *testing.T) {
	generated := []string{
		"",
		"Drink fluids and rest. You will be fine.",
		"You have pneumonia, take 500 mg amoxicillin.",
		"Please answer: how many days have you had the fever?",
	}
	for _, lang := range []string{"en", "hi", ""} {
		for _, text := range generated {
			v := Enforce(text, Context{Intent: nlu.IntentEmergency, Language: lang})
			if v.Outcome != OutcomeOverride {
				t.Errorf("%q: expected override, got %s", text, v.Outcome)
			}
			if v.Text != EmergencyMessage(lang) {
				t.Errorf("%q: expected exact emergency message, got %q", text, v.Text)
			}
			if text != "" && strings.Contains(v.Text, text) {
				t.Errorf("override leaked generated content %q", text)
			}
			if diff := cmp.Diff([]string{RuleEmergencyRedirect}, v.Rules); diff != "" {
				t.Errorf("rules mismatch (-want +got):\n%s", diff)
			}
		}
	}
}

func TestEnforce_DiagnosisRefusal(t *testing.T) {
	v := Enforce("You most likely have dengue.", Context{Intent: nlu.IntentDiagnosisRequest, Language: "hi"})
	if v.Outcome != OutcomeOverride || v.Text != DiagnosisRefusal("hi") {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if strings.Contains(v.Text, Disclaimer("hi")) {
		t.Error("overrides must not carry the disclaimer")
	}
}

func TestEnforce_DiagnosisRefusalRepeatsPending(t *testing.T) {
	v := Enforce("You have flu.", Context{Intent: nlu.IntentDiagnosisRequest, Language: "en", Pending: "How many days? "})
	if want := DiagnosisRefusal("en") + "\n\nHow many days?"; v.Text != want {
		t.Errorf("text = %q, want %q", v.Text, want)
	}
	if v.Outcome != OutcomeOverride {
		t.Errorf("outcome = %s", v.Outcome)
	}
}

func TestEnforce_Pass(t *testing.T) {
	text := "Drinking enough water helps your body recover."
	v := Enforce(text, Context{Intent: nlu.IntentGeneralHealthQuestion, Language: "en"})
	if v.Outcome != OutcomePass {
		t.Fatalf("expected pass, got %s (%v)", v.Outcome, v.Rules)
	}
	want := text + "\n\n" + Disclaimer("en")
	if v.Text != want {
		t.Errorf("got %q, want %q", v.Text, want)
	}
	if diff := cmp.Diff([]string{RuleDisclaimer}, v.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestEnforce_DisclaimerNotDuplicated(t *testing.T) {
	text := "Rest well.\n\n" + Disclaimer("en")
	v := Enforce(text, Context{Intent: nlu.IntentGeneralHealthQuestion})
	if strings.Count(v.Text, Disclaimer("en")) != 1 {
		t.Errorf("disclaimer duplicated:\n%s", v.Text)
	}
	if len(v.Rules) != 0 {
		t.Errorf("expected no rules, got %v", v.Rules)
	}
}

func TestEnforce_DiagnosticPhrasing(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "you have X",
			in:   "Thanks for sharing. You have a viral infection. Drink plenty of fluids.",
			want: "Thanks for sharing. Only a doctor can tell you what is causing these symptoms. Drink plenty of fluids.",
		},
		{
			name: "this means you have",
			in:   "Your fever has lasted five days! This means you have something serious.\nPlease rest.",
			want: "Your fever has lasted five days! Only a doctor can tell you what is causing these symptoms.\nPlease rest.",
		},
		{
			name: "sounds like",
			in:   "It sounds like typhoid. It could be malaria. Get a blood test.",
			want: "Only a doctor can tell you what is causing these symptoms. Get a blood test.",
		},
		{
			name: "diagnosis after a conditional clause",
			in:   "When the fever comes with a rash, it is most likely dengue. Drink fluids.",
			want: "Only a doctor can tell you what is causing these symptoms. Drink fluids.",
		},
		{
			name: "unrelated conditional clause",
			in:   "If you read this, you have malaria.",
			want: "Only a doctor can tell you what is causing these symptoms.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Enforce(tt.in, Context{Intent: nlu.IntentSymptomQuery, Language: "en"})
			if v.Outcome != OutcomeAnnotate {
				t.Fatalf("expected annotate, got %s", v.Outcome)
			}
			if got := strings.TrimSuffix(v.Text, "\n\n"+Disclaimer("en")); got != tt.want {
				t.Errorf("rewrite mismatch:\n got %q\nwant %q", got, tt.want)
			}
			if diff := cmp.Diff([]string{RuleDiagnosticPhrasing, RuleDisclaimer}, v.Rules); diff != "" {
				t.Errorf("rules mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnforce_NotDiagnostic(t *testing.T) {
	for _, text := range []string{
		"You have had a fever for three days.",
		"If you have asthma, keep your inhaler nearby.",
		"When it is flu, rest at home and drink fluids.",
		"If you have diabetes and the fever rises; check your sugar often.",
		"Do you have diabetes?",
		"You reported: Fever, Cough.",
		"Go to a hospital immediately if you have chest pain, trouble breathing or confusion.",
	} {
		v := Enforce(text, Context{Intent: nlu.IntentSymptomQuery})
		if v.Outcome != OutcomePass {
			t.Errorf("%q: expected pass, got %s %v", text, v.Outcome, v.Rules)
		}
	}
}

func TestEnforce_Dosage(t *testing.T) {
	in := "Rest and drink water. Take 500 mg paracetamol twice a day. Sleep early."
	v := Enforce(in, Context{Intent: nlu.IntentGeneralHealthQuestion, Language: "en"})
	if v.Outcome != OutcomeAnnotate {
		t.Fatalf("expected annotate, got %s", v.Outcome)
	}
	want := "Rest and drink water. Please ask a doctor or pharmacist before taking any medicine or deciding on a dose. Sleep early."
	if got := strings.TrimSuffix(v.Text, "\n\n"+Disclaimer("en")); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{RuleDosageInstruction, RuleDisclaimer}, v.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestEnforce_DosageWithDecimal(t *testing.T) {
	v := Enforce("Take 2.5 ml of the syrup. Rest well.", Context{Intent: nlu.IntentGeneralHealthQuestion, Language: "en"})
	want := "Please ask a doctor or pharmacist before taking any medicine or deciding on a dose. Rest well."
	if got := strings.TrimSuffix(v.Text, "\n\n"+Disclaimer("en")); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if diff := cmp.Diff([]string{RuleDosageInstruction, RuleDisclaimer}, v.Rules); diff != "" {
		t.Errorf("rules mismatch (-want +got):\n%s", diff)
	}
}

func TestSentencePattern_KeepsDecimals(t *testing.T) {
	got := sentencePattern.FindAllString("Use 0.5 mg. Then rest! Done", -1)
	want := []string{"Use 0.5 mg. ", "Then rest! ", "Done"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sentences mismatch (-want +got):\n%s", diff)
	}
}

func TestEnforce_Empty(t *testing.T) {
	v := Enforce("  \n", Context{Intent: nlu.IntentOther, Language: "hi"})
	if v.Outcome != OutcomeAnnotate {
		t.Fatalf("expected annotate, got %s", v.Outcome)
	}
	if !strings.HasPrefix(v.Text, messagesFor("hi").consult) || !strings.HasSuffix(v.Text, Disclaimer("hi")) {
		t.Errorf("unexpected text %q", v.Text)
	}
}

func TestEnforce_HindiDiagnostic(t *testing.T) {
	v := Enforce("आपको डेंगू हो सकता है। आराम करें।", Context{Intent: nlu.IntentSymptomQuery, Language: "hi"})
	if v.Outcome != OutcomeAnnotate {
		t.Fatalf("expected annotate, got %s", v.Outcome)
	}
	if strings.Contains(v.Text, "डेंगू") {
		t.Errorf("diagnostic clause kept: %q", v.Text)
	}
	if !strings.Contains(v.Text, "आराम करें।") {
		t.Errorf("rest of message dropped: %q", v.Text)
	}
}

func TestLayer_Deterministic(t *testing.T) {
	var l Layer
	c := Context{Intent: nlu.IntentSymptomQuery, Language: "en"}
	in := "You probably have the flu. Rest."
	if diff := cmp.Diff(l.Enforce(in, c), l.Enforce(in, c)); diff != "" {
		t.Errorf("non-deterministic verdict (-a +b):\n%s", diff)
	}
}
