package models

import (
	"errors"
	"strings"
	"testing"
)

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		want error
	}{
		{"empty", Profile{}, nil},
		{"full", Profile{Name: "Asha", Age: 34, Allergies: []string{"penicillin"}, Notes: "vegetarian"}, nil},
		{"negative age", Profile{Age: -1}, ErrInvalidAge},
		{"too old", Profile{Age: MaxAge + 1}, ErrInvalidAge},
		{"conditions", Profile{ChronicConditions: make([]string, MaxChronicConditions+1)}, ErrTooManyConditions},
		{"allergies", Profile{Allergies: make([]string, MaxAllergies+1)}, ErrTooManyAllergies},
		{"notes", Profile{Notes: strings.Repeat("अ", MaxProfileNotesLength+1)}, ErrNotesTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProfileNotesCountRunes(t *testing.T) {
	p := Profile{Notes: strings.Repeat("अ", MaxProfileNotesLength)}
	if err := p.Validate(); err != nil {
		t.Errorf("notes at the limit rejected: %v", err)
	}
}

func TestStartConversationRequestValidate(t *testing.T) {
	ok := []StartConversationRequest{{}, {Language: "hi"}, {Language: "en", Profile: &Profile{Age: 20}}}
	for _, r := range ok {
		if err := r.Validate(); err != nil {
			t.Errorf("%+v: unexpected error %v", r, err)
		}
	}
	bad := StartConversationRequest{Language: "fr"}
	if err := bad.Validate(); !errors.Is(err, ErrUnsupportedLang) {
		t.Errorf("expected ErrUnsupportedLang, got %v", err)
	}
	badProfile := StartConversationRequest{Profile: &Profile{Age: 500}}
	if err := badProfile.Validate(); !errors.Is(err, ErrInvalidAge) {
		t.Errorf("expected ErrInvalidAge, got %v", err)
	}
}

func TestMessageRequestValidate(t *testing.T) {
	if err := (&MessageRequest{Text: "  "}).Validate(); !errors.Is(err, ErrEmptyText) {
		t.Errorf("expected ErrEmptyText, got %v", err)
	}
	if err := (&MessageRequest{Text: strings.Repeat("a", MaxMessageLength+1)}).Validate(); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("expected ErrTextTooLong, got %v", err)
	}
	if err := (&MessageRequest{Text: "bukhar hai"}).Validate(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if err := (&MessageRequest{Text: "chest pain", Location: strings.Repeat("न", MaxLocationLength)}).Validate(); err != nil {
		t.Errorf("location at the limit rejected: %v", err)
	}
	if err := (&MessageRequest{Text: "chest pain", Location: strings.Repeat("a", MaxLocationLength+1)}).Validate(); !errors.Is(err, ErrLocationTooLong) {
		t.Errorf("expected ErrLocationTooLong, got %v", err)
	}
}

func TestDeliveryChannel(t *testing.T) {
	if !DeliveryChannelSMS.IsValid() || !DeliveryChannelWhatsApp.IsValid() {
		t.Error("known channels reported invalid")
	}
	if DeliveryChannel("fax").IsValid() {
		t.Error("unknown channel reported valid")
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	s := Success(map[string]string{"a": "b"})
	if s.Status != string(APIStatusOK) || s.Result == nil {
		t.Errorf("unexpected success response %+v", s)
	}
	e := Error("boom")
	if e.Status != string(APIStatusError) || e.Message != "boom" || e.Result != nil {
		t.Errorf("unexpected error response %+v", e)
	}
	m := SuccessWithMessage("done", nil)
	if m.Message != "done" {
		t.Errorf("unexpected message %q", m.Message)
	}
}
