package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/healbee/healbee/internal/models"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func fixedSender(api messageCreator, from string, ch models.DeliveryChannel) *TwilioSender {
	s := newTwilioSender(api, from, ch)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestTwilioSender_SMS(t *testing.T) {
	api := &fakeAPI{}
	s := fixedSender(api, "+15550001111", models.DeliveryChannelSMS)

	got, err := s.Send(t.Context(), "+91 98765-43210", "Drink fluids.")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	want := models.Receipt{To: "+919876543210", Channel: models.DeliveryChannelSMS, Status: models.MessageStatusSent, SID: "SM123", Time: 1700000000}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("receipt mismatch (-want +got):\n%s", diff)
	}
	p := api.params[0]
	if *p.To != "+919876543210" || *p.From != "+15550001111" || *p.Body != "Drink fluids." {
		t.Errorf("unexpected params to=%s from=%s body=%s", *p.To, *p.From, *p.Body)
	}
}

func TestTwilioSender_WhatsApp(t *testing.T) {
	api := &fakeAPI{}
	s := fixedSender(api, "whatsapp:+15550001111", models.DeliveryChannelWhatsApp)
	if _, err := s.Send(t.Context(), "919876543210", "hello"); err != nil {
		t.Fatal(err)
	}
	p := api.params[0]
	if *p.To != "whatsapp:+919876543210" || *p.From != "whatsapp:+15550001111" {
		t.Errorf("unexpected addresses to=%s from=%s", *p.To, *p.From)
	}
}

func TestTwilioSender_Failures(t *testing.T) {
	api := &fakeAPI{err: errors.New("21211 invalid number")}
	s := fixedSender(api, "+1555", models.DeliveryChannelSMS)

	r, err := s.Send(t.Context(), "+919876543210", "x")
	if err == nil || r.Status != models.MessageStatusFailed || !strings.Contains(r.Error, "21211") {
		t.Errorf("Send() = %+v, %v", r, err)
	}

	r, err = s.Send(t.Context(), "12", "x")
	if err == nil || r.Status != models.MessageStatusFailed {
		t.Errorf("short number accepted: %+v", r)
	}
	if len(api.params) != 1 {
		t.Errorf("invalid recipient reached the API")
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := s.Send(ctx, "+919876543210", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled send: %v", err)
	}
}

func TestTwilioSender_TruncatesBody(t *testing.T) {
	api := &fakeAPI{}
	s := fixedSender(api, "+1555", models.DeliveryChannelSMS)
	if _, err := s.Send(t.Context(), "+919876543210", strings.Repeat("अ", MaxBodyLength+10)); err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(*api.params[0].Body)); n != MaxBodyLength {
		t.Errorf("body length = %d", n)
	}
}

func TestCanonicalizeRecipient(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+91 98765 43210", "+919876543210", false},
		{"whatsapp:+15551234567", "+15551234567", false},
		{"(555) 123-4567", "+5551234567", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("CanonicalizeRecipient(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := CanonicalizeRecipient(" "); !errors.Is(err, models.ErrEmptyRecipient) {
		t.Errorf("blank recipient: %v", err)
	}
}

func TestNewTwilioSender(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewTwilioSender(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewTwilioSender(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without a from number")
	}
	_, err := NewTwilioSender(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+1555"), WithChannel("fax"))
	if !errors.Is(err, models.ErrInvalidChannel) {
		t.Errorf("invalid channel: %v", err)
	}
	s, err := NewTwilioSender(WithAccountSID("AC1"), WithAuthToken("tok"), WithFrom("+1555"), WithChannel(models.DeliveryChannelWhatsApp))
	if err != nil || s.Channel() != models.DeliveryChannelWhatsApp {
		t.Errorf("NewTwilioSender() = %v, %v", s, err)
	}
}

func TestMockSender(t *testing.T) {
	m := NewMockSender()
	if _, err := m.Send(t.Context(), "+1", "hi"); err != nil {
		t.Fatal(err)
	}
	m.Err = errors.New("down")
	if r, err := m.Send(t.Context(), "+1", "again"); err == nil || r.Status != models.MessageStatusFailed {
		t.Errorf("Send() = %+v, %v", r, err)
	}
	if diff := cmp.Diff([]SentMessage{{To: "+1", Body: "hi"}}, m.Sent()); diff != "" {
		t.Errorf("sent mismatch (-want +got):\n%s", diff)
	}
}
