// Package delivery pushes safety-gated replies to a phone over Twilio SMS or WhatsApp.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/healbee/healbee/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

const (
	// MaxBodyLength is the longest body Twilio accepts, in characters.
	MaxBodyLength  = 1600
	whatsAppPrefix = "whatsapp:"
	minPhoneDigits = 6
)

var nonDigits = regexp.MustCompile(`\D`)

// Sender delivers one reply. The receipt is filled in on failure too.
type Sender interface {
	Send(ctx context.Context, to, body string) (models.Receipt, error)
}

// messageCreator is the part of the Twilio REST API the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration for the Twilio sender.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    models.DeliveryChannel
}

// Option configures the Twilio sender.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID. Defaults to TWILIO_ACCOUNT_SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token. Defaults to TWILIO_AUTH_TOKEN.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number. Defaults to TWILIO_FROM_NUMBER.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithChannel selects SMS or WhatsApp. Defaults to SMS.
func WithChannel(c models.DeliveryChannel) Option {
	return func(o *Opts) { o.Channel = c }
}

// TwilioSender sends replies through the Twilio messages API.
type TwilioSender struct {
	api     messageCreator
	from    string
	channel models.DeliveryChannel
	now     func() time.Time
}

var _ Sender = (*TwilioSender)(nil)

// NewTwilioSender creates a sender from options, falling back to the environment.
func NewTwilioSender(opts ...Option) (*TwilioSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.Channel == "" {
		cfg.Channel = models.DeliveryChannelSMS
	}
	slog.Debug("Twilio sender config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"channel", cfg.Channel)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if !cfg.Channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidChannel, cfg.Channel)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioSender(client.Api, cfg.From, cfg.Channel), nil
}

func newTwilioSender(api messageCreator, from string, channel models.DeliveryChannel) *TwilioSender {
	return &TwilioSender{api: api, from: from, channel: channel, now: time.Now}
}

// Channel returns the channel the sender uses.
func (s *TwilioSender) Channel() models.DeliveryChannel { return s.channel }

// Send delivers body to the phone number to.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (models.Receipt, error) {
	receipt := models.Receipt{To: to, Channel: s.channel, Status: models.MessageStatusFailed, Time: s.now().Unix()}

	number, err := CanonicalizeRecipient(to)
	if err != nil {
		receipt.Error = err.Error()
		return receipt, err
	}
	receipt.To = number
	if err := ctx.Err(); err != nil {
		receipt.Error = err.Error()
		return receipt, err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(s.address(number))
	params.SetFrom(s.address(s.from))
	params.SetBody(truncateBody(body))

	msg, err := s.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio send failed", "to", number, "channel", s.channel, "error", err)
		receipt.Error = err.Error()
		return receipt, fmt.Errorf("failed to send message to %s: %w", number, err)
	}

	receipt.Status = models.MessageStatusSent
	if msg != nil && msg.Sid != nil {
		receipt.SID = *msg.Sid
	}
	slog.Debug("Twilio message sent", "to", number, "channel", s.channel, "sid", receipt.SID)
	return receipt, nil
}

// address formats a number for the configured channel.
func (s *TwilioSender) address(number string) string {
	if s.channel != models.DeliveryChannelWhatsApp || strings.HasPrefix(number, whatsAppPrefix) {
		return number
	}
	return whatsAppPrefix + number
}

// CanonicalizeRecipient strips everything but digits and returns an E.164-style "+digits"
// number with at least six digits.
func CanonicalizeRecipient(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", models.ErrEmptyRecipient
	}
	digits := nonDigits.ReplaceAllString(strings.TrimPrefix(recipient, whatsAppPrefix), "")
	if digits == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", digits, minPhoneDigits)
	}
	return "+" + digits, nil
}

func truncateBody(body string) string {
	r := []rune(body)
	if len(r) <= MaxBodyLength {
		return body
	}
	return string(r[:MaxBodyLength])
}
