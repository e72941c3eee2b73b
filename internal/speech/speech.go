// Package speech holds the speech-to-text and text-to-speech collaborators. Both talk to a
// Sarvam-style HTTP API: transcription takes a multipart upload and synthesis returns
// base64 audio inside JSON.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// Defaults used when options are not supplied.
const (
	DefaultBaseURL = "https://api.sarvam.ai"
	DefaultTimeout = 30 * time.Second
	DefaultSpeaker = "anushka"

	sttPath = "/speech-to-text"
	ttsPath = "/text-to-speech"

	// maxErrorBody bounds how much of an error response is kept in the error.
	maxErrorBody = 512
)

var (
	// ErrEmptyAudio is returned when there is nothing to transcribe.
	ErrEmptyAudio = errors.New("audio is empty")
	// ErrEmptyTranscript is returned when the service heard nothing.
	ErrEmptyTranscript = errors.New("empty transcript")
	// ErrNoAudioReturned is returned when synthesis produced no audio.
	ErrNoAudioReturned = errors.New("no audio returned")
)

// Transcript is the result of speech-to-text.
type Transcript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Recognizer turns audio into text.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (Transcript, error)
}

// Synthesizer turns safety-gated text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Opts holds configuration for the speech client.
type Opts struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	Speaker    string
	HTTPClient *http.Client
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the subscription key. Defaults to HEALBEE_SPEECH_API_KEY.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at another deployment.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithSpeaker selects the synthesis voice.
func WithSpeaker(name string) Option {
	return func(o *Opts) { o.Speaker = name }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client implements Recognizer and Synthesizer over HTTP.
type Client struct {
	apiKey  string
	baseURL string
	speaker string
	http    *http.Client
}

var (
	_ Recognizer  = (*Client)(nil)
	_ Synthesizer = (*Client)(nil)
)

// NewClient creates a speech client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIKey:  os.Getenv("HEALBEE_SPEECH_API_KEY"),
		BaseURL: DefaultBaseURL,
		Timeout: DefaultTimeout,
		Speaker: DefaultSpeaker,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("HEALBEE_SPEECH_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	slog.Debug("Speech client created", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout, "speaker", cfg.Speaker)
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		speaker: cfg.Speaker,
		http:    hc,
	}, nil
}

type sttResponse struct {
	Transcript   string  `json:"transcript"`
	LanguageCode string  `json:"language_code"`
	Confidence   float64 `json:"confidence"`
}

// Transcribe uploads audio for recognition. An empty lang lets the service detect it.
func (c *Client) Transcribe(ctx context.Context, audio []byte, lang string) (Transcript, error) {
	if len(audio) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return Transcript{}, fmt.Errorf("write audio: %w", err)
	}
	code := "unknown"
	if lang != "" {
		code = LanguageCode(lang)
	}
	if err := writer.WriteField("language_code", code); err != nil {
		return Transcript{}, fmt.Errorf("write language: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Transcript{}, fmt.Errorf("close form: %w", err)
	}

	start := time.Now()
	slog.Debug("Speech transcribe request", "bytes", len(audio), "languageCode", code)
	var out sttResponse
	if err := c.do(ctx, sttPath, writer.FormDataContentType(), body, &out); err != nil {
		slog.Warn("Speech transcribe failed", "error", err, "elapsed", time.Since(start))
		return Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	text := strings.TrimSpace(out.Transcript)
	if text == "" {
		return Transcript{}, ErrEmptyTranscript
	}
	slog.Debug("Speech transcribe succeeded", "chars", len(text), "languageCode", out.LanguageCode, "elapsed", time.Since(start))
	return Transcript{Text: text, Language: BaseLanguage(out.LanguageCode), Confidence: out.Confidence}, nil
}

type ttsRequest struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker,omitempty"`
}

type ttsResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize returns the decoded audio for text.
func (c *Client) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesize: text is empty")
	}
	payload, err := json.Marshal(ttsRequest{
		Inputs:             []string{text},
		TargetLanguageCode: LanguageCode(lang),
		Speaker:            c.speaker,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}

	start := time.Now()
	slog.Debug("Speech synthesize request", "chars", len(text), "language", lang)
	var out ttsResponse
	if err := c.do(ctx, ttsPath, "application/json", bytes.NewReader(payload), &out); err != nil {
		slog.Warn("Speech synthesize failed", "error", err, "elapsed", time.Since(start))
		return nil, fmt.Errorf("synthesize: %w", err)
	}
	if len(out.Audios) == 0 || out.Audios[0] == "" {
		return nil, ErrNoAudioReturned
	}
	audio, err := base64.StdEncoding.DecodeString(out.Audios[0])
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	slog.Debug("Speech synthesize succeeded", "bytes", len(audio), "elapsed", time.Since(start))
	return audio, nil
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("api-subscription-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("speech API error: %s - %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// LanguageCode maps a conversation language to the service's locale code.
func LanguageCode(lang string) string {
	switch lang {
	case "hi":
		return "hi-IN"
	default:
		return "en-IN"
	}
}

// BaseLanguage maps a locale code such as "hi-IN" back to "hi". Unknown codes give "".
func BaseLanguage(code string) string {
	base, _, _ := strings.Cut(strings.ToLower(code), "-")
	switch base {
	case "en", "hi":
		return base
	}
	return ""
}
