package speech

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(append([]Option{WithAPIKey("test-key"), WithBaseURL(srv.URL)}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech-to-text" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("api-subscription-key"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if got := r.FormValue("language_code"); got != "hi-IN" {
			t.Errorf("language_code = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "RIFFdata" {
			t.Errorf("audio = %q", data)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transcript":    " मुझे बुखार है ",
			"language_code": "hi-IN",
			"confidence":    0.92,
		})
	})

	got, err := c.Transcribe(t.Context(), []byte("RIFFdata"), "hi")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	want := Transcript{Text: "मुझे बुखार है", Language: "hi", Confidence: 0.92}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Transcribe() mismatch (-want +got):\n%s", diff)
	}
}

func TestTranscribe_DetectsLanguageWhenUnset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("language_code"); got != "unknown" {
			t.Errorf("language_code = %q", got)
		}
		_, _ = io.WriteString(w, `{"transcript":"I have fever","language_code":"en-IN"}`)
	})
	got, err := c.Transcribe(t.Context(), []byte("x"), "")
	if err != nil || got.Language != "en" {
		t.Errorf("Transcribe() = %+v, %v", got, err)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		audio   []byte
		want    error
	}{
		{"empty audio", nil, nil, ErrEmptyAudio},
		{"empty transcript", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"transcript":"  "}`)
		}, []byte("x"), ErrEmptyTranscript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			if _, err := c.Transcribe(t.Context(), tt.audio, "en"); !errors.Is(err, tt.want) {
				t.Errorf("Transcribe() error = %v, want %v", err, tt.want)
			}
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	_, err := c.Transcribe(t.Context(), []byte("x"), "en")
	if err == nil || !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("non-2xx error = %v", err)
	}
}

func TestTranscribe_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))
	defer close(release)

	if _, err := c.Transcribe(t.Context(), []byte("x"), "en"); err == nil {
		t.Error("expected a timeout error")
	}
}

func TestSynthesize(t *testing.T) {
	audio := []byte("wav-bytes")
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		var req ttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		want := ttsRequest{Inputs: []string{"Drink water."}, TargetLanguageCode: "en-IN", Speaker: "meera"}
		if diff := cmp.Diff(want, req); diff != "" {
			t.Errorf("request mismatch (-want +got):\n%s", diff)
		}
		_ = json.NewEncoder(w).Encode(ttsResponse{Audios: []string{base64.StdEncoding.EncodeToString(audio)}})
	}, WithSpeaker("meera"))

	got, err := c.Synthesize(t.Context(), "Drink water.", "en")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(got) != string(audio) {
		t.Errorf("Synthesize() = %q", got)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"audios":[]}`)
	})
	if _, err := c.Synthesize(t.Context(), "hello", "en"); !errors.Is(err, ErrNoAudioReturned) {
		t.Errorf("no audio: %v", err)
	}
	if _, err := c.Synthesize(t.Context(), " ", "en"); err == nil {
		t.Error("expected an error for empty text")
	}

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"audios":["***"]}`)
	})
	if _, err := c.Synthesize(t.Context(), "hello", "en"); err == nil {
		t.Error("expected a decode error")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("HEALBEE_SPEECH_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without an API key")
	}
}

func TestLanguageCodes(t *testing.T) {
	for lang, want := range map[string]string{"hi": "hi-IN", "en": "en-IN", "": "en-IN", "ta": "en-IN"} {
		if got := LanguageCode(lang); got != want {
			t.Errorf("LanguageCode(%q) = %q, want %q", lang, got, want)
		}
	}
	for code, want := range map[string]string{"hi-IN": "hi", "EN-in": "en", "ta-IN": "", "": ""} {
		if got := BaseLanguage(code); got != want {
			t.Errorf("BaseLanguage(%q) = %q, want %q", code, got, want)
		}
	}
}
