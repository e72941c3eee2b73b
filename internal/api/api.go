// Package api exposes HealBee conversations over HTTP.
//
// Every response uses the models.APIResponse envelope. Replies are produced by the flow
// package and have already passed the safety gate; the API only transports them, optionally
// converting speech on the way in and out and pushing replies over SMS or WhatsApp. When a
// places.Finder is configured, urgent replies also list nearby hospitals and clinics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/healbee/healbee/internal/delivery"
	"github.com/healbee/healbee/internal/flow"
	"github.com/healbee/healbee/internal/places"
	"github.com/healbee/healbee/internal/speech"
	"github.com/healbee/healbee/internal/store"
)

// Defaults used when options are not supplied.
const (
	DefaultAddr            = ":8080"
	DefaultMaxAudioBytes   = 10 << 20
	DefaultShutdownTimeout = 10 * time.Second
	maxJSONBodyBytes       = 64 << 10
	maxNearbyPerType       = 3
)

// Opts holds configuration for the API server.
type Opts struct {
	Addr            string
	Store           store.Store
	Recognizer      speech.Recognizer
	Synthesizer     speech.Synthesizer
	Sender          delivery.Sender
	Places          places.Finder
	MaxAudioBytes   int64
	ShutdownTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStore enables the assessment history and chat log endpoints.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithSpeech enables the voice endpoint. Synthesizer may be nil for text-only replies.
func WithSpeech(r speech.Recognizer, s speech.Synthesizer) Option {
	return func(o *Opts) {
		o.Recognizer = r
		o.Synthesizer = s
	}
}

// WithSender enables delivery of replies to a phone number.
func WithSender(s delivery.Sender) Option {
	return func(o *Opts) { o.Sender = s }
}

// WithPlaces enables the nearby facility search.
func WithPlaces(f places.Finder) Option {
	return func(o *Opts) { o.Places = f }
}

// WithMaxAudioBytes caps voice uploads.
func WithMaxAudioBytes(n int64) Option {
	return func(o *Opts) { o.MaxAudioBytes = n }
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server serves the HTTP API on top of a conversation manager.
type Server struct {
	manager         *flow.Manager
	st              store.Store
	stt             speech.Recognizer
	tts             speech.Synthesizer
	sender          delivery.Sender
	places          places.Finder
	addr            string
	maxAudioBytes   int64
	shutdownTimeout time.Duration
	router          chi.Router
}

// NewServer builds the server and its routes.
func NewServer(m *flow.Manager, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, MaxAudioBytes: DefaultMaxAudioBytes, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	s := &Server{
		manager:         m,
		st:              cfg.Store,
		stt:             cfg.Recognizer,
		tts:             cfg.Synthesizer,
		sender:          cfg.Sender,
		places:          cfg.Places,
		addr:            cfg.Addr,
		maxAudioBytes:   cfg.MaxAudioBytes,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.router = s.routes()
	slog.Debug("API server created", "addr", s.addr, "store", s.st != nil, "speech", s.stt != nil,
		"tts", s.tts != nil, "delivery", s.sender != nil, "places", s.places != nil)
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", s.startConversationHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.endConversationHandler)
			r.Get("/messages", s.listMessagesHandler)
			r.Post("/messages", s.messageHandler)
			r.Post("/voice", s.voiceHandler)
		})
	})
	r.Get("/users/{userID}/assessments", s.listAssessmentsHandler)
	r.Get("/users/{userID}/conversations", s.listConversationsHandler)
	r.Get("/assessments/{id}", s.getAssessmentHandler)
	r.Get("/places", s.placesHandler)
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully and ends every live
// conversation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HealBee API listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("API server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.manager.Shutdown(shutdownCtx)
	if err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	<-errCh
	return nil
}
