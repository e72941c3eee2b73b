package api

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/healbee/healbee/internal/flow"
	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/places"
	"github.com/healbee/healbee/internal/safety"
	"github.com/healbee/healbee/internal/store"
	"github.com/healbee/healbee/internal/triage"
)

// messageResponse is a reply plus the receipt of its optional delivery and, for urgent
// replies, facilities near the location the user gave.
type messageResponse struct {
	flow.Reply
	Delivery *models.Receipt `json:"delivery,omitempty"`
	Nearby   []places.Place  `json:"nearby,omitempty"`
}

// voiceResponse is the result of one voice turn. AudioBase64 is empty when synthesis
// failed or is not configured.
type voiceResponse struct {
	Transcript  string     `json:"transcript"`
	Reply       flow.Reply `json:"reply"`
	AudioBase64 string     `json:"audio_base64,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"conversations": s.manager.Len(),
	}))
}

// startConversationHandler handles POST /conversations
func (s *Server) startConversationHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.startConversationHandler invoked", "requestID", middleware.GetReqID(r.Context()))
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var req models.StartConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.startConversationHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startConversationHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	c, err := s.manager.Start(flow.StartOptions{UserID: req.UserID, Language: req.Language, Profile: req.Profile})
	if err != nil {
		slog.Error("Server.startConversationHandler: start failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(models.StartConversationResponse{ConversationID: c.ID()}))
}

// messageHandler handles POST /conversations/{id}/messages
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slog.Debug("Server.messageHandler invoked", "conversationID", id, "requestID", middleware.GetReqID(r.Context()))
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var req models.MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		slog.Warn("Server.messageHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.messageHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if req.DeliverTo != "" && s.sender == nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Delivery is not configured"))
		return
	}

	reply, err := s.manager.Handle(r.Context(), id, req.Text)
	if err != nil {
		s.writeConversationError(w, "messageHandler", id, err)
		return
	}

	resp := messageResponse{Reply: reply}
	if req.DeliverTo != "" {
		receipt, err := s.sender.Send(r.Context(), req.DeliverTo, reply.Text)
		if err != nil {
			// The reply is still returned; the receipt carries the failure.
			slog.Error("Server.messageHandler: delivery failed", "conversationID", id, "error", err)
		}
		resp.Delivery = &receipt
	}
	if req.Location != "" && s.places != nil && needsCare(reply) {
		resp.Nearby = s.places.Search(r.Context(), req.Location, maxNearbyPerType)
		slog.Debug("Server.messageHandler: nearby facilities attached", "conversationID", id, "count", len(resp.Nearby))
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// needsCare reports whether a reply sends the user to a doctor or hospital soon.
func needsCare(reply flow.Reply) bool {
	if slices.Contains(reply.Rules, safety.RuleEmergencyRedirect) {
		return true
	}
	if a := reply.Assessment; a != nil {
		return a.Severity == triage.SeverityHigh || a.Severity == triage.SeverityEmergency
	}
	return false
}

// placesHandler handles GET /places?near=<location>&limit=<per type>
func (s *Server) placesHandler(w http.ResponseWriter, r *http.Request) {
	near := strings.TrimSpace(r.URL.Query().Get("near"))
	slog.Debug("Server.placesHandler invoked", "near", near, "requestID", middleware.GetReqID(r.Context()))
	if s.places == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Facility search is not configured"))
		return
	}
	if near == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("near is required"))
		return
	}
	if utf8.RuneCountInString(near) > models.MaxLocationLength {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrLocationTooLong.Error()))
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	found := s.places.Search(r.Context(), near, limit)
	if found == nil {
		found = []places.Place{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(found))
}

// voiceHandler handles POST /conversations/{id}/voice. The body is the raw audio.
func (s *Server) voiceHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lang := r.URL.Query().Get("lang")
	slog.Debug("Server.voiceHandler invoked", "conversationID", id, "lang", lang, "requestID", middleware.GetReqID(r.Context()))

	if s.stt == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Speech is not configured"))
		return
	}
	if !models.IsSupportedLanguage(lang) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrUnsupportedLang.Error()))
		return
	}
	c, err := s.manager.Get(id)
	if err != nil {
		s.writeConversationError(w, "voiceHandler", id, err)
		return
	}

	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxAudioBytes))
	if err != nil {
		slog.Warn("Server.voiceHandler: failed to read audio", "error", err)
		writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Audio too large"))
		return
	}
	if len(audio) == 0 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Audio body is empty"))
		return
	}

	var resp voiceResponse
	transcript, err := s.stt.Transcribe(r.Context(), audio, lang)
	if err != nil {
		slog.Warn("Server.voiceHandler: transcription failed", "conversationID", id, "error", err)
		resp.Reply, err = c.CouldNotHear(lang)
	} else {
		resp.Transcript = transcript.Text
		resp.Reply, err = c.Handle(r.Context(), transcript.Text)
	}
	if err != nil {
		s.writeConversationError(w, "voiceHandler", id, err)
		return
	}

	if s.tts != nil {
		audioOut, err := s.tts.Synthesize(r.Context(), resp.Reply.Text, resp.Reply.Language)
		if err != nil {
			slog.Warn("Server.voiceHandler: synthesis failed, replying with text only", "conversationID", id, "error", err)
		} else {
			resp.AudioBase64 = base64.StdEncoding.EncodeToString(audioOut)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// endConversationHandler handles DELETE /conversations/{id}
func (s *Server) endConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	slog.Debug("Server.endConversationHandler invoked", "conversationID", id)
	if err := s.manager.End(r.Context(), id); err != nil {
		s.writeConversationError(w, "endConversationHandler", id, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation ended", nil))
}

// listAssessmentsHandler handles GET /users/{userID}/assessments
func (s *Server) listAssessmentsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if s.st == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Persistence is not configured"))
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	recs, err := s.st.ListAssessments(userID, limit)
	if err != nil {
		slog.Error("Server.listAssessmentsHandler: list failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list assessments"))
		return
	}
	if recs == nil {
		recs = []store.AssessmentRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(recs))
}

// getAssessmentHandler handles GET /assessments/{id}
func (s *Server) getAssessmentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.st == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Persistence is not configured"))
		return
	}
	rec, err := s.st.GetAssessment(id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Assessment not found"))
		return
	}
	if err != nil {
		slog.Error("Server.getAssessmentHandler: get failed", "assessmentID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load assessment"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// listConversationsHandler handles GET /users/{userID}/conversations
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if s.st == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Persistence is not configured"))
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	convs, err := s.st.ListConversations(userID, limit)
	if err != nil {
		slog.Error("Server.listConversationsHandler: list failed", "userID", userID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list conversations"))
		return
	}
	if convs == nil {
		convs = []store.ConversationRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(convs))
}

// listMessagesHandler handles GET /conversations/{id}/messages
func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.st == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Persistence is not configured"))
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	msgs, err := s.st.ListMessages(id, limit)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
		return
	}
	if err != nil {
		slog.Error("Server.listMessagesHandler: list failed", "conversationID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list messages"))
		return
	}
	if msgs == nil {
		msgs = []store.MessageRecord{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

// parseLimit reads the optional limit query parameter. It writes a 400 and returns false
// when the value is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a positive integer"))
		return 0, false
	}
	return n, true
}

func (s *Server) writeConversationError(w http.ResponseWriter, handler, id string, err error) {
	switch {
	case errors.Is(err, flow.ErrConversationNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
	case errors.Is(err, flow.ErrConversationEnded):
		writeJSONResponse(w, http.StatusGone, models.Error("Conversation has ended"))
	default:
		slog.Error("Server."+handler+": conversation turn failed", "conversationID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
	}
}
