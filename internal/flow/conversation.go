package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/nlu"
	"github.com/healbee/healbee/internal/normalize"
	"github.com/healbee/healbee/internal/safety"
	"github.com/healbee/healbee/internal/store"
	"github.com/healbee/healbee/internal/triage"
)

// maxConversationHistory bounds the messages a conversation remembers.
const maxConversationHistory = 20

// ErrConversationEnded is returned for turns sent after End.
var ErrConversationEnded = errors.New("conversation ended")

// ReplyKind tells the caller what a reply carries.
type ReplyKind string

// Reply kinds.
const (
	ReplyQuestion   ReplyKind = "question"
	ReplyAssessment ReplyKind = "assessment"
	ReplyAnswer     ReplyKind = "answer"
	ReplySafety     ReplyKind = "safety"
)

// Reply is one safety-gated outbound message.
type Reply struct {
	ConversationID string             `json:"conversation_id"`
	Text           string             `json:"text"`
	Kind           ReplyKind          `json:"kind"`
	Intent         nlu.Intent         `json:"intent"`
	Language       string             `json:"language"`
	Outcome        safety.Outcome     `json:"safety_outcome"`
	Rules          []string           `json:"safety_rules,omitempty"`
	Question       *kb.QuestionRef    `json:"question,omitempty"`
	Assessment     *triage.Assessment `json:"assessment,omitempty"`
	SessionID      string             `json:"session_id,omitempty"`
	SessionStatus  Status             `json:"session_status,omitempty"`
}

// Conversation owns at most one live dialogue session. Turns are serialized.
type Conversation struct {
	mu       sync.Mutex
	engine   *Engine
	id       string
	userID   string
	language string
	userCtx  UserContext
	session  *Session
	history  []Message
	ended    bool
	// logged is set once the conversation header is stored; messages are only written
	// after that.
	logged bool
	titled bool

	// lastActive is read without mu so idle sweeps never wait on a turn in progress.
	lastActive atomic.Int64
}

func newConversation(e *Engine, id, userID, lang string, uc UserContext) *Conversation {
	c := &Conversation{engine: e, id: id, userID: userID, language: lang, userCtx: uc}
	c.touch()
	return c
}

func (c *Conversation) touch() {
	c.lastActive.Store(c.engine.now().UnixNano())
}

// LastActive returns when the conversation was started or last received a turn.
func (c *Conversation) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// UserID returns the owning user, if any.
func (c *Conversation) UserID() string { return c.userID }

// Session returns a copy of the current or most recent session.
func (c *Conversation) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return c.session.clone(), true
}

// Handle processes one user utterance and returns the gated reply.
func (c *Conversation) Handle(ctx context.Context, text string) (Reply, error) {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return Reply{}, ErrConversationEnded
	}

	norm := normalize.Normalize(text)
	slog.Debug("Conversation.Handle", "conversationID", c.id, "normalized", norm.Text, "language", norm.Language)

	var (
		reply Reply
		err   error
	)
	if c.collecting() {
		reply, err = c.handleAnswer(ctx, text, norm)
	} else {
		reply, err = c.handleUtterance(ctx, text, norm)
	}
	if err != nil {
		return Reply{}, err
	}
	c.remember(Message{Role: store.RoleUser, Content: text}, Message{Role: store.RoleAssistant, Content: reply.Text})
	return reply, nil
}

// CouldNotHear returns the gated reply used when a voice turn could not be transcribed.
// The turn is not recorded and the session is left untouched.
func (c *Conversation) CouldNotHear(lang string) (Reply, error) {
	c.touch()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return Reply{}, ErrConversationEnded
	}
	switch {
	case c.language != "":
		lang = c.language
	case c.collecting():
		lang = c.session.Language
	case lang == "":
		lang = normalize.LanguageEnglish
	}
	return c.gated(couldNotHear(lang), nlu.IntentOther, lang, ReplyAnswer), nil
}

// End closes the conversation. A session still collecting is abandoned and never
// assessed or persisted. End is idempotent.
func (c *Conversation) End(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	if c.session != nil {
		c.abandon("conversation ended")
	}
	slog.Debug("Conversation ended", "conversationID", c.id)
}

func (c *Conversation) collecting() bool {
	return c.session != nil && c.session.Status == StatusCollecting
}

// handleAnswer treats text as the answer to the pending question. An emergency abandons
// the dialogue and a diagnosis request is refused without recording an answer; answers
// are classified locally so turns stay deterministic.
func (c *Conversation) handleAnswer(ctx context.Context, text string, norm normalize.Text) (Reply, error) {
	lang := c.session.Language
	res := c.engine.extractor.ExtractLocal(norm)
	switch res.Intent {
	case nlu.IntentEmergency:
		c.abandon("emergency reported mid-dialogue")
		return c.gated("", nlu.IntentEmergency, lang, ReplySafety), nil
	case nlu.IntentDiagnosisRequest:
		return c.refuseMidDialogue(lang), nil
	}

	next, eff, err := Step(c.engine.kb, *c.session, AnswerEvent{Raw: text, Normalized: norm.Text, Matched: res.Entities.Symptoms})
	if err != nil {
		return Reply{}, fmt.Errorf("record answer: %w", err)
	}
	return c.apply(ctx, next, eff)
}

func (c *Conversation) handleUtterance(ctx context.Context, text string, norm normalize.Text) (Reply, error) {
	lang := c.languageFor(norm)
	res := c.engine.extractor.Extract(ctx, norm)
	slog.Debug("Intent extracted", "conversationID", c.id, "intent", res.Intent, "source", res.Source, "symptoms", res.Entities.Symptoms)

	switch res.Intent {
	case nlu.IntentEmergency, nlu.IntentDiagnosisRequest:
		return c.gated("", res.Intent, lang, ReplySafety), nil

	case nlu.IntentSymptomQuery:
		s := NewSession(c.engine.newID(), lang, c.engine.maxFollowUps)
		next, eff, err := Step(c.engine.kb, s, StartEvent{Raw: text, Normalized: norm.Text, Matched: res.Entities.Symptoms})
		if err != nil {
			return Reply{}, fmt.Errorf("start session: %w", err)
		}
		slog.Info("Symptom session started", "conversationID", c.id, "sessionID", next.ID, "activated", next.Activated)
		return c.apply(ctx, next, eff)
	}

	answer := c.answer(ctx, text, norm, res, lang)
	return c.gated(answer, res.Intent, lang, ReplyAnswer), nil
}

// refuseMidDialogue answers a diagnosis request made while a question is pending. The
// session is left untouched and the refusal repeats the question.
func (c *Conversation) refuseMidDialogue(lang string) Reply {
	ref := c.session.Pending
	var pending string
	if q, ok := c.engine.kb.Question(ref); ok {
		pending = renderQuestion(q, lang)
	}
	slog.Info("Diagnosis request refused mid-dialogue", "conversationID", c.id, "sessionID", c.session.ID, "pending", ref.Key())
	v := c.engine.gate.Enforce("", safety.Context{Intent: nlu.IntentDiagnosisRequest, Language: lang, Pending: pending})
	r := c.reply(v, nlu.IntentDiagnosisRequest, lang, ReplySafety)
	if !ref.IsZero() {
		r.Question = &ref
	}
	r.SessionID, r.SessionStatus = c.session.ID, c.session.Status
	return r
}

// apply stores the new session and performs the effect the transition requested.
func (c *Conversation) apply(ctx context.Context, s Session, eff Effect) (Reply, error) {
	c.session = &s
	switch e := eff.(type) {
	case EffectAsk:
		r := c.gated(renderQuestion(e.Question, s.Language), nlu.IntentSymptomQuery, s.Language, ReplyQuestion)
		ref := e.Ref
		r.Question = &ref
		r.SessionID, r.SessionStatus = s.ID, s.Status
		return r, nil

	case EffectCompose:
		a := c.engine.composer.Compose(ctx, e.Transcript)
		done, _, err := Step(c.engine.kb, s, CompletedEvent{Assessment: a})
		if err != nil {
			return Reply{}, fmt.Errorf("complete session: %w", err)
		}
		c.session = &done
		slog.Info("Symptom session completed", "conversationID", c.id, "sessionID", done.ID,
			"severity", a.Severity, "score", a.Score, "questions", done.QuestionsAsked)
		c.persist(done, a)

		r := c.gated(a.Text(done.Language), nlu.IntentSymptomQuery, done.Language, ReplyAssessment)
		r.Assessment = &a
		r.SessionID, r.SessionStatus = done.ID, done.Status
		return r, nil
	}
	return Reply{}, fmt.Errorf("unexpected effect %T", eff)
}

func (c *Conversation) abandon(reason string) {
	next, _, err := Step(c.engine.kb, *c.session, AbandonEvent{})
	if err != nil {
		slog.Error("Abandon failed", "conversationID", c.id, "error", err)
		return
	}
	if next.Status != c.session.Status {
		slog.Info("Symptom session abandoned", "conversationID", c.id, "sessionID", next.ID, "reason", reason)
	}
	c.session = &next
}

// answer runs the direct answer path. Failures degrade to the fixed apology.
func (c *Conversation) answer(ctx context.Context, text string, norm normalize.Text, res nlu.Result, lang string) string {
	if c.engine.answerer == nil {
		return Apology(lang)
	}
	actx, cancel := context.WithTimeout(ctx, c.engine.answerTimeout)
	defer cancel()
	out, err := c.engine.answerer.Answer(actx, AnswerRequest{
		Query:       text,
		Normalized:  norm,
		Intent:      res.Intent,
		Entities:    res.Entities,
		Language:    lang,
		UserContext: c.userCtx,
		History:     append([]Message(nil), c.history...),
	})
	if err != nil {
		slog.Warn("Direct answer failed, using apology", "conversationID", c.id, "error", err)
		return Apology(lang)
	}
	return out
}

// gated passes text through the safety gate. Every reply is built from a verdict.
func (c *Conversation) gated(text string, intent nlu.Intent, lang string, kind ReplyKind) Reply {
	v := c.engine.gate.Enforce(text, safety.Context{Intent: intent, Language: lang})
	return c.reply(v, intent, lang, kind)
}

func (c *Conversation) reply(v safety.Verdict, intent nlu.Intent, lang string, kind ReplyKind) Reply {
	return Reply{
		ConversationID: c.id,
		Text:           v.Text,
		Kind:           kind,
		Intent:         intent,
		Language:       lang,
		Outcome:        v.Outcome,
		Rules:          v.Rules,
	}
}

func (c *Conversation) persist(s Session, a triage.Assessment) {
	if c.engine.store == nil {
		return
	}
	rec := store.AssessmentRecord{
		ID:             c.engine.newID(),
		ConversationID: c.id,
		UserID:         c.userID,
		Language:       s.Language,
		Assessment:     a,
		Transcript:     append([]Turn(nil), s.Turns...),
		CreatedAt:      a.CreatedAt,
	}
	if err := c.engine.store.SaveAssessment(rec); err != nil {
		slog.Error("Failed to persist assessment", "conversationID", c.id, "sessionID", s.ID, "error", err)
	}
}

func (c *Conversation) languageFor(norm normalize.Text) string {
	if c.language != "" {
		return c.language
	}
	if norm.Language != "" {
		return norm.Language
	}
	return normalize.LanguageEnglish
}

func (c *Conversation) remember(msgs ...Message) {
	c.history = append(c.history, msgs...)
	if n := len(c.history); n > maxConversationHistory {
		c.history = append([]Message(nil), c.history[n-maxConversationHistory:]...)
	}
	c.logMessages(msgs)
}

// saveHeader stores the conversation so its messages can be logged. Failures are logged
// and leave the chat log off for this conversation.
func (c *Conversation) saveHeader() {
	st := c.engine.store
	if st == nil {
		return
	}
	now := c.engine.now().UTC()
	err := st.SaveConversation(store.ConversationRecord{
		ID:        c.id,
		UserID:    c.userID,
		Language:  c.language,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		slog.Error("Failed to persist conversation", "conversationID", c.id, "error", err)
		return
	}
	c.logged = true
}

// logMessages writes msgs through to the chat log and titles the conversation after
// the first user message.
func (c *Conversation) logMessages(msgs []Message) {
	if !c.logged || len(msgs) == 0 {
		return
	}
	st := c.engine.store
	now := c.engine.now().UTC()
	recs := make([]store.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		recs = append(recs, store.MessageRecord{Role: m.Role, Content: m.Content, CreatedAt: now})
	}
	if err := st.AppendMessages(c.id, recs...); err != nil {
		slog.Error("Failed to persist messages", "conversationID", c.id, "count", len(recs), "error", err)
		return
	}
	if c.titled {
		return
	}
	for _, m := range msgs {
		if m.Role != store.RoleUser {
			continue
		}
		if title := store.TitleFrom(m.Content); title != "" {
			if err := st.UpdateConversationTitle(c.id, title); err != nil {
				slog.Error("Failed to title conversation", "conversationID", c.id, "error", err)
				return
			}
			c.titled = true
		}
		return
	}
}

// renderQuestion formats a follow-up question with its expected answers.
func renderQuestion(q kb.FollowUpQuestion, lang string) string {
	text := q.TextFor(lang)
	switch q.Domain {
	case kb.DomainYesNo:
		if lang == normalize.LanguageHindi {
			return text + " (हाँ / नहीं)"
		}
		return text + " (yes / no)"
	case kb.DomainChoice:
		if len(q.Choices) > 0 {
			return text + " (" + strings.Join(q.Choices, " / ") + ")"
		}
	}
	return text
}
