// Package flow runs HealBee conversations: the symptom dialogue state machine, the
// conversation that owns a session, the direct answer path and the conversation manager.
package flow

import (
	"errors"
	"fmt"

	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/triage"
)

// Status of a dialogue session.
type Status string

// Status constants.
const (
	StatusCollecting         Status = "collecting"
	StatusReadyForAssessment Status = "ready_for_assessment"
	StatusCompleted          Status = "completed"
	StatusAbandoned          Status = "abandoned"
)

// DefaultMaxFollowUps caps the follow-up questions asked in one session.
const DefaultMaxFollowUps = 8

// ErrInvalidTransition is returned when an event does not apply to the session state.
var ErrInvalidTransition = errors.New("invalid dialogue transition")

// Turn is one recorded exchange of a session.
type Turn = triage.Turn

// Session is the state of one symptom dialogue. Step never mutates the session it is
// given; it returns an updated copy.
type Session struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Turns    []Turn `json:"turns"`
	// Activated holds knowledge base record ids in activation order.
	Activated []string `json:"activated"`
	// Asked holds the keys of every question asked so far, the pending one included.
	Asked          map[string]bool    `json:"asked"`
	Pending        kb.QuestionRef     `json:"pending"`
	Status         Status             `json:"status"`
	QuestionsAsked int                `json:"questions_asked"`
	MaxFollowUps   int                `json:"max_follow_ups"`
	Assessment     *triage.Assessment `json:"assessment,omitempty"`
}

// NewSession returns a collecting session awaiting the initial symptom report.
// maxFollowUps values below 1 are clamped to 1.
func NewSession(id, lang string, maxFollowUps int) Session {
	if maxFollowUps < 1 {
		maxFollowUps = 1
	}
	return Session{
		ID:           id,
		Language:     lang,
		Asked:        make(map[string]bool),
		Status:       StatusCollecting,
		MaxFollowUps: maxFollowUps,
	}
}

// Transcript returns the read-only view the composer works from.
func (s Session) Transcript() triage.Transcript {
	return triage.Transcript{
		SessionID: s.ID,
		Language:  s.Language,
		Activated: append([]string(nil), s.Activated...),
		Turns:     append([]Turn(nil), s.Turns...),
	}
}

func (s Session) clone() Session {
	c := s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.Activated = append([]string(nil), s.Activated...)
	c.Asked = make(map[string]bool, len(s.Asked))
	for k, v := range s.Asked {
		c.Asked[k] = v
	}
	return c
}

// Event drives a session transition.
type Event interface{ event() }

// StartEvent carries the utterance that opened the session. Matched holds the record ids
// found in it.
type StartEvent struct {
	Raw        string
	Normalized string
	Matched    []string
}

// AnswerEvent carries the answer to the pending question. Matched holds any record ids
// newly mentioned in the answer.
type AnswerEvent struct {
	Raw        string
	Normalized string
	Matched    []string
}

// CompletedEvent attaches the composed assessment.
type CompletedEvent struct {
	Assessment triage.Assessment
}

// AbandonEvent signals the owning conversation ended.
type AbandonEvent struct{}

func (StartEvent) event()     {}
func (AnswerEvent) event()    {}
func (CompletedEvent) event() {}
func (AbandonEvent) event()   {}

// Effect is the side effect a transition asks its caller to perform.
type Effect interface{ effect() }

// EffectNone requests nothing.
type EffectNone struct{}

// EffectAsk requests that Question be put to the user.
type EffectAsk struct {
	Ref      kb.QuestionRef
	Question kb.FollowUpQuestion
}

// EffectCompose requests an assessment of Transcript, to be fed back as CompletedEvent.
type EffectCompose struct {
	Transcript triage.Transcript
}

func (EffectNone) effect()    {}
func (EffectAsk) effect()     {}
func (EffectCompose) effect() {}

// Step applies ev to s and returns the new session with the effect to perform.
// The transition is pure: the same knowledge base, session and event always give the
// same result.
func Step(k *kb.KnowledgeBase, s Session, ev Event) (Session, Effect, error) {
	switch e := ev.(type) {
	case StartEvent:
		if s.Status != StatusCollecting || len(s.Turns) > 0 {
			return s, EffectNone{}, invalid(s, ev)
		}
		n := s.clone()
		n.Turns = append(n.Turns, Turn{Raw: e.Raw, Normalized: e.Normalized})
		n.activate(e.Matched)
		eff := n.advance(k)
		return n, eff, nil

	case AnswerEvent:
		if s.Status != StatusCollecting || s.Pending.IsZero() {
			return s, EffectNone{}, invalid(s, ev)
		}
		n := s.clone()
		// Answers are recorded verbatim whether or not they parse for the question's domain.
		n.Turns = append(n.Turns, Turn{Question: n.Pending, Raw: e.Raw, Normalized: e.Normalized})
		n.Pending = kb.QuestionRef{}
		n.activate(e.Matched)
		eff := n.advance(k)
		return n, eff, nil

	case CompletedEvent:
		if s.Status != StatusReadyForAssessment {
			return s, EffectNone{}, invalid(s, ev)
		}
		n := s.clone()
		a := e.Assessment
		n.Assessment = &a
		n.Status = StatusCompleted
		return n, EffectNone{}, nil

	case AbandonEvent:
		switch s.Status {
		case StatusCompleted, StatusAbandoned:
			return s, EffectNone{}, nil
		}
		n := s.clone()
		n.Pending = kb.QuestionRef{}
		n.Status = StatusAbandoned
		return n, EffectNone{}, nil
	}
	return s, EffectNone{}, invalid(s, ev)
}

func invalid(s Session, ev Event) error {
	return fmt.Errorf("%w: %T in %s", ErrInvalidTransition, ev, s.Status)
}

// activate appends ids not yet active, keeping activation order.
func (s *Session) activate(ids []string) {
	for _, id := range ids {
		if !containsString(s.Activated, id) {
			s.Activated = append(s.Activated, id)
		}
	}
}

// advance asks the next unasked question or, when none remains or the cap is reached,
// moves the session to ready-for-assessment.
func (s *Session) advance(k *kb.KnowledgeBase) Effect {
	if s.QuestionsAsked < s.MaxFollowUps {
		if ref, q, ok := k.NextUnaskedQuestion(s.Activated, s.Asked); ok {
			s.Asked[ref.Key()] = true
			s.Pending = ref
			s.QuestionsAsked++
			return EffectAsk{Ref: ref, Question: q}
		}
	}
	s.Status = StatusReadyForAssessment
	return EffectCompose{Transcript: s.Transcript()}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
