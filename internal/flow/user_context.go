package flow

import (
	"fmt"
	"strings"

	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/store"
)

// Limits applied when user context is rendered into a prompt, in characters.
const (
	maxPastMessages      = 5
	maxPastMessageChars  = 100
	maxLastSymptomsChars = 200
	maxLastAdviceChars   = 150
	maxHealthSummary     = 400
	maxRenderedNotes     = 200
	maxRenderedSummary   = 300
	maxRenderedItems     = 10
)

// Message is one entry of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Memory is what earlier conversations left behind for a user. It only ever reaches LLM
// prompts as text; the dialogue never branches on it.
type Memory struct {
	LastSymptoms []string
	LastAdvice   string
	PastMessages []Message
}

// IsZero reports whether m holds nothing.
func (m Memory) IsZero() bool {
	return len(m.LastSymptoms) == 0 && m.LastAdvice == "" && len(m.PastMessages) == 0
}

// MemoryFromAssessments derives memory from persisted assessments, newest first.
func MemoryFromAssessments(recs []store.AssessmentRecord) Memory {
	var m Memory
	if len(recs) == 0 {
		return m
	}
	latest := recs[0].Assessment
	m.LastSymptoms = append([]string(nil), latest.Symptoms...)
	if len(latest.NextSteps) > 0 {
		m.LastAdvice = latest.NextSteps[0]
	} else if len(latest.TriagePoints) > 0 {
		m.LastAdvice = latest.TriagePoints[0]
	}
	for _, r := range recs {
		for _, t := range r.Transcript {
			if len(m.PastMessages) == maxPastMessages {
				return m
			}
			if strings.TrimSpace(t.Raw) != "" {
				m.PastMessages = append(m.PastMessages, Message{Role: "user", Content: t.Raw})
			}
		}
	}
	return m
}

// UserContext is the trusted background placed in the system prompt of direct answers.
type UserContext struct {
	Profile models.Profile
	Memory  Memory
}

// BuildUserContext applies the profile caps and keeps only what is worth rendering.
func BuildUserContext(p models.Profile, m Memory) UserContext {
	p.Name = strings.TrimSpace(p.Name)
	p.Gender = normalizeGender(p.Gender)
	p.ChronicConditions = nonEmpty(p.ChronicConditions, models.MaxChronicConditions)
	p.Allergies = nonEmpty(p.Allergies, models.MaxAllergies)
	p.Notes = truncate(strings.TrimSpace(p.Notes), models.MaxProfileNotesLength)
	return UserContext{Profile: p, Memory: m}
}

func normalizeGender(g string) string {
	g = strings.ToLower(strings.TrimSpace(g))
	if g == "prefer_not_to_say" {
		return ""
	}
	return g
}

// HealthSummary condenses memory into a single line.
func (uc UserContext) HealthSummary() string {
	var parts []string
	if len(uc.Memory.LastSymptoms) > 0 {
		parts = append(parts, truncate(strings.Join(uc.Memory.LastSymptoms, ", "), maxLastSymptomsChars))
	}
	if uc.Memory.LastAdvice != "" {
		parts = append(parts, "Last advice: "+truncate(uc.Memory.LastAdvice, maxLastAdviceChars))
	}
	for i, msg := range uc.Memory.PastMessages {
		if i == maxPastMessages {
			break
		}
		content := truncate(strings.TrimSpace(msg.Content), maxPastMessageChars)
		if content == "" {
			continue
		}
		role := msg.Role
		if role == "" {
			role = "user"
		}
		parts = append(parts, role+": "+content)
	}
	return truncate(strings.Join(parts, " "), maxHealthSummary)
}

// PromptText renders the context as bullet points. It returns "" when there is nothing
// to say.
func (uc UserContext) PromptText() string {
	lines := []string{"KNOWN USER INFORMATION (use only when relevant):", ""}
	header := len(lines)
	p := uc.Profile

	var identity []string
	if p.Name != "" {
		identity = append(identity, "- Name: "+p.Name)
	}
	if p.Age > 0 {
		identity = append(identity, fmt.Sprintf("- Age: %d", p.Age))
	}
	if p.Gender != "" {
		identity = append(identity, "- Gender: "+titleGender(p.Gender))
	}
	if len(identity) > 0 {
		lines = append(lines, "Identity:")
		lines = append(lines, identity...)
		lines = append(lines, "")
	}

	var health []string
	for i, c := range p.ChronicConditions {
		if i == maxRenderedItems {
			break
		}
		health = append(health, "- Chronic condition: "+c)
	}
	for i, a := range p.Allergies {
		if i == maxRenderedItems {
			break
		}
		health = append(health, "- Allergy: "+a)
	}
	if p.Pregnant != nil {
		if *p.Pregnant {
			health = append(health, "- Pregnancy status: Yes")
		} else {
			health = append(health, "- Pregnancy status: No")
		}
	}
	if p.Notes != "" {
		health = append(health, "- Additional notes: "+truncate(p.Notes, maxRenderedNotes))
	}
	if len(health) > 0 {
		lines = append(lines, "Health background:")
		lines = append(lines, health...)
		lines = append(lines, "")
	}

	if summary := uc.HealthSummary(); summary != "" {
		lines = append(lines, "Recent health history:", "- "+truncate(summary, maxRenderedSummary), "")
	}

	if len(lines) == header {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func titleGender(g string) string {
	switch g {
	case "male":
		return "Male"
	case "female":
		return "Female"
	case "other":
		return "Other"
	}
	return g
}

func nonEmpty(list []string, limit int) []string {
	var out []string
	for _, v := range list {
		if v = strings.TrimSpace(v); v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
