package kb

// AnswerDomain is the expected shape of an answer to a follow-up question.
type AnswerDomain string

// Answer domain constants.
const (
	DomainFreeText AnswerDomain = "free_text"
	DomainChoice   AnswerDomain = "choice"
	DomainYesNo    AnswerDomain = "yes_no"
	DomainDuration AnswerDomain = "duration"
)

// IsValid reports whether d is a known answer domain.
func (d AnswerDomain) IsValid() bool {
	switch d {
	case DomainFreeText, DomainChoice, DomainYesNo, DomainDuration:
		return true
	}
	return false
}

// WeightRule adjusts the severity weight when an answer matches.
// Duration questions match on MinDays; every other domain matches on Equals
// (for free text, Equals is a phrase that must appear in the answer).
type WeightRule struct {
	Equals  string  `yaml:"equals,omitempty" json:"equals,omitempty"`
	MinDays float64 `yaml:"min_days,omitempty" json:"min_days,omitempty"`
	Delta   int     `yaml:"delta" json:"delta"`
}

// FollowUpQuestion is a knowledge-base-defined question used to narrow down a symptom.
// ID is unique only within the owning SymptomRecord.
type FollowUpQuestion struct {
	ID           string            `yaml:"id" json:"id"`
	Text         string            `yaml:"text" json:"text"`
	Translations map[string]string `yaml:"translations,omitempty" json:"translations,omitempty"`
	Domain       AnswerDomain      `yaml:"answer" json:"answer"`
	Choices      []string          `yaml:"choices,omitempty" json:"choices,omitempty"`
	Rules        []WeightRule      `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// TextFor returns the question text in the requested language, falling back to English.
func (q FollowUpQuestion) TextFor(lang string) string {
	if t, ok := q.Translations[lang]; ok && t != "" {
		return t
	}
	return q.Text
}

// SymptomRecord is an immutable catalog entry. Records returned by a KnowledgeBase share
// backing arrays with the catalog and must not be modified.
type SymptomRecord struct {
	ID           string             `yaml:"id" json:"id"`
	Name         string             `yaml:"name" json:"name"`
	Translations map[string]string  `yaml:"translations,omitempty" json:"translations,omitempty"`
	Keywords     []string           `yaml:"keywords" json:"keywords"`
	Questions    []FollowUpQuestion `yaml:"questions,omitempty" json:"questions,omitempty"`
	TriagePoints []string           `yaml:"triage_points" json:"triage_points"`
	Weight       int                `yaml:"weight" json:"weight"`
}

// NameFor returns the record name in the requested language, falling back to English.
func (r SymptomRecord) NameFor(lang string) string {
	if t, ok := r.Translations[lang]; ok && t != "" {
		return t
	}
	return r.Name
}

// Question returns the follow-up question with the given id.
func (r SymptomRecord) Question(id string) (FollowUpQuestion, bool) {
	for _, q := range r.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return FollowUpQuestion{}, false
}

// QuestionRef identifies a question globally: question ids are only unique per record.
type QuestionRef struct {
	RecordID   string `json:"record_id"`
	QuestionID string `json:"question_id"`
}

// Key returns the stable "record/question" form used in asked-question sets.
func (r QuestionRef) Key() string {
	if r.RecordID == "" && r.QuestionID == "" {
		return ""
	}
	return r.RecordID + "/" + r.QuestionID
}

// IsZero reports whether the reference points at no question.
func (r QuestionRef) IsZero() bool {
	return r.RecordID == "" && r.QuestionID == ""
}
