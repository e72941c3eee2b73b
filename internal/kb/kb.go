// Package kb provides the symptom knowledge base: an immutable catalog of symptom
// records, their trigger keywords, ordered follow-up questions and triage points.
//
// A KnowledgeBase is loaded once at process start and never mutated afterwards, so it
// is safe for unsynchronized concurrent reads from any number of conversations.
package kb

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/healbee/healbee/internal/normalize"
	"gopkg.in/yaml.v3"
)

//go:embed default_kb.yaml
var defaultSource []byte

// DefaultSourceName is the name reported for the embedded catalog.
const DefaultSourceName = "embedded:default_kb.yaml"

// ConfigurationError reports a missing or malformed knowledge base source.
// It is a startup error: callers are expected to abort.
type ConfigurationError struct {
	Source   string
	Problems []string
	Err      error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "knowledge base %s is invalid", e.Source)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, p := range e.Problems {
		b.WriteString("\n  - ")
		b.WriteString(p)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// source is the on-disk schema. JSON sources decode too since YAML is a superset.
type source struct {
	Version  int             `yaml:"version"`
	Symptoms []SymptomRecord `yaml:"symptoms"`
}

// KnowledgeBase is the loaded, read-only catalog.
type KnowledgeBase struct {
	name      string
	version   int
	records   []SymptomRecord
	byID      map[string]int
	byKeyword map[string][]string
	// keywords in a fixed order so matching is deterministic.
	keywords []string
}

// LoadDefault loads the catalog embedded in the binary.
func LoadDefault() (*KnowledgeBase, error) {
	return load(DefaultSourceName, bytes.NewReader(defaultSource))
}

// LoadFile loads a catalog from a YAML or JSON file.
func LoadFile(path string) (*KnowledgeBase, error) {
	f, err := os.Open(path)
	if err != nil {
		slog.Error("Failed to open knowledge base", "path", path, "error", err)
		return nil, &ConfigurationError{Source: path, Err: err}
	}
	defer f.Close()
	return load(path, f)
}

// Load reads a catalog from r. name is used only in errors and logs.
func Load(name string, r io.Reader) (*KnowledgeBase, error) {
	return load(name, r)
}

func load(name string, r io.Reader) (*KnowledgeBase, error) {
	slog.Debug("Loading knowledge base", "source", name)

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var src source
	if err := dec.Decode(&src); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("source is empty")
		}
		slog.Error("Failed to decode knowledge base", "source", name, "error", err)
		return nil, &ConfigurationError{Source: name, Err: err}
	}

	if problems := validate(src); len(problems) > 0 {
		slog.Error("Knowledge base validation failed", "source", name, "problems", len(problems))
		return nil, &ConfigurationError{Source: name, Problems: problems}
	}

	kb := &KnowledgeBase{
		name:      name,
		version:   src.Version,
		records:   src.Symptoms,
		byID:      make(map[string]int, len(src.Symptoms)),
		byKeyword: make(map[string][]string),
	}
	for i := range kb.records {
		rec := &kb.records[i]
		kb.byID[rec.ID] = i
		for k, kw := range rec.Keywords {
			folded := normalize.Fold(kw)
			rec.Keywords[k] = folded
			if folded == "" {
				continue
			}
			if _, seen := kb.byKeyword[folded]; !seen {
				kb.keywords = append(kb.keywords, folded)
			}
			if !containsString(kb.byKeyword[folded], rec.ID) {
				kb.byKeyword[folded] = append(kb.byKeyword[folded], rec.ID)
			}
		}
	}

	slog.Info("Knowledge base loaded", "source", name, "version", kb.version, "records", len(kb.records), "keywords", len(kb.keywords))
	return kb, nil
}

func validate(src source) []string {
	var problems []string
	if len(src.Symptoms) == 0 {
		return []string{"no symptom records defined"}
	}
	ids := make(map[string]bool, len(src.Symptoms))
	for i, rec := range src.Symptoms {
		where := fmt.Sprintf("symptoms[%d]", i)
		if rec.ID == "" {
			problems = append(problems, where+": missing id")
		} else {
			where = fmt.Sprintf("symptom %q", rec.ID)
			if ids[rec.ID] {
				problems = append(problems, where+": duplicate id")
			}
			ids[rec.ID] = true
		}
		if strings.TrimSpace(rec.Name) == "" {
			problems = append(problems, where+": missing name")
		}
		if rec.Weight < 0 {
			problems = append(problems, where+": weight must not be negative")
		}
		hasKeyword := false
		for _, kw := range rec.Keywords {
			if normalize.Fold(kw) != "" {
				hasKeyword = true
			}
		}
		if !hasKeyword {
			problems = append(problems, where+": at least one non-empty keyword is required")
		}
		if len(rec.TriagePoints) == 0 {
			problems = append(problems, where+": at least one triage point is required")
		}
		qids := make(map[string]bool, len(rec.Questions))
		for j, q := range rec.Questions {
			problems = append(problems, validateQuestion(fmt.Sprintf("%s questions[%d]", where, j), q, qids)...)
		}
	}
	return problems
}

func validateQuestion(where string, q FollowUpQuestion, seen map[string]bool) []string {
	var problems []string
	if q.ID == "" {
		problems = append(problems, where+": missing id")
	} else if seen[q.ID] {
		problems = append(problems, fmt.Sprintf("%s: duplicate question id %q", where, q.ID))
	}
	seen[q.ID] = true
	if strings.TrimSpace(q.Text) == "" {
		problems = append(problems, where+": missing text")
	}
	if !q.Domain.IsValid() {
		problems = append(problems, fmt.Sprintf("%s: unknown answer domain %q", where, q.Domain))
		return problems
	}
	if q.Domain == DomainChoice && len(q.Choices) < 2 {
		problems = append(problems, where+": choice questions need at least two choices")
	}
	for k, rule := range q.Rules {
		rw := fmt.Sprintf("%s rules[%d]", where, k)
		switch q.Domain {
		case DomainDuration:
			if rule.MinDays <= 0 {
				problems = append(problems, rw+": duration rules need a positive min_days")
			}
		case DomainYesNo:
			if v := normalize.Fold(rule.Equals); v != answerYes && v != answerNo {
				problems = append(problems, fmt.Sprintf("%s: yes_no rules must equal yes or no, got %q", rw, rule.Equals))
			}
		case DomainChoice:
			if !containsFolded(q.Choices, rule.Equals) {
				problems = append(problems, fmt.Sprintf("%s: %q is not one of the choices", rw, rule.Equals))
			}
		case DomainFreeText:
			if normalize.Fold(rule.Equals) == "" {
				problems = append(problems, rw+": free_text rules need a phrase in equals")
			}
		}
	}
	return problems
}

// Name returns the source name the catalog was loaded from.
func (kb *KnowledgeBase) Name() string { return kb.name }

// Version returns the catalog version declared in the source.
func (kb *KnowledgeBase) Version() int { return kb.version }

// Records returns all records in declaration order.
func (kb *KnowledgeBase) Records() []SymptomRecord {
	return kb.records[:len(kb.records):len(kb.records)]
}

// Record returns the record with the given id.
func (kb *KnowledgeBase) Record(id string) (SymptomRecord, bool) {
	i, ok := kb.byID[id]
	if !ok {
		return SymptomRecord{}, false
	}
	return kb.records[i], true
}

// Question resolves a question reference.
func (kb *KnowledgeBase) Question(ref QuestionRef) (FollowUpQuestion, bool) {
	rec, ok := kb.Record(ref.RecordID)
	if !ok {
		return FollowUpQuestion{}, false
	}
	return rec.Question(ref.QuestionID)
}

// Lookup returns the ids of every record triggered by keyword, in declaration order.
// Keyword sets may overlap, so more than one id can be returned.
func (kb *KnowledgeBase) Lookup(keyword string) []string {
	ids := kb.byKeyword[normalize.Fold(keyword)]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Match returns the ids of every record with a trigger keyword present in text, ordered
// by the position of the earliest matching keyword and then by declaration order.
func (kb *KnowledgeBase) Match(text normalize.Text) []string {
	first := make(map[string]int)
	for _, kw := range kb.keywords {
		pos := text.Index(kw)
		if pos < 0 {
			continue
		}
		for _, id := range kb.byKeyword[kw] {
			if prev, ok := first[id]; !ok || pos < prev {
				first[id] = pos
			}
		}
	}
	ids := make([]string, 0, len(first))
	for id := range first {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := first[ids[i]], first[ids[j]]
		if pi != pj {
			return pi < pj
		}
		return kb.byID[ids[i]] < kb.byID[ids[j]]
	})
	return ids
}

// NextUnaskedQuestion walks the activated records in activation order and, within each,
// its questions in declared order, returning the first question whose key is not in
// asked. Unknown record ids are skipped. The merge is deterministic: no randomization
// and no priority weighting.
func (kb *KnowledgeBase) NextUnaskedQuestion(activated []string, asked map[string]bool) (QuestionRef, FollowUpQuestion, bool) {
	for _, id := range activated {
		rec, ok := kb.Record(id)
		if !ok {
			continue
		}
		for _, q := range rec.Questions {
			ref := QuestionRef{RecordID: rec.ID, QuestionID: q.ID}
			if !asked[ref.Key()] {
				return ref, q, true
			}
		}
	}
	return QuestionRef{}, FollowUpQuestion{}, false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFolded(list []string, s string) bool {
	want := normalize.Fold(s)
	for _, v := range list {
		if normalize.Fold(v) == want {
			return true
		}
	}
	return false
}
