// Package testutil provides common test utilities and helpers for HealBee tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/healbee/healbee/internal/flow"
	"github.com/healbee/healbee/internal/kb"
	"github.com/healbee/healbee/internal/store"
	"github.com/healbee/healbee/internal/triage"
	"github.com/healbee/healbee/internal/util"
)

// LoadKB loads the embedded knowledge base and fails the test on error.
func LoadKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	k, err := kb.LoadDefault()
	if err != nil {
		t.Fatalf("failed to load default knowledge base: %v", err)
	}
	return k
}

// NewManager creates a conversation manager on the embedded knowledge base with an
// in-memory store and sequential ids. Extra options are applied last.
func NewManager(t *testing.T, opts ...flow.Option) (*flow.Manager, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	base := []flow.Option{flow.WithStore(st), flow.WithIDGenerator(util.SequentialIDs("test"))}
	e, err := flow.NewEngine(LoadKB(t), append(base, opts...)...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return flow.NewManager(e), st
}

// GetenvOrSkip returns the value of key or skips the test when it is unset.
func GetenvOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("%s not set", key)
	}
	return v
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// SeedAssessments stores n completed assessments for userID, oldest first, and returns
// their ids.
func SeedAssessments(t *testing.T, st store.Store, userID string, n int) []string {
	t.Helper()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]string, 0, n)
	for i := range n {
		rec := store.AssessmentRecord{
			ID:             fmt.Sprintf("seed-%s-%d", userID, i+1),
			ConversationID: "seed-conversation",
			UserID:         userID,
			Language:       "en",
			Assessment: triage.Assessment{
				Summary:  "You reported: Cold.",
				Severity: triage.SeverityLow,
				Score:    i,
				Symptoms: []string{"Cold"},
			},
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := st.SaveAssessment(rec); err != nil {
			t.Fatalf("failed to seed assessment: %v", err)
		}
		ids = append(ids, rec.ID)
	}
	return ids
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target any) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
