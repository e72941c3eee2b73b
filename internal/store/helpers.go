package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/healbee/healbee/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// listLimit applies DefaultListLimit to non-positive limits.
func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// encodeRecord marshals the JSON columns of an assessment record.
func encodeRecord(r AssessmentRecord) (assessmentJSON, transcriptJSON string, err error) {
	a, err := json.Marshal(r.Assessment)
	if err != nil {
		return "", "", fmt.Errorf("marshal assessment %s: %w", r.ID, err)
	}
	t, err := json.Marshal(r.Transcript)
	if err != nil {
		return "", "", fmt.Errorf("marshal transcript %s: %w", r.ID, err)
	}
	return string(a), string(t), nil
}

// scanRecord reads one assessments row in assessmentColumns order.
func scanRecord(row rowScanner) (AssessmentRecord, error) {
	var r AssessmentRecord
	var userID sql.NullString
	var assessmentJSON, transcriptJSON string
	if err := row.Scan(&r.ID, &r.ConversationID, &userID, &r.Language, &assessmentJSON, &transcriptJSON, &r.CreatedAt); err != nil {
		return r, err
	}
	r.UserID = userID.String
	if err := json.Unmarshal([]byte(assessmentJSON), &r.Assessment); err != nil {
		return r, fmt.Errorf("unmarshal assessment %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &r.Transcript); err != nil {
		return r, fmt.Errorf("unmarshal transcript %s: %w", r.ID, err)
	}
	return r, nil
}

// scanRecords drains rows into records.
func scanRecords(rows *sql.Rows) ([]AssessmentRecord, error) {
	var out []AssessmentRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate assessment rows: %w", err)
	}
	return out, nil
}

func decodeProfile(data string) (*models.Profile, error) {
	var p models.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	return &p, nil
}

const assessmentColumns = `id, conversation_id, user_id, language, assessment_json, transcript_json, created_at`

func encodeProfile(p models.Profile) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	return string(data), nil
}

const (
	conversationColumns = `id, user_id, title, language, created_at, updated_at`
	messageColumns      = `id, conversation_id, role, content, created_at`
)

// scanConversation reads one conversations row in conversationColumns order.
func scanConversation(row rowScanner) (ConversationRecord, error) {
	var c ConversationRecord
	var userID sql.NullString
	if err := row.Scan(&c.ID, &userID, &c.Title, &c.Language, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	c.UserID = userID.String
	return c, nil
}

// scanConversations drains rows into conversation headers.
func scanConversations(rows *sql.Rows) ([]ConversationRecord, error) {
	var out []ConversationRecord
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return out, nil
}

// scanMessages drains rows into messages in messageColumns order.
func scanMessages(rows *sql.Rows) ([]MessageRecord, error) {
	var out []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return out, nil
}

// requireAffected maps an update that touched no rows to ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
