package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// sqlConversations implements ConversationStore for both SQL backends. Queries are
// written with "?" placeholders and rebound for drivers that number them.
type sqlConversations struct {
	db       *sql.DB
	backend  string
	numbered bool
}

func (s sqlConversations) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s sqlConversations) SaveConversation(c ConversationRecord) error {
	if c.ID == "" {
		return errors.New("conversation id is required")
	}
	_, err := s.db.Exec(s.q(`INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			language = excluded.language,
			updated_at = excluded.updated_at`),
		c.ID, nilIfEmpty(c.UserID), c.Title, c.Language, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		slog.Error(s.backend+" SaveConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to save conversation %s: %w", c.ID, err)
	}
	slog.Debug(s.backend+" SaveConversation succeeded", "conversationID", c.ID)
	return nil
}

func (s sqlConversations) GetConversation(id string) (*ConversationRecord, error) {
	c, err := scanConversation(s.db.QueryRow(s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error(s.backend+" GetConversation failed", "error", err, "conversationID", id)
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &c, nil
}

func (s sqlConversations) ListConversations(userID string, limit int) ([]ConversationRecord, error) {
	rows, err := s.db.Query(s.q(`SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = ? ORDER BY updated_at DESC, id LIMIT ?`), userID, listLimit(limit))
	if err != nil {
		slog.Error(s.backend+" ListConversations query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

func (s sqlConversations) UpdateConversationTitle(id, title string) error {
	res, err := s.db.Exec(s.q(`UPDATE conversations SET title = ? WHERE id = ?`), title, id)
	if err != nil {
		slog.Error(s.backend+" UpdateConversationTitle failed", "error", err, "conversationID", id)
		return fmt.Errorf("failed to update title of %s: %w", id, err)
	}
	return requireAffected(res)
}

func (s sqlConversations) AppendMessages(conversationID string, msgs ...MessageRecord) error {
	if err := validateMessages(conversationID, msgs); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?`), messageTime(msgs).UTC(), conversationID)
	if err != nil {
		return fmt.Errorf("failed to touch conversation %s: %w", conversationID, err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	for _, m := range msgs {
		at := m.CreatedAt
		if at.IsZero() {
			at = messageTime(nil)
		}
		if _, err := tx.Exec(s.q(`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`),
			conversationID, m.Role, m.Content, at.UTC()); err != nil {
			slog.Error(s.backend+" AppendMessages insert failed", "error", err, "conversationID", conversationID)
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	slog.Debug(s.backend+" AppendMessages succeeded", "conversationID", conversationID, "count", len(msgs))
	return nil
}

func (s sqlConversations) ListMessages(conversationID string, limit int) ([]MessageRecord, error) {
	if _, err := s.GetConversation(conversationID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(s.q(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`), conversationID, messageLimit(limit))
	if err != nil {
		slog.Error(s.backend+" ListMessages query failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
