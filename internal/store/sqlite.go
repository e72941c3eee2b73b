// Package store provides storage backends for HealBee.
//
// This file implements an SQLite-backed store for assessments, profiles and chat logs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/healbee/healbee/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	sqlConversations
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{sqlConversations: sqlConversations{db: db, backend: "SQLiteStore", numbered: false}, db: db}, nil
}

// SaveAssessment inserts or replaces an assessment record.
func (s *SQLiteStore) SaveAssessment(r AssessmentRecord) error {
	assessmentJSON, transcriptJSON, err := encodeRecord(r)
	if err != nil {
		slog.Error("SQLiteStore SaveAssessment encode failed", "error", err, "id", r.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO assessments
		(id, conversation_id, user_id, language, severity, score, assessment_json, transcript_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ConversationID, nilIfEmpty(r.UserID), r.Language, string(r.Assessment.Severity), r.Assessment.Score,
		assessmentJSON, transcriptJSON, r.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveAssessment failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert assessment %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore SaveAssessment succeeded", "id", r.ID, "conversationID", r.ConversationID, "severity", r.Assessment.Severity)
	return nil
}

// GetAssessment returns the record with the given id or ErrNotFound.
func (s *SQLiteStore) GetAssessment(id string) (*AssessmentRecord, error) {
	row := s.db.QueryRow(`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetAssessment not found", "id", id)
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetAssessment failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get assessment %s: %w", id, err)
	}
	return &r, nil
}

// ListAssessments returns the newest assessments of userID first.
func (s *SQLiteStore) ListAssessments(userID string, limit int) ([]AssessmentRecord, error) {
	rows, err := s.db.Query(`SELECT `+assessmentColumns+` FROM assessments
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, listLimit(limit))
	if err != nil {
		slog.Error("SQLiteStore ListAssessments query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		slog.Error("SQLiteStore ListAssessments scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("SQLiteStore ListAssessments succeeded", "userID", userID, "count", len(out))
	return out, nil
}

// SaveProfile inserts or replaces the profile of userID.
func (s *SQLiteStore) SaveProfile(userID string, p models.Profile) error {
	data, err := encodeProfile(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO user_profiles (user_id, profile_json, updated_at) VALUES (?, ?, ?)`,
		userID, data, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save profile for %s: %w", userID, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "userID", userID)
	return nil
}

// GetProfile returns the profile of userID or ErrNotFound.
func (s *SQLiteStore) GetProfile(userID string) (*models.Profile, error) {
	var data string
	err := s.db.QueryRow(`SELECT profile_json FROM user_profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetProfile not found", "userID", userID)
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", userID, err)
	}
	return decodeProfile(data)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
