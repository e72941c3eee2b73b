// Package store provides storage backends for HealBee.
//
// This file implements a PostgreSQL-backed store for assessments, profiles and chat logs.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/healbee/healbee/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	sqlConversations
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	// Run migrations to ensure tables exist
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{sqlConversations: sqlConversations{db: db, backend: "PostgresStore", numbered: true}, db: db}, nil
}

// SaveAssessment inserts an assessment record, replacing one with the same id.
func (s *PostgresStore) SaveAssessment(r AssessmentRecord) error {
	assessmentJSON, transcriptJSON, err := encodeRecord(r)
	if err != nil {
		slog.Error("PostgresStore SaveAssessment encode failed", "error", err, "id", r.ID)
		return err
	}
	_, err = s.db.Exec(`INSERT INTO assessments
		(id, conversation_id, user_id, language, severity, score, assessment_json, transcript_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			user_id = EXCLUDED.user_id,
			language = EXCLUDED.language,
			severity = EXCLUDED.severity,
			score = EXCLUDED.score,
			assessment_json = EXCLUDED.assessment_json,
			transcript_json = EXCLUDED.transcript_json,
			created_at = EXCLUDED.created_at`,
		r.ID, r.ConversationID, nilIfEmpty(r.UserID), r.Language, string(r.Assessment.Severity), r.Assessment.Score,
		assessmentJSON, transcriptJSON, r.CreatedAt.UTC())
	if err != nil {
		slog.Error("PostgresStore SaveAssessment failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert assessment %s: %w", r.ID, err)
	}
	slog.Debug("PostgresStore SaveAssessment succeeded", "id", r.ID, "conversationID", r.ConversationID, "severity", r.Assessment.Severity)
	return nil
}

// GetAssessment returns the record with the given id or ErrNotFound.
func (s *PostgresStore) GetAssessment(id string) (*AssessmentRecord, error) {
	row := s.db.QueryRow(`SELECT `+assessmentColumns+` FROM assessments WHERE id = $1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetAssessment not found", "id", id)
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetAssessment failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get assessment %s: %w", id, err)
	}
	return &r, nil
}

// ListAssessments returns the newest assessments of userID first.
func (s *PostgresStore) ListAssessments(userID string, limit int) ([]AssessmentRecord, error) {
	rows, err := s.db.Query(`SELECT `+assessmentColumns+` FROM assessments
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, listLimit(limit))
	if err != nil {
		slog.Error("PostgresStore ListAssessments query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()

	out, err := scanRecords(rows)
	if err != nil {
		slog.Error("PostgresStore ListAssessments scan failed", "error", err, "userID", userID)
		return nil, err
	}
	slog.Debug("PostgresStore ListAssessments succeeded", "userID", userID, "count", len(out))
	return out, nil
}

// SaveProfile upserts the profile of userID.
func (s *PostgresStore) SaveProfile(userID string, p models.Profile) error {
	data, err := encodeProfile(p)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO user_profiles (user_id, profile_json, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET profile_json = EXCLUDED.profile_json, updated_at = EXCLUDED.updated_at`,
		userID, data, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save profile for %s: %w", userID, err)
	}
	slog.Debug("PostgresStore SaveProfile succeeded", "userID", userID)
	return nil
}

// GetProfile returns the profile of userID or ErrNotFound.
func (s *PostgresStore) GetProfile(userID string) (*models.Profile, error) {
	var data string
	err := s.db.QueryRow(`SELECT profile_json FROM user_profiles WHERE user_id = $1`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetProfile not found", "userID", userID)
		return nil, ErrNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get profile for %s: %w", userID, err)
	}
	return decodeProfile(data)
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	} else {
		slog.Debug("Postgres database connection closed successfully")
	}
	return err
}
