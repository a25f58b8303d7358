// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/faceattend/models"
)

// DefaultHistoryLimit applies when History is called with limit <= 0
const DefaultHistoryLimit = 20

var ErrMissingField = errors.New("attempt is missing a required field")

// Journal records attendance attempts so stale tokens and finalized
// sessions are remembered across runs.
type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// Record stores an attempt, assigning its ID and timestamp when unset.
func (j *Journal) Record(ctx context.Context, a models.Attempt) (models.Attempt, error) {
	if a.UserID == "" || a.SessionID == "" || a.Outcome == "" {
		return a, ErrMissingField
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.CreatedAt = a.CreatedAt.UTC()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO attempt (id, user_id, session_id, qr_token, outcome, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.UserID, a.SessionID, a.QRToken, a.Outcome, a.Message, a.CreatedAt)
	if err != nil {
		return a, fmt.Errorf("failed to record attempt: %w", err)
	}
	return a, nil
}

// IsStale reports whether the backend already said this token expired.
func (j *Journal) IsStale(ctx context.Context, sessionID, qrToken string) (bool, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attempt
		WHERE session_id = $1 AND qr_token = $2 AND outcome = $3
	`, sessionID, qrToken, models.OutcomeExpired).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check token: %w", err)
	}
	return n > 0, nil
}

// MarkFinalized remembers that a session no longer accepts marks.
func (j *Journal) MarkFinalized(ctx context.Context, sessionID string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO finalized_session (session_id, finalized_at)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark session finalized: %w", err)
	}
	return nil
}

func (j *Journal) IsFinalized(ctx context.Context, sessionID string) (bool, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM finalized_session WHERE session_id = $1
	`, sessionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return n > 0, nil
}

// History returns a user's most recent attempts, newest first.
func (j *Journal) History(ctx context.Context, userID string, limit int) ([]models.Attempt, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, qr_token, outcome, message, created_at
		FROM attempt
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	attempts := []models.Attempt{}
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &a.QRToken, &a.Outcome, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return attempts, nil
}
