// ABOUTME: Turn persistence with the atomic primitives the turn pipeline relies on
// ABOUTME: Claim and finalize are single conditional UPDATEs, never read-then-write

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreatePendingTurn inserts a new pending turn whose buffer holds the first
// message, and sets the turn's ID.
func (s *SQLiteStore) CreatePendingTurn(ctx context.Context, sessionID, message string) (*Turn, error) {
	now := time.Now().UTC()
	buffer := []string{message}
	bufferJSON, err := json.Marshal(buffer)
	if err != nil {
		return nil, fmt.Errorf("encoding message buffer: %w", err)
	}

	query := `
		INSERT INTO turns (session_id, user_message, message_buffer, bot_response, source, status, created_at, updated_at, last_message_at)
		VALUES (?, ?, ?, NULL, '', ?, ?, ?, ?)
	`

	ts := now.Format(time.RFC3339Nano)
	result, err := s.db.ExecContext(ctx, query,
		sessionID,
		message,
		string(bufferJSON),
		TurnStatusPending,
		ts,
		ts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting turn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting insert id: %w", err)
	}

	s.logger.Debug("created pending turn", "turn_id", id, "session_id", sessionID)

	return &Turn{
		ID:            id,
		SessionID:     sessionID,
		UserMessage:   message,
		MessageBuffer: buffer,
		Status:        TurnStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}, nil
}

// AppendToTurn appends a message to a pending turn's buffer, refreshing the
// combined preview text and last_message_at. The append is a single UPDATE
// using SQLite's JSON functions, conditioned on the turn still being pending,
// so concurrent appends both land and a frozen turn is never mutated.
// Returns ErrTurnFrozen if the turn has already left pending.
func (s *SQLiteStore) AppendToTurn(ctx context.Context, id int64, message string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `
		UPDATE turns
		SET message_buffer = json_insert(message_buffer, '$[#]', ?),
		    user_message = user_message || ' ' || ?,
		    last_message_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := s.db.ExecContext(ctx, query, message, message, now, now, id, TurnStatusPending)
	if err != nil {
		return fmt.Errorf("appending to turn: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Either the turn doesn't exist or it is no longer pending
		if _, err := s.GetTurn(ctx, id); err != nil {
			return err
		}
		return ErrTurnFrozen
	}

	s.logger.Debug("appended to turn", "turn_id", id)
	return nil
}

// GetTurn retrieves a turn by ID.
// Returns ErrNotFound if the turn doesn't exist.
func (s *SQLiteStore) GetTurn(ctx context.Context, id int64) (*Turn, error) {
	query := `
		SELECT id, session_id, user_message, message_buffer, bot_response, source, status, created_at, updated_at, last_message_at
		FROM turns
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	turn, err := scanTurn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying turn: %w", err)
	}
	return turn, nil
}

// GetLatestPendingTurn returns the most recent pending turn for a session, or
// ErrNotFound when the session has none. At most one pending turn exists per
// session because turn creation always checks here first.
func (s *SQLiteStore) GetLatestPendingTurn(ctx context.Context, sessionID string) (*Turn, error) {
	query := `
		SELECT id, session_id, user_message, message_buffer, bot_response, source, status, created_at, updated_at, last_message_at
		FROM turns
		WHERE session_id = ? AND status = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, query, sessionID, TurnStatusPending)
	turn, err := scanTurn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying pending turn: %w", err)
	}
	return turn, nil
}

// ClaimTurn transitions a turn from pending to processing with a single
// conditional UPDATE. Exactly one concurrent caller wins; the rest receive
// ErrTurnClaimed and must abort without side effects.
func (s *SQLiteStore) ClaimTurn(ctx context.Context, id int64) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(ctx, `
		UPDATE turns
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, TurnStatusProcessing, now, id, TurnStatusPending)
	if err != nil {
		return fmt.Errorf("claiming turn: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTurnClaimed
	}

	s.logger.Debug("claimed turn", "turn_id", id)
	return nil
}

// FinalizeTurn writes the bot response, source tag and terminal status for a
// turn currently in processing. The update is conditional on the processing
// status so a turn is finalized exactly once.
func (s *SQLiteStore) FinalizeTurn(ctx context.Context, id int64, botResponse, source, status string) error {
	if status != TurnStatusCompleted && status != TurnStatusFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := s.db.ExecContext(ctx, `
		UPDATE turns
		SET bot_response = ?, source = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, botResponse, source, status, now, id, TurnStatusProcessing)
	if err != nil {
		return fmt.Errorf("finalizing turn: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTurnClaimed
	}

	s.logger.Debug("finalized turn", "turn_id", id, "source", source, "status", status)
	return nil
}

// SaveCompletedTurn records a single-shot exchange that never went through the
// buffered pipeline (suggestion-mode interactions). The turn is inserted
// directly in its terminal state.
func (s *SQLiteStore) SaveCompletedTurn(ctx context.Context, sessionID, userMessage, botResponse, source, status string) (int64, error) {
	if status != TurnStatusCompleted && status != TurnStatusFailed {
		return 0, fmt.Errorf("invalid terminal status %q", status)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	bufferJSON, err := json.Marshal([]string{userMessage})
	if err != nil {
		return 0, fmt.Errorf("encoding message buffer: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, user_message, message_buffer, bot_response, source, status, created_at, updated_at, last_message_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, userMessage, string(bufferJSON), botResponse, source, status, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("inserting completed turn: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting insert id: %w", err)
	}

	s.logger.Debug("saved completed turn", "turn_id", id, "source", source)
	return id, nil
}

// ListTurns returns turns ordered by most recent first, for the operator log
// view. If limit is 0 or negative, a default limit of 200 is used.
func (s *SQLiteStore) ListTurns(ctx context.Context, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, session_id, user_message, message_buffer, bot_response, source, status, created_at, updated_at, last_message_at
		FROM turns
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		turn, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning turn row: %w", err)
		}
		turns = append(turns, turn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turn rows: %w", err)
	}
	return turns, nil
}

func scanTurn(scan func(dest ...any) error) (*Turn, error) {
	var turn Turn
	var bufferJSON string
	var botResponse sql.NullString
	var createdAtStr, updatedAtStr, lastMessageAtStr string

	if err := scan(
		&turn.ID,
		&turn.SessionID,
		&turn.UserMessage,
		&bufferJSON,
		&botResponse,
		&turn.Source,
		&turn.Status,
		&createdAtStr,
		&updatedAtStr,
		&lastMessageAtStr,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(bufferJSON), &turn.MessageBuffer); err != nil {
		return nil, fmt.Errorf("decoding message buffer: %w", err)
	}

	if botResponse.Valid {
		turn.BotResponse = &botResponse.String
	}

	var err error
	turn.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	turn.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	turn.LastMessageAt, err = time.Parse(time.RFC3339Nano, lastMessageAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}

	return &turn, nil
}
