package punishments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatwarden/model"
)

const insertQuery = `INSERT INTO punishments (chat_id, user_id, moderator_id, kind, reason, duration_seconds, created_at,
		expiry_at, is_active, close_reason, closed_at, target_name, moderator_name)
	VALUES (:chat_id, :user_id, :moderator_id, :kind, :reason, :duration_seconds, :created_at,
		:expiry_at, :is_active, :close_reason, :closed_at, :target_name, :moderator_name)`

// Insert adds a punishment record and returns its ID. For enforced kinds the
// caller should use ReplaceActive instead so the prior active row is closed.
func (s *Store) Insert(ctx context.Context, p model.Punishment) (int64, error) {
	result, err := s.db.NamedExecContext(ctx, insertQuery, p)
	if err != nil {
		return 0, fmt.Errorf("failed to insert punishment record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// ReplaceActive closes any active punishment of the same kind for the same
// user as superseded and inserts p, in one transaction. It returns the new ID
// and the IDs of the superseded rows.
func (s *Store) ReplaceActive(ctx context.Context, p model.Punishment, closedAt int64) (int64, []int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var superseded []int64
	err = tx.SelectContext(ctx, &superseded,
		`SELECT id FROM punishments WHERE chat_id = ? AND user_id = ? AND kind = ? AND is_active = 1`,
		p.ChatID, p.UserID, p.Kind)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to find active %s for user %s in chat %s: %w", p.Kind, p.UserID, p.ChatID, err)
	}

	for _, id := range superseded {
		_, err := tx.ExecContext(ctx,
			`UPDATE punishments SET is_active = 0, close_reason = ?, closed_at = ? WHERE id = ? AND is_active = 1`,
			model.CloseSuperseded, closedAt, id)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to supersede punishment %d: %w", id, err)
		}
	}

	result, err := tx.NamedExecContext(ctx, insertQuery, p)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to insert punishment record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit punishment record: %w", err)
	}
	return id, superseded, nil
}

// GetByID retrieves a single punishment by its primary key. It returns nil
// when no such row exists.
func (s *Store) GetByID(ctx context.Context, id int64) (*model.Punishment, error) {
	var p model.Punishment
	err := s.db.GetContext(ctx, &p, `SELECT `+columns+` FROM punishments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get punishment record by id %d: %w", id, err)
	}
	return &p, nil
}

// GetActive returns the active punishment of kind for a user, or nil.
func (s *Store) GetActive(ctx context.Context, chatID, userID string, kind model.Kind) (*model.Punishment, error) {
	var p model.Punishment
	err := s.db.GetContext(ctx, &p,
		`SELECT `+columns+` FROM punishments
		 WHERE chat_id = ? AND user_id = ? AND kind = ? AND is_active = 1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		chatID, userID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active %s for user %s in chat %s: %w", kind, userID, chatID, err)
	}
	return &p, nil
}

// ListActiveByUser returns every active punishment for a user in a chat.
func (s *Store) ListActiveByUser(ctx context.Context, chatID, userID string) ([]model.Punishment, error) {
	var records []model.Punishment
	err := s.db.SelectContext(ctx, &records,
		`SELECT `+columns+` FROM punishments WHERE chat_id = ? AND user_id = ? AND is_active = 1 ORDER BY created_at DESC`,
		chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active punishments for user %s in chat %s: %w", userID, chatID, err)
	}
	return records, nil
}

// ListActiveByChat returns the active punishments of kind in a chat.
func (s *Store) ListActiveByChat(ctx context.Context, chatID string, kind model.Kind) ([]model.Punishment, error) {
	var records []model.Punishment
	err := s.db.SelectContext(ctx, &records,
		`SELECT `+columns+` FROM punishments WHERE chat_id = ? AND kind = ? AND is_active = 1 ORDER BY expiry_at`,
		chatID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to get active %s punishments for chat %s: %w", kind, chatID, err)
	}
	return records, nil
}

// ListChatsWithActive returns the chats that have at least one active
// punishment of kind.
func (s *Store) ListChatsWithActive(ctx context.Context, kind model.Kind) ([]string, error) {
	var chats []string
	err := s.db.SelectContext(ctx, &chats,
		`SELECT DISTINCT chat_id FROM punishments WHERE kind = ? AND is_active = 1`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats with active %s punishments: %w", kind, err)
	}
	return chats, nil
}

// History returns the most recent punishments for a user in a chat.
func (s *Store) History(ctx context.Context, chatID, userID string, limit int) ([]model.Punishment, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []model.Punishment
	err := s.db.SelectContext(ctx, &records,
		`SELECT `+columns+` FROM punishments WHERE chat_id = ? AND user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get punishment history for user %s in chat %s: %w", userID, chatID, err)
	}
	return records, nil
}

// CloseIfActive is the conditional update every closing transition goes
// through. It reports whether this call moved the row out of the active state.
func (s *Store) CloseIfActive(ctx context.Context, id int64, reason model.CloseReason, closedAt int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE punishments SET is_active = 0, close_reason = ?, closed_at = ? WHERE id = ? AND is_active = 1`,
		reason, closedAt, id)
	if err != nil {
		return false, fmt.Errorf("failed to close punishment %d: %w", id, err)
	}
	return affected(result, id)
}

// CloseActive closes the user's active punishment of kind, whichever row that
// is at the time of the update. false means nothing was active.
func (s *Store) CloseActive(ctx context.Context, chatID, userID string, kind model.Kind, reason model.CloseReason, closedAt int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE punishments SET is_active = 0, close_reason = ?, closed_at = ?
		WHERE chat_id = ? AND user_id = ? AND kind = ? AND is_active = 1`,
		reason, closedAt, chatID, userID, kind)
	if err != nil {
		return false, fmt.Errorf("failed to close active %s for user %s in chat %s: %w", kind, userID, chatID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected for user %s in chat %s: %w", userID, chatID, err)
	}
	return rowsAffected == 1, nil
}

// CloseIfExpired closes the punishment as expired only when it is active and
// its expiry is at or before now.
func (s *Store) CloseIfExpired(ctx context.Context, id int64, now int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE punishments SET is_active = 0, close_reason = ?, closed_at = ?
		 WHERE id = ? AND is_active = 1 AND expiry_at IS NOT NULL AND expiry_at <= ?`,
		model.CloseExpired, now, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire punishment %d: %w", id, err)
	}
	return affected(result, id)
}

func affected(result sql.Result, id int64) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected for punishment %d: %w", id, err)
	}
	return rowsAffected == 1, nil
}
