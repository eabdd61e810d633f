package ranks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatwarden/model"

	"github.com/jmoiron/sqlx"
)

// Store keeps rank assignments and permission overrides.
type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// GetRank returns the stored rank for a user. ok is false when none is stored.
func (s *Store) GetRank(ctx context.Context, chatID, userID string) (rank model.Rank, ok bool, err error) {
	err = s.db.GetContext(ctx, &rank, `SELECT rank FROM rank_assignments WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rank for user %s in chat %s: %w", userID, chatID, err)
	}
	return rank, true, nil
}

// SetRank upserts a rank assignment.
func (s *Store) SetRank(ctx context.Context, chatID, userID string, rank model.Rank, assignedBy string) error {
	if !rank.Valid() {
		return fmt.Errorf("invalid rank %d", rank)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rank_assignments (chat_id, user_id, rank, assigned_by, assigned_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, user_id) DO UPDATE SET
			rank = excluded.rank,
			assigned_by = excluded.assigned_by,
			assigned_at = excluded.assigned_at`,
		chatID, userID, rank, assignedBy, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set rank for user %s in chat %s: %w", userID, chatID, err)
	}
	return nil
}

// RemoveRank deletes a rank assignment. Removing a missing row is not an error.
func (s *Store) RemoveRank(ctx context.Context, chatID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rank_assignments WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove rank for user %s in chat %s: %w", userID, chatID, err)
	}
	return nil
}

// ListRanks returns all assignments in a chat.
func (s *Store) ListRanks(ctx context.Context, chatID string) ([]model.RankAssignment, error) {
	var out []model.RankAssignment
	err := s.db.SelectContext(ctx, &out,
		`SELECT chat_id, user_id, rank, assigned_by, assigned_at FROM rank_assignments WHERE chat_id = ? ORDER BY rank, user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ranks for chat %s: %w", chatID, err)
	}
	return out, nil
}

// GetOverride returns the explicit setting for a capability. ok is false when
// no override row exists, which is distinct from an explicit false.
func (s *Store) GetOverride(ctx context.Context, chatID string, rank model.Rank, capability model.Capability) (allowed bool, ok bool, err error) {
	err = s.db.GetContext(ctx, &allowed,
		`SELECT allowed FROM permission_overrides WHERE chat_id = ? AND rank = ? AND capability = ?`,
		chatID, rank, capability)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get override %s for rank %d in chat %s: %w", capability, rank, chatID, err)
	}
	return allowed, true, nil
}

// SetOverride upserts an explicit capability setting.
func (s *Store) SetOverride(ctx context.Context, o model.PermissionOverride) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO permission_overrides (chat_id, rank, capability, allowed)
		VALUES (:chat_id, :rank, :capability, :allowed)
		ON CONFLICT(chat_id, rank, capability) DO UPDATE SET allowed = excluded.allowed`, o)
	if err != nil {
		return fmt.Errorf("failed to set override %s for rank %d in chat %s: %w", o.Capability, o.Rank, o.ChatID, err)
	}
	return nil
}

// DeleteOverride removes an override so the default table applies again.
func (s *Store) DeleteOverride(ctx context.Context, chatID string, rank model.Rank, capability model.Capability) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM permission_overrides WHERE chat_id = ? AND rank = ? AND capability = ?`, chatID, rank, capability)
	if err != nil {
		return fmt.Errorf("failed to delete override %s for rank %d in chat %s: %w", capability, rank, chatID, err)
	}
	return nil
}
