package activity

import (
	"context"
	"fmt"

	"chatwarden/model"

	"github.com/jmoiron/sqlx"
)

// SQLiteStore keeps activity and join events in the main database.
type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// AppendActivity records one activity event.
func (s *SQLiteStore) AppendActivity(ctx context.Context, rec model.ActivityRecord) error {
	query := `INSERT INTO activity_records (chat_id, user_id, activity_type, fingerprint, created_at_ms)
              VALUES (:chat_id, :user_id, :activity_type, :fingerprint, :created_at_ms)`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert activity record: %w", err)
	}
	return nil
}

// ActivitySince returns the events of one type for a user with a timestamp at
// or after sinceMs, oldest first.
func (s *SQLiteStore) ActivitySince(ctx context.Context, chatID, userID string, t model.ActivityType, sinceMs int64) ([]model.ActivityRecord, error) {
	var records []model.ActivityRecord
	query := `SELECT id, chat_id, user_id, activity_type, fingerprint, created_at_ms FROM activity_records
              WHERE chat_id = ? AND user_id = ? AND activity_type = ? AND created_at_ms >= ?
              ORDER BY created_at_ms, id`
	if err := s.db.SelectContext(ctx, &records, query, chatID, userID, t, sinceMs); err != nil {
		return nil, fmt.Errorf("failed to get %s activity for user %s in chat %s: %w", t, userID, chatID, err)
	}
	return records, nil
}

// AppendJoin records one member join.
func (s *SQLiteStore) AppendJoin(ctx context.Context, rec model.JoinRecord) error {
	query := `INSERT INTO join_records (chat_id, user_id, created_at_ms) VALUES (:chat_id, :user_id, :created_at_ms)`
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to insert join record: %w", err)
	}
	return nil
}

// CountJoinsSince counts joins in a chat at or after sinceMs.
func (s *SQLiteStore) CountJoinsSince(ctx context.Context, chatID string, sinceMs int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM join_records WHERE chat_id = ? AND created_at_ms >= ?`, chatID, sinceMs)
	if err != nil {
		return 0, fmt.Errorf("failed to count joins for chat %s: %w", chatID, err)
	}
	return n, nil
}

// PurgeBefore deletes activity and join events older than beforeMs and
// returns how many rows were removed.
func (s *SQLiteStore) PurgeBefore(ctx context.Context, beforeMs int64) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"activity_records", "join_records"} {
		result, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at_ms < ?`, beforeMs)
		if err != nil {
			return 0, fmt.Errorf("failed to purge %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check rows affected for %s: %w", table, err)
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return total, nil
}
