package punishments

import (
	"github.com/jmoiron/sqlx"
)

// Store persists punishments. All closing transitions are conditional
// updates guarded by is_active = 1, so a row closes at most once.
type Store struct {
	db *sqlx.DB
}

// New wraps an already migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const columns = `id, chat_id, user_id, moderator_id, kind, reason, duration_seconds, created_at,
	expiry_at, is_active, close_reason, closed_at, target_name, moderator_name`
