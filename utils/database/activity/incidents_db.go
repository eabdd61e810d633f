package activity

import (
	"context"
	"fmt"

	"chatwarden/model"

	"github.com/jmoiron/sqlx"
)

// IncidentLog is the write-mostly audit trail of raid detections. It always
// lives in SQLite, whichever backend holds the activity windows.
type IncidentLog struct {
	db *sqlx.DB
}

func NewIncidentLog(db *sqlx.DB) *IncidentLog {
	return &IncidentLog{db: db}
}

// LogIncident stores a detection and returns its ID.
func (l *IncidentLog) LogIncident(ctx context.Context, inc model.RaidIncident) (int64, error) {
	query := `INSERT INTO raid_incidents (chat_id, user_id, raid_type, details, created_at_ms)
              VALUES (:chat_id, :user_id, :raid_type, :details, :created_at_ms)`
	result, err := l.db.NamedExecContext(ctx, query, inc)
	if err != nil {
		return 0, fmt.Errorf("failed to insert raid incident: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// ListIncidents returns the latest incidents for a chat, newest first.
func (l *IncidentLog) ListIncidents(ctx context.Context, chatID string, limit int) ([]model.RaidIncident, error) {
	if limit <= 0 {
		limit = 50
	}
	var incidents []model.RaidIncident
	query := `SELECT id, chat_id, user_id, raid_type, details, created_at_ms FROM raid_incidents
              WHERE chat_id = ? ORDER BY created_at_ms DESC, id DESC LIMIT ?`
	if err := l.db.SelectContext(ctx, &incidents, query, chatID, limit); err != nil {
		return nil, fmt.Errorf("failed to list raid incidents for chat %s: %w", chatID, err)
	}
	return incidents, nil
}
