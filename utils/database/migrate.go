package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Migration is one schema step. Versions are applied in ascending order and
// each one exactly once.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations is the ordered schema history. Append only; never edit a
// released entry.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create punishments",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS punishments (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				moderator_id TEXT NOT NULL,
				kind TEXT NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				duration_seconds INTEGER,
				created_at INTEGER NOT NULL,
				expiry_at INTEGER,
				is_active INTEGER NOT NULL DEFAULT 0,
				target_name TEXT NOT NULL DEFAULT '',
				moderator_name TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_punishments_scan ON punishments (kind, is_active, chat_id)`,
			`CREATE INDEX IF NOT EXISTS idx_punishments_target ON punishments (chat_id, user_id)`,
		},
	},
	{
		Version: 2,
		Name:    "punishment close audit",
		Statements: []string{
			`ALTER TABLE punishments ADD COLUMN close_reason TEXT NOT NULL DEFAULT ''`,
			`ALTER TABLE punishments ADD COLUMN closed_at INTEGER`,
		},
	},
	{
		Version: 3,
		Name:    "one active mute or ban per user",
		Statements: []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_punishments_one_active
				ON punishments (chat_id, user_id, kind)
				WHERE is_active = 1 AND kind IN ('mute', 'ban')`,
		},
	},
	{
		Version: 4,
		Name:    "ranks and permission overrides",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS rank_assignments (
				chat_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				rank INTEGER NOT NULL CHECK (rank BETWEEN 1 AND 5),
				assigned_by TEXT NOT NULL DEFAULT '',
				assigned_at INTEGER NOT NULL,
				PRIMARY KEY (chat_id, user_id)
			)`,
			`CREATE TABLE IF NOT EXISTS permission_overrides (
				chat_id TEXT NOT NULL,
				rank INTEGER NOT NULL,
				capability TEXT NOT NULL,
				allowed INTEGER NOT NULL,
				PRIMARY KEY (chat_id, rank, capability)
			)`,
		},
	},
	{
		Version: 5,
		Name:    "activity, joins and raid incidents",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS activity_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				activity_type TEXT NOT NULL,
				fingerprint TEXT NOT NULL,
				created_at_ms INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_activity_window
				ON activity_records (chat_id, user_id, activity_type, created_at_ms)`,
			`CREATE TABLE IF NOT EXISTS join_records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				created_at_ms INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_join_window ON join_records (chat_id, created_at_ms)`,
			`CREATE TABLE IF NOT EXISTS raid_incidents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				chat_id TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				raid_type TEXT NOT NULL,
				details TEXT NOT NULL DEFAULT '',
				created_at_ms INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_raid_incidents_chat ON raid_incidents (chat_id, created_at_ms)`,
		},
	},
}

// Migrate applies every migration newer than the recorded schema version.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		slog.Info("applied migration", "version", m.Version, "name", m.Name)
	}
	return nil
}

func apply(ctx context.Context, db *sqlx.DB, m Migration) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.Statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Name, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration version.
func SchemaVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var v int
	if err := db.GetContext(ctx, &v, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}
