package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"chatwarden/bot"
	"chatwarden/config"
	"chatwarden/model"
	"chatwarden/utils/database"
	"chatwarden/utils/database/activity"

	"github.com/jmoiron/sqlx"
)

// openDatabase creates the data directory if needed and opens the migrated database.
func openDatabase(ctx context.Context, cfg *model.Config) (*sqlx.DB, error) {
	if cfg.DatabasePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), os.ModePerm); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return database.Open(ctx, cfg.DatabasePath)
}

// openActivityStore picks the sliding-window backend. The returned closer is
// never nil.
func openActivityStore(ctx context.Context, cfg *model.Config, db *sqlx.DB, logger *slog.Logger) (bot.ActivityBackend, func() error, error) {
	if cfg.ActivityBackend != "redis" {
		return activity.NewSQLiteStore(db), func() error { return nil }, nil
	}
	store, err := activity.NewRedisStore(ctx, cfg.RedisURL, cfg.Scheduler.ActivityRetention)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using redis activity store", "component", programName)
	return store, store.Close, nil
}

func loadConfig(requireToken bool) (*model.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if requireToken {
		if err := config.RequireToken(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
