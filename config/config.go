package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"chatwarden/model"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingToken is returned by RequireToken when BOT_TOKEN is not set.
var ErrMissingToken = errors.New("BOT_TOKEN environment variable not set")

const envPrefix = "CHATWARDEN"

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_path", "data/chatwarden.db")
	v.SetDefault("activity_backend", "sqlite")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("http_addr", "127.0.0.1:8080")
	v.SetDefault("api_token", "")

	v.SetDefault("scheduler.busy_interval", 10*time.Second)
	v.SetDefault("scheduler.idle_interval", 60*time.Second)
	v.SetDefault("scheduler.max_concurrent_scans", 8)
	v.SetDefault("scheduler.closed_memo_ttl", 30*time.Second)
	v.SetDefault("scheduler.cleanup_interval", 10*time.Minute)
	v.SetDefault("scheduler.activity_retention", 24*time.Hour)
	v.SetDefault("scheduler.compensation_timeout", 15*time.Second)

	v.SetDefault("defaults.gif.limit", 5)
	v.SetDefault("defaults.gif.window_seconds", 10)
	v.SetDefault("defaults.sticker.limit", 5)
	v.SetDefault("defaults.sticker.window_seconds", 10)
	v.SetDefault("defaults.text.limit", 4)
	v.SetDefault("defaults.text.window_seconds", 15)
	v.SetDefault("defaults.text.similarity_threshold", 0.9)
	v.SetDefault("defaults.join.limit", 10)
	v.SetDefault("defaults.join.window_seconds", 60)
	v.SetDefault("defaults.spam_mute_seconds", 600)
	v.SetDefault("defaults.default_mute_seconds", 3600)
	v.SetDefault("defaults.default_ban_seconds", 0)
	v.SetDefault("defaults.notify_chat", true)
	v.SetDefault("defaults.notify_user", true)
	v.SetDefault("defaults.raid_action", string(model.RaidActionMute))
}

// Load reads .env, the optional YAML file at path and CHATWARDEN_* environment
// overrides. A missing file is not an error.
func Load(path string) (*model.Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info(".env file not found, relying on environment variables")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if os.IsNotExist(err) {
			slog.Warn("config file not found, using defaults", "path", path)
		} else {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	cfg := &model.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Chats == nil {
		cfg.Chats = make(map[string]model.ChatConfig)
	}
	cfg.BotToken = os.Getenv("BOT_TOKEN")

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireToken fails when the bot token is missing.
func RequireToken(cfg *model.Config) error {
	if cfg.BotToken == "" {
		return ErrMissingToken
	}
	return nil
}

func validate(cfg *model.Config) error {
	switch cfg.ActivityBackend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported activity_backend %q", cfg.ActivityBackend)
	}
	if cfg.Scheduler.MaxConcurrentScans <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_scans must be positive, got %d", cfg.Scheduler.MaxConcurrentScans)
	}
	if cfg.Scheduler.BusyInterval <= 0 || cfg.Scheduler.IdleInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	if cfg.Scheduler.CleanupInterval <= 0 {
		return fmt.Errorf("scheduler.cleanup_interval must be positive, got %s", cfg.Scheduler.CleanupInterval)
	}
	if cfg.Scheduler.CompensationTimeout <= 0 {
		return fmt.Errorf("scheduler.compensation_timeout must be positive, got %s", cfg.Scheduler.CompensationTimeout)
	}
	for id, chat := range cfg.Chats {
		switch chat.RaidAction {
		case "", model.RaidActionNone, model.RaidActionMute, model.RaidActionBan:
		default:
			return fmt.Errorf("chat %s: unsupported raid_action %q", id, chat.RaidAction)
		}
	}
	return nil
}
