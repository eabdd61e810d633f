package model

import "time"

// ActivityLimit is a sliding-window threshold for one activity type.
// A non-positive Limit disables detection for that type.
type ActivityLimit struct {
	Limit         int `mapstructure:"limit" json:"limit"`
	WindowSeconds int `mapstructure:"window_seconds" json:"window_seconds"`
}

// Window returns the trailing window as a duration.
func (l ActivityLimit) Window() time.Duration {
	return time.Duration(l.WindowSeconds) * time.Second
}

// Enabled reports whether the limit is configured.
func (l ActivityLimit) Enabled() bool {
	return l.Limit > 0 && l.WindowSeconds > 0
}

func (l ActivityLimit) merge(base ActivityLimit) ActivityLimit {
	if l.Limit == 0 {
		l.Limit = base.Limit
	}
	if l.WindowSeconds == 0 {
		l.WindowSeconds = base.WindowSeconds
	}
	return l
}

// TextLimit extends ActivityLimit for duplicate text detection.
type TextLimit struct {
	ActivityLimit `mapstructure:",squash"`
	// SimilarityThreshold is accepted for compatibility with existing
	// configuration files. Detection compares exact fingerprints only and
	// never reads this value.
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
}

// RaidAction is what the bot does automatically when a user trips a detector.
type RaidAction string

const (
	RaidActionNone RaidAction = "none"
	RaidActionMute RaidAction = "mute"
	RaidActionBan  RaidAction = "ban"
)

// ChatConfig holds the per-chat tunables. Zero values in a chat override
// inherit from the defaults, so "off" is spelled with a negative number: a
// limit of -1 disables that detector and a negative *_seconds means
// indefinite. NotifyChat/NotifyUser use pointers so that an explicit false can
// be told apart from "not set".
type ChatConfig struct {
	GIF                ActivityLimit `mapstructure:"gif" json:"gif"`
	Sticker            ActivityLimit `mapstructure:"sticker" json:"sticker"`
	Text               TextLimit     `mapstructure:"text" json:"text"`
	Join               ActivityLimit `mapstructure:"join" json:"join"`
	SpamMuteSeconds    int64         `mapstructure:"spam_mute_seconds" json:"spam_mute_seconds"`
	DefaultMuteSeconds int64         `mapstructure:"default_mute_seconds" json:"default_mute_seconds"`
	DefaultBanSeconds  int64         `mapstructure:"default_ban_seconds" json:"default_ban_seconds"`
	NotifyChat         *bool         `mapstructure:"notify_chat" json:"notify_chat,omitempty"`
	NotifyUser         *bool         `mapstructure:"notify_user" json:"notify_user,omitempty"`
	LogChannelID       string        `mapstructure:"log_channel_id" json:"log_channel_id"`
	MuteRoleID         string        `mapstructure:"mute_role_id" json:"mute_role_id"`
	RaidAction         RaidAction    `mapstructure:"raid_action" json:"raid_action"`
}

// LimitFor returns the configured limit for an activity type.
func (c ChatConfig) LimitFor(t ActivityType) ActivityLimit {
	switch t {
	case ActivityGIF:
		return c.GIF
	case ActivitySticker:
		return c.Sticker
	default:
		return c.Text.ActivityLimit
	}
}

// ShouldNotifyChat defaults to true.
func (c ChatConfig) ShouldNotifyChat() bool {
	return c.NotifyChat == nil || *c.NotifyChat
}

// ShouldNotifyUser defaults to true.
func (c ChatConfig) ShouldNotifyUser() bool {
	return c.NotifyUser == nil || *c.NotifyUser
}

// Merge returns c with every unset field taken from base.
func (c ChatConfig) Merge(base ChatConfig) ChatConfig {
	out := c
	out.GIF = out.GIF.merge(base.GIF)
	out.Sticker = out.Sticker.merge(base.Sticker)
	out.Text.ActivityLimit = out.Text.ActivityLimit.merge(base.Text.ActivityLimit)
	if out.Text.SimilarityThreshold == 0 {
		out.Text.SimilarityThreshold = base.Text.SimilarityThreshold
	}
	out.Join = out.Join.merge(base.Join)
	if out.SpamMuteSeconds == 0 {
		out.SpamMuteSeconds = base.SpamMuteSeconds
	}
	if out.DefaultMuteSeconds == 0 {
		out.DefaultMuteSeconds = base.DefaultMuteSeconds
	}
	if out.DefaultBanSeconds == 0 {
		out.DefaultBanSeconds = base.DefaultBanSeconds
	}
	if out.NotifyChat == nil {
		out.NotifyChat = base.NotifyChat
	}
	if out.NotifyUser == nil {
		out.NotifyUser = base.NotifyUser
	}
	if out.LogChannelID == "" {
		out.LogChannelID = base.LogChannelID
	}
	if out.MuteRoleID == "" {
		out.MuteRoleID = base.MuteRoleID
	}
	if out.RaidAction == "" {
		out.RaidAction = base.RaidAction
	}
	return out
}

// SchedulerConfig tunes the background loops.
type SchedulerConfig struct {
	BusyInterval        time.Duration `mapstructure:"busy_interval"`
	IdleInterval        time.Duration `mapstructure:"idle_interval"`
	MaxConcurrentScans  int64         `mapstructure:"max_concurrent_scans"`
	ClosedMemoTTL       time.Duration `mapstructure:"closed_memo_ttl"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	ActivityRetention   time.Duration `mapstructure:"activity_retention"`
	CompensationTimeout time.Duration `mapstructure:"compensation_timeout"`
}

// Config is the application configuration.
type Config struct {
	BotToken        string                `mapstructure:"-"`
	DatabasePath    string                `mapstructure:"database_path"`
	ActivityBackend string                `mapstructure:"activity_backend"`
	RedisURL        string                `mapstructure:"redis_url"`
	HTTPAddr        string                `mapstructure:"http_addr"`
	APIToken        string                `mapstructure:"api_token"`
	Scheduler       SchedulerConfig       `mapstructure:"scheduler"`
	Defaults        ChatConfig            `mapstructure:"defaults"`
	Chats           map[string]ChatConfig `mapstructure:"chats"`
}

// Chat returns the effective configuration for a chat.
func (c *Config) Chat(chatID string) ChatConfig {
	if override, ok := c.Chats[chatID]; ok {
		return override.Merge(c.Defaults)
	}
	return c.Defaults
}
