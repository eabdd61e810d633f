package model

import "time"

// ActivityType is the category of a tracked chat event.
type ActivityType string

const (
	ActivityGIF     ActivityType = "gif"
	ActivitySticker ActivityType = "sticker"
	ActivityText    ActivityType = "text"
)

// ActivityRecord is one stored activity event. CreatedAtMs is unix milliseconds.
type ActivityRecord struct {
	ID           int64        `db:"id"`
	ChatID       string       `db:"chat_id"`
	UserID       string       `db:"user_id"`
	ActivityType ActivityType `db:"activity_type"`
	Fingerprint  string       `db:"fingerprint"`
	CreatedAtMs  int64        `db:"created_at_ms"`
}

// JoinRecord is one member-join event, scoped to the chat.
type JoinRecord struct {
	ID          int64  `db:"id"`
	ChatID      string `db:"chat_id"`
	UserID      string `db:"user_id"`
	CreatedAtMs int64  `db:"created_at_ms"`
}

// ActivityEvent is an inbound event handed to the raid detector.
// Content holds the message text for text events and the platform
// content-identity token (file id) for gif and sticker events.
type ActivityEvent struct {
	ChatID  string
	UserID  string
	Type    ActivityType
	Content string
	At      time.Time
}

// JoinEvent is an inbound member-join handed to the raid detector.
type JoinEvent struct {
	ChatID string
	UserID string
	At     time.Time
}

// RaidType classifies a detection.
type RaidType string

const (
	RaidGIFSpam       RaidType = "gif_spam"
	RaidStickerSpam   RaidType = "sticker_spam"
	RaidDuplicateText RaidType = "duplicate_text"
	RaidMassJoin      RaidType = "mass_join"
)

// RaidTypeFor maps an activity type to the raid type it triggers.
func RaidTypeFor(t ActivityType) RaidType {
	switch t {
	case ActivityGIF:
		return RaidGIFSpam
	case ActivitySticker:
		return RaidStickerSpam
	default:
		return RaidDuplicateText
	}
}

// RaidIncident is the audit record of a detection. UserID is empty for
// chat-wide detections.
type RaidIncident struct {
	ID          int64    `db:"id" json:"id"`
	ChatID      string   `db:"chat_id" json:"chat_id"`
	UserID      string   `db:"user_id" json:"user_id,omitempty"`
	RaidType    RaidType `db:"raid_type" json:"raid_type"`
	Details     string   `db:"details" json:"details"`
	CreatedAtMs int64    `db:"created_at_ms" json:"created_at_ms"`
}
