package model

import (
	"fmt"
	"time"
)

// Kind is the type of a moderation action.
type Kind string

const (
	KindMute Kind = "mute"
	KindKick Kind = "kick"
	KindBan  Kind = "ban"
	KindWarn Kind = "warn"
)

// ParseKind validates a user supplied kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMute, KindKick, KindBan, KindWarn:
		return k, nil
	default:
		return "", fmt.Errorf("unknown punishment kind %q", s)
	}
}

// Enforced reports whether punishments of this kind stay in force over time.
// Kicks and warnings are point-in-time events and are terminal on creation.
func (k Kind) Enforced() bool {
	return k == KindMute || k == KindBan
}

// CloseReason records why an enforced punishment stopped being active.
type CloseReason string

const (
	CloseNone       CloseReason = ""
	CloseExpired    CloseReason = "expired"
	CloseRevoked    CloseReason = "revoked"
	CloseSuperseded CloseReason = "superseded"
)

// Punishment represents a single row in the punishments table.
// Times are unix seconds; nil DurationSeconds/ExpiryAt mean indefinite.
type Punishment struct {
	ID              int64       `db:"id" json:"id"`
	ChatID          string      `db:"chat_id" json:"chat_id"`
	UserID          string      `db:"user_id" json:"user_id"`
	ModeratorID     string      `db:"moderator_id" json:"moderator_id"`
	Kind            Kind        `db:"kind" json:"kind"`
	Reason          string      `db:"reason" json:"reason"`
	DurationSeconds *int64      `db:"duration_seconds" json:"duration_seconds,omitempty"`
	CreatedAt       int64       `db:"created_at" json:"created_at"`
	ExpiryAt        *int64      `db:"expiry_at" json:"expiry_at,omitempty"`
	IsActive        bool        `db:"is_active" json:"is_active"`
	CloseReason     CloseReason `db:"close_reason" json:"close_reason,omitempty"`
	ClosedAt        *int64      `db:"closed_at" json:"closed_at,omitempty"`
	TargetName      string      `db:"target_name" json:"target_name"`
	ModeratorName   string      `db:"moderator_name" json:"moderator_name"`
}

// Until returns the expiry as a time, or nil for an indefinite punishment.
func (p *Punishment) Until() *time.Time {
	if p.ExpiryAt == nil {
		return nil
	}
	t := time.Unix(*p.ExpiryAt, 0)
	return &t
}

// Due reports whether the punishment is active and its expiry has been reached.
func (p *Punishment) Due(now time.Time) bool {
	return p.IsActive && p.ExpiryAt != nil && now.Unix() >= *p.ExpiryAt
}
