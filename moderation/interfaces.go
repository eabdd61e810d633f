package moderation

import (
	"context"
	"time"

	"chatwarden/model"
)

// ChatMembershipOracle answers questions the platform owns. Errors are
// treated as "not creator" by the RankResolver.
type ChatMembershipOracle interface {
	IsCreator(ctx context.Context, chatID, userID string) (bool, error)
}

// RestrictionEnforcer applies the platform side of mutes and bans. A nil
// until means indefinite.
type RestrictionEnforcer interface {
	Restrict(ctx context.Context, chatID, userID string, until *time.Time) error
	LiftRestriction(ctx context.Context, chatID, userID string) error
	Exclude(ctx context.Context, chatID, userID string, until *time.Time) error
	UnExclude(ctx context.Context, chatID, userID string) error
}

// NotificationSink delivers best-effort messages. Callers log and swallow
// its errors.
type NotificationSink interface {
	NotifyChat(ctx context.Context, chatID, text string) error
	NotifyUser(ctx context.Context, userID, text string) error
}

// RankStore is the read side of stored rank assignments.
type RankStore interface {
	GetRank(ctx context.Context, chatID, userID string) (model.Rank, bool, error)
}

// OverrideStore is the read side of stored permission overrides.
type OverrideStore interface {
	GetOverride(ctx context.Context, chatID string, rank model.Rank, capability model.Capability) (allowed bool, ok bool, err error)
}

// PunishmentStore is what the lifecycle manager needs from persistence.
// CloseIfActive and CloseIfExpired are conditional updates that report
// whether this call performed the transition.
type PunishmentStore interface {
	Insert(ctx context.Context, p model.Punishment) (int64, error)
	ReplaceActive(ctx context.Context, p model.Punishment, closedAt int64) (int64, []int64, error)
	GetByID(ctx context.Context, id int64) (*model.Punishment, error)
	GetActive(ctx context.Context, chatID, userID string, kind model.Kind) (*model.Punishment, error)
	ListActiveByUser(ctx context.Context, chatID, userID string) ([]model.Punishment, error)
	ListActiveByChat(ctx context.Context, chatID string, kind model.Kind) ([]model.Punishment, error)
	ListChatsWithActive(ctx context.Context, kind model.Kind) ([]string, error)
	History(ctx context.Context, chatID, userID string, limit int) ([]model.Punishment, error)
	CloseIfActive(ctx context.Context, id int64, reason model.CloseReason, closedAt int64) (bool, error)
	CloseActive(ctx context.Context, chatID, userID string, kind model.Kind, reason model.CloseReason, closedAt int64) (bool, error)
	CloseIfExpired(ctx context.Context, id int64, now int64) (bool, error)
}
