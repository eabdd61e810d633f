package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatwarden/model"
)

// Actions runs the moderation flows: it authorises the moderator, records
// the state change through the Manager and then drives the platform. Platform
// failures after the state change are returned as *ExternalAPIError alongside
// the committed punishment.
type Actions struct {
	manager  *Manager
	ranks    *RankResolver
	perms    *PermissionChecker
	enforcer RestrictionEnforcer
	sink     NotificationSink
	config   func(chatID string) model.ChatConfig
	log      *slog.Logger
}

func NewActions(manager *Manager, ranks *RankResolver, perms *PermissionChecker, enforcer RestrictionEnforcer, sink NotificationSink, config func(chatID string) model.ChatConfig, logger *slog.Logger) *Actions {
	if logger == nil {
		logger = slog.Default()
	}
	return &Actions{
		manager:  manager,
		ranks:    ranks,
		perms:    perms,
		enforcer: enforcer,
		sink:     sink,
		config:   config,
		log:      logger.With("component", "actions"),
	}
}

func (a *Actions) Manager() *Manager {
	return a.manager
}

// Authorize checks that moderatorID holds capability in the chat and
// strictly outranks targetID.
func (a *Actions) Authorize(ctx context.Context, chatID, moderatorID, targetID string, capability model.Capability) error {
	if moderatorID == targetID {
		return ErrHierarchy
	}
	modRank, err := a.Require(ctx, chatID, moderatorID, capability)
	if err != nil {
		return err
	}
	targetRank, err := a.ranks.EffectiveRank(ctx, chatID, targetID)
	if err != nil {
		return err
	}
	if modRank >= targetRank {
		return ErrHierarchy
	}
	return nil
}

// Require checks that moderatorID holds capability in the chat and returns
// the moderator's effective rank.
func (a *Actions) Require(ctx context.Context, chatID, moderatorID string, capability model.Capability) (model.Rank, error) {
	modRank, err := a.ranks.EffectiveRank(ctx, chatID, moderatorID)
	if err != nil {
		return 0, err
	}
	allowed, err := a.perms.HasCapability(ctx, chatID, modRank, capability, DefaultFallback(capability))
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, ErrNotPermitted
	}
	return modRank, nil
}

// Issue authorises req.Moderator and then enforces req.
func (a *Actions) Issue(ctx context.Context, req ApplyRequest) (model.Punishment, error) {
	if _, err := model.ParseKind(string(req.Kind)); err != nil {
		return model.Punishment{}, ErrInvalidKind
	}
	if err := a.Authorize(ctx, req.ChatID, req.Moderator.ID, req.Target.ID, model.CapabilityFor(req.Kind)); err != nil {
		return model.Punishment{}, err
	}
	return a.Enforce(ctx, req)
}

// Enforce runs the flow for req without authorisation checks. It is used
// for automatic actions taken on the bot's own authority.
func (a *Actions) Enforce(ctx context.Context, req ApplyRequest) (model.Punishment, error) {
	cfg := a.config(req.ChatID)
	if req.Duration == nil {
		req.Duration = defaultDuration(cfg, req.Kind)
	}

	p, err := a.manager.Apply(ctx, req)
	if err != nil {
		return model.Punishment{}, err
	}
	a.log.Info("punishment applied", "chat", p.ChatID, "user", p.UserID, "kind", p.Kind, "id", p.ID, "moderator", p.ModeratorID)

	var platformErr error
	switch p.Kind {
	case model.KindMute, model.KindBan:
		platformErr = a.impose(ctx, p)
	case model.KindKick:
		platformErr = a.kick(ctx, p)
	}

	a.notify(ctx, cfg, p.ChatID, p.UserID, describe(p))
	return p, platformErr
}

// kick removes the user and readmits them, then reasserts a mute that is
// still in force because the removal wiped it on the platform. Enforcers
// whose users stay out after a kick may skip that restrict; RestoreOnRejoin
// reasserts the mute when the user comes back.
func (a *Actions) kick(ctx context.Context, p model.Punishment) error {
	if err := a.call("exclude", func() error { return a.enforcer.Exclude(ctx, p.ChatID, p.UserID, nil) }); err != nil {
		return err
	}
	if err := a.call("un_exclude", func() error { return a.enforcer.UnExclude(ctx, p.ChatID, p.UserID) }); err != nil {
		return err
	}
	mute, err := a.manager.RestoreIfActive(ctx, p.ChatID, p.UserID)
	if err != nil {
		a.log.Error("failed to look up active mute after kick", "chat", p.ChatID, "user", p.UserID, "err", err)
		return err
	}
	if mute == nil {
		return nil
	}
	a.log.Info("restoring active mute after kick", "chat", p.ChatID, "user", p.UserID, "mute", mute.ID)
	return a.call("restrict", func() error { return a.enforcer.Restrict(ctx, p.ChatID, p.UserID, mute.Until()) })
}

// Revoke authorises moderator and lifts the target's active punishment of
// kind. It returns false when nothing was active.
func (a *Actions) Revoke(ctx context.Context, chatID string, kind model.Kind, target, moderator model.Member) (bool, error) {
	if !kind.Enforced() {
		return false, ErrInvalidKind
	}
	if err := a.Authorize(ctx, chatID, moderator.ID, target.ID, model.CapabilityFor(kind)); err != nil {
		return false, err
	}
	ok, err := a.manager.Revoke(ctx, chatID, target.ID, kind)
	if err != nil || !ok {
		return false, err
	}
	a.log.Info("punishment revoked", "chat", chatID, "user", target.ID, "kind", kind, "moderator", moderator.ID)

	platformErr := a.lift(ctx, chatID, target.ID, kind)
	verb := "unmuted"
	if kind == model.KindBan {
		verb = "unbanned"
	}
	a.notify(ctx, a.config(chatID), chatID, target.ID, fmt.Sprintf("%s has been %s by %s.", target.Label(), verb, moderator.Label()))
	return true, platformErr
}

// RestoreOnRejoin reasserts an active mute for a user who rejoined the chat.
// It reports whether a restriction was reapplied.
func (a *Actions) RestoreOnRejoin(ctx context.Context, chatID, userID string) (bool, error) {
	mute, err := a.manager.RestoreIfActive(ctx, chatID, userID)
	if err != nil || mute == nil {
		return false, err
	}
	if err := a.call("restrict", func() error { return a.enforcer.Restrict(ctx, chatID, userID, mute.Until()) }); err != nil {
		return false, err
	}
	a.log.Info("restored mute on rejoin", "chat", chatID, "user", userID, "mute", mute.ID)
	return true, nil
}

// CompensateExpiry drives the platform after p was closed as expired. The
// lift is skipped when a newer punishment of the same kind is already active,
// and reasserted when one became active while the lift was in flight.
func (a *Actions) CompensateExpiry(ctx context.Context, p model.Punishment) error {
	newer, err := a.newerActive(ctx, p)
	if err != nil {
		return err
	}
	if newer != nil {
		a.log.Info("expiry lift skipped, newer punishment active", "chat", p.ChatID, "user", p.UserID, "kind", p.Kind, "expired", p.ID, "active", newer.ID)
		return nil
	}

	if err := a.lift(ctx, p.ChatID, p.UserID, p.Kind); err != nil {
		return err
	}
	newer, err = a.newerActive(ctx, p)
	if err != nil {
		return err
	}
	if newer != nil {
		a.log.Info("reasserting punishment applied during expiry lift", "chat", p.ChatID, "user", p.UserID, "kind", p.Kind, "active", newer.ID)
		return a.impose(ctx, *newer)
	}

	verb := "mute"
	if p.Kind == model.KindBan {
		verb = "ban"
	}
	a.notify(ctx, a.config(p.ChatID), p.ChatID, p.UserID, fmt.Sprintf("The %s on %s has expired.", verb, p.TargetName))
	return nil
}

func (a *Actions) newerActive(ctx context.Context, p model.Punishment) (*model.Punishment, error) {
	active, err := a.manager.store.GetActive(ctx, p.ChatID, p.UserID, p.Kind)
	if err != nil {
		return nil, storeErr("compensate expiry", err)
	}
	if active == nil || active.ID == p.ID {
		return nil, nil
	}
	return active, nil
}

func (a *Actions) impose(ctx context.Context, p model.Punishment) error {
	switch p.Kind {
	case model.KindMute:
		return a.call("restrict", func() error { return a.enforcer.Restrict(ctx, p.ChatID, p.UserID, p.Until()) })
	case model.KindBan:
		return a.call("exclude", func() error { return a.enforcer.Exclude(ctx, p.ChatID, p.UserID, p.Until()) })
	default:
		return ErrInvalidKind
	}
}

func (a *Actions) lift(ctx context.Context, chatID, userID string, kind model.Kind) error {
	switch kind {
	case model.KindMute:
		return a.call("lift_restriction", func() error { return a.enforcer.LiftRestriction(ctx, chatID, userID) })
	case model.KindBan:
		return a.call("un_exclude", func() error { return a.enforcer.UnExclude(ctx, chatID, userID) })
	default:
		return ErrInvalidKind
	}
}

func (a *Actions) call(op string, fn func() error) error {
	if err := fn(); err != nil {
		a.log.Warn("platform call failed", "op", op, "err", err)
		return apiErr(op, err)
	}
	return nil
}

func (a *Actions) notify(ctx context.Context, cfg model.ChatConfig, chatID, userID, text string) {
	if cfg.ShouldNotifyChat() {
		if err := a.sink.NotifyChat(ctx, chatID, text); err != nil {
			a.log.Warn("failed to notify chat", "chat", chatID, "err", err)
		}
	}
	if cfg.ShouldNotifyUser() {
		if err := a.sink.NotifyUser(ctx, userID, text); err != nil {
			a.log.Warn("failed to notify user", "user", userID, "err", err)
		}
	}
}

func defaultDuration(cfg model.ChatConfig, kind model.Kind) *time.Duration {
	var seconds int64
	switch kind {
	case model.KindMute:
		seconds = cfg.DefaultMuteSeconds
	case model.KindBan:
		seconds = cfg.DefaultBanSeconds
	}
	if seconds <= 0 {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

func describe(p model.Punishment) string {
	var text string
	switch p.Kind {
	case model.KindMute:
		text = fmt.Sprintf("%s has been muted %s by %s.", p.TargetName, untilText(p), p.ModeratorName)
	case model.KindBan:
		text = fmt.Sprintf("%s has been banned %s by %s.", p.TargetName, untilText(p), p.ModeratorName)
	case model.KindKick:
		text = fmt.Sprintf("%s has been kicked by %s.", p.TargetName, p.ModeratorName)
	default:
		text = fmt.Sprintf("%s has been warned by %s.", p.TargetName, p.ModeratorName)
	}
	if p.Reason != "" {
		text += " Reason: " + p.Reason
	}
	return text
}

func untilText(p model.Punishment) string {
	until := p.Until()
	if until == nil {
		return "indefinitely"
	}
	return "until " + until.UTC().Format("2006-01-02 15:04 MST")
}

// IsExternal reports whether err came from a platform call after the state
// change was committed.
func IsExternal(err error) bool {
	var e *ExternalAPIError
	return errors.As(err, &e)
}
