package raid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatwarden/model"
	"chatwarden/moderation"
	"chatwarden/utils"
)

// Responder applies a chat's raid_action policy to detections.
type Responder struct {
	actions *moderation.Actions
	sink    moderation.NotificationSink
	config  func(chatID string) model.ChatConfig
	self    model.Member
	// one mass_join alert per chat per join window, and one report per
	// user and raid type per cooldown when the policy takes no action
	alerted  *utils.RecentSet[string]
	cooldown time.Duration
	log      *slog.Logger
}

// NewResponder creates a responder acting as self. cooldown is the quiet
// period for repeated reports that no join window covers.
func NewResponder(actions *moderation.Actions, sink moderation.NotificationSink, config func(chatID string) model.ChatConfig, self model.Member, cooldown time.Duration, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		actions: actions,
		sink:    sink,
		config:  config,
		self:    self,
		alerted:  utils.NewRecentSet[string](cooldown, nil),
		cooldown: cooldown,
		log:      logger.With("component", "raid_responder"),
	}
}

// Alerts exposes the mass-join cooldown memo so it can be swept.
func (r *Responder) Alerts() *utils.RecentSet[string] {
	return r.alerted
}

// Respond handles inc. target describes the offending user and is ignored
// for chat-wide incidents. A nil incident is a no-op. reported is true when
// inc is the first of its run and worth surfacing in the log channel: the
// first mass join of a join window, a detection that triggered an automatic
// punishment, or the first detection per cooldown when the policy is none.
func (r *Responder) Respond(ctx context.Context, inc *model.RaidIncident, target model.Member) (reported bool, err error) {
	if inc == nil {
		return false, nil
	}
	cfg := r.config(inc.ChatID)

	if inc.RaidType == model.RaidMassJoin {
		cooldown := cfg.Join.Window()
		if cooldown <= 0 {
			cooldown = r.cooldown
		}
		if !r.alerted.MarkIfAbsentFor(inc.ChatID, cooldown) {
			return false, nil
		}
		responseCount.WithLabelValues("alert").Inc()
		if err := r.sink.NotifyChat(ctx, inc.ChatID, "Possible raid: "+inc.Details+"."); err != nil {
			r.log.Warn("failed to send mass join alert", "chat", inc.ChatID, "err", err)
		}
		return true, nil
	}

	var kind model.Kind
	var duration *time.Duration
	switch cfg.RaidAction {
	case model.RaidActionMute:
		kind = model.KindMute
		if cfg.SpamMuteSeconds > 0 {
			d := time.Duration(cfg.SpamMuteSeconds) * time.Second
			duration = &d
		}
	case model.RaidActionBan:
		kind = model.KindBan
	default:
		responseCount.WithLabelValues("none").Inc()
		return r.alerted.MarkIfAbsent(inc.ChatID + "/" + inc.UserID + "/" + string(inc.RaidType)), nil
	}

	active, err := r.actions.Manager().Store().GetActive(ctx, inc.ChatID, inc.UserID, kind)
	if err != nil {
		return false, &moderation.StoreError{Op: "check active " + string(kind), Err: err}
	}
	if active != nil {
		return false, nil
	}

	if target.ID == "" {
		target = model.NewMember(inc.UserID, "", "", false)
	}
	_, err = r.actions.Enforce(ctx, moderation.ApplyRequest{
		ChatID:    inc.ChatID,
		Kind:      kind,
		Target:    target,
		Moderator: r.self,
		Duration:  duration,
		Reason:    fmt.Sprintf("automatic: %s", inc.RaidType),
	})
	if err != nil && !moderation.IsExternal(err) {
		return false, err
	}
	responseCount.WithLabelValues(string(kind)).Inc()
	return true, err
}
