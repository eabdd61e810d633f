package moderation

import (
	"context"
	"log/slog"
	"time"

	"chatwarden/model"
)

// ApplyRequest describes a punishment to record. A nil Duration means
// indefinite; it is ignored for kicks and warnings.
type ApplyRequest struct {
	ChatID    string
	Kind      model.Kind
	Target    model.Member
	Moderator model.Member
	Duration  *time.Duration
	Reason    string
}

// Manager owns the punishment state machine. Every closing transition goes
// through a conditional update, so a row leaves Active at most once.
type Manager struct {
	store PunishmentStore
	now   func() time.Time
	log   *slog.Logger
}

// NewManager creates a manager. now may be nil to use time.Now.
func NewManager(store PunishmentStore, now func() time.Time, logger *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, now: now, log: logger.With("component", "lifecycle")}
}

// Now is the clock the manager judges expiry by.
func (m *Manager) Now() time.Time {
	return m.now()
}

// Store exposes the underlying store for read-only queries.
func (m *Manager) Store() PunishmentStore {
	return m.store
}

// Apply records a punishment. For mutes and bans any active row of the same
// kind for the user is closed as superseded in the same transaction.
func (m *Manager) Apply(ctx context.Context, req ApplyRequest) (model.Punishment, error) {
	if _, err := model.ParseKind(string(req.Kind)); err != nil {
		return model.Punishment{}, ErrInvalidKind
	}
	now := m.now().Unix()
	p := model.Punishment{
		ChatID:        req.ChatID,
		UserID:        req.Target.ID,
		ModeratorID:   req.Moderator.ID,
		Kind:          req.Kind,
		Reason:        req.Reason,
		CreatedAt:     now,
		TargetName:    req.Target.Label(),
		ModeratorName: req.Moderator.Label(),
	}

	if !req.Kind.Enforced() {
		p.ClosedAt = &now
		id, err := m.store.Insert(ctx, p)
		if err != nil {
			return model.Punishment{}, storeErr("apply "+string(req.Kind), err)
		}
		p.ID = id
		return p, nil
	}

	if req.Duration != nil {
		if *req.Duration <= 0 {
			return model.Punishment{}, ErrInvalidDuration
		}
		seconds := int64(req.Duration.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		expiry := now + seconds
		p.DurationSeconds = &seconds
		p.ExpiryAt = &expiry
	}
	p.IsActive = true

	id, superseded, err := m.store.ReplaceActive(ctx, p, now)
	if err != nil {
		return model.Punishment{}, storeErr("apply "+string(req.Kind), err)
	}
	p.ID = id
	if len(superseded) > 0 {
		m.log.Info("superseded active punishment", "chat", p.ChatID, "user", p.UserID, "kind", p.Kind, "superseded", superseded, "id", id)
	}
	return p, nil
}

// Revoke closes the user's active punishment of kind in one conditional
// update. It returns false when there was nothing active, or when another
// closer got there first.
func (m *Manager) Revoke(ctx context.Context, chatID, userID string, kind model.Kind) (bool, error) {
	if !kind.Enforced() {
		return false, ErrInvalidKind
	}
	ok, err := m.store.CloseActive(ctx, chatID, userID, kind, model.CloseRevoked, m.now().Unix())
	if err != nil {
		return false, storeErr("revoke", err)
	}
	return ok, nil
}

// RestoreIfActive returns the user's mute if it is still in force, so a
// caller that just wiped platform restrictions can reassert it. A mute whose
// expiry has already passed is left for the scheduler and not returned.
func (m *Manager) RestoreIfActive(ctx context.Context, chatID, userID string) (*model.Punishment, error) {
	p, err := m.store.GetActive(ctx, chatID, userID, model.KindMute)
	if err != nil {
		return nil, storeErr("restore", err)
	}
	if p == nil || p.Due(m.now()) {
		return nil, nil
	}
	return p, nil
}

// CloseExpired closes p as expired if its expiry has been reached. false
// means it was not yet due or another closer won.
func (m *Manager) CloseExpired(ctx context.Context, p model.Punishment) (bool, error) {
	now := m.now()
	if !p.Due(now) {
		return false, nil
	}
	ok, err := m.store.CloseIfExpired(ctx, p.ID, now.Unix())
	if err != nil {
		return false, storeErr("close expired", err)
	}
	return ok, nil
}
