package moderation

import (
	"context"

	"chatwarden/model"
)

// Decision is the stored state of a capability for a rank.
type Decision int

const (
	// Unset means no override row exists and the fallback decides.
	Unset Decision = iota
	Allow
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "unset"
	}
}

// DefaultCapabilities is the weakest rank that holds each capability when a
// chat has no override.
var DefaultCapabilities = map[model.Capability]model.Rank{
	model.CapMute:        model.RankModerator,
	model.CapKick:        model.RankModerator,
	model.CapBan:         model.RankAdmin,
	model.CapWarn:        model.RankHelper,
	model.CapManageRanks: model.RankOwner,
}

// DefaultFallback returns the default-table predicate for a capability.
// Unknown capabilities are reserved for the owner.
func DefaultFallback(capability model.Capability) func(model.Rank) bool {
	weakest, ok := DefaultCapabilities[capability]
	if !ok {
		weakest = model.RankOwner
	}
	return func(r model.Rank) bool {
		return r.Valid() && r <= weakest
	}
}

type PermissionChecker struct {
	store OverrideStore
}

func NewPermissionChecker(store OverrideStore) *PermissionChecker {
	return &PermissionChecker{store: store}
}

// Override returns the stored decision. A missing row is Unset, never Deny.
func (c *PermissionChecker) Override(ctx context.Context, chatID string, rank model.Rank, capability model.Capability) (Decision, error) {
	allowed, ok, err := c.store.GetOverride(ctx, chatID, rank, capability)
	if err != nil {
		return Unset, storeErr("get override", err)
	}
	switch {
	case !ok:
		return Unset, nil
	case allowed:
		return Allow, nil
	default:
		return Deny, nil
	}
}

// HasCapability applies the stored override when one exists, including an
// explicit deny, and otherwise asks fallback.
func (c *PermissionChecker) HasCapability(ctx context.Context, chatID string, rank model.Rank, capability model.Capability, fallback func(model.Rank) bool) (bool, error) {
	d, err := c.Override(ctx, chatID, rank, capability)
	if err != nil {
		return false, err
	}
	switch d {
	case Allow:
		return true, nil
	case Deny:
		return false, nil
	}
	if fallback == nil {
		fallback = DefaultFallback(capability)
	}
	return fallback(rank), nil
}
