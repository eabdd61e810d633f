package moderation

import (
	"context"
	"log/slog"

	"chatwarden/model"
)

// RankResolver resolves a user's effective rank in a chat. It keeps no
// state of its own and is safe for concurrent use.
type RankResolver struct {
	oracle ChatMembershipOracle
	store  RankStore
	log    *slog.Logger
}

func NewRankResolver(oracle ChatMembershipOracle, store RankStore, logger *slog.Logger) *RankResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RankResolver{oracle: oracle, store: store, log: logger.With("component", "rank_resolver")}
}

// EffectiveRank returns Owner for the chat creator regardless of any stored
// assignment, then the stored rank, then RankUser. An oracle failure is
// logged and treated as "not creator".
func (r *RankResolver) EffectiveRank(ctx context.Context, chatID, userID string) (model.Rank, error) {
	creator, err := r.oracle.IsCreator(ctx, chatID, userID)
	if err != nil {
		r.log.Warn("membership oracle failed, falling back to stored rank", "chat", chatID, "user", userID, "err", err)
	} else if creator {
		return model.RankOwner, nil
	}

	rank, ok, err := r.store.GetRank(ctx, chatID, userID)
	if err != nil {
		return 0, storeErr("get rank", err)
	}
	if ok && rank.Valid() {
		return rank, nil
	}
	return model.RankUser, nil
}
