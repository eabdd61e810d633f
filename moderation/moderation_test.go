package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chatwarden/model"
	"chatwarden/utils/database"
	"chatwarden/utils/database/punishments"
	"chatwarden/utils/database/ranks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	clock    *clock
	store    *punishments.Store
	ranks    *ranks.Store
	oracle   *FakeOracle
	enforcer *RecordingEnforcer
	sink     *RecordingSink
	manager  *Manager
	actions  *Actions
	cfg      model.ChatConfig
}

var t0 = time.Unix(1_700_000_000, 0)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		clock:    &clock{t: t0},
		store:    punishments.New(db),
		ranks:    ranks.New(db),
		oracle:   NewFakeOracle(),
		enforcer: &RecordingEnforcer{},
		sink:     &RecordingSink{},
		cfg:      model.ChatConfig{DefaultMuteSeconds: 3600},
	}
	f.manager = NewManager(f.store, f.clock.Now, nil)
	resolver := NewRankResolver(f.oracle, f.ranks, nil)
	f.actions = NewActions(f.manager, resolver, NewPermissionChecker(f.ranks), f.enforcer, f.sink,
		func(string) model.ChatConfig { return f.cfg }, nil)
	return f
}

func member(id string) model.Member {
	return model.NewMember(id, "user"+id, "", false)
}

func dur(d time.Duration) *time.Duration { return &d }

func TestEffectiveRankCreatorOverridesStored(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	r := NewRankResolver(f.oracle, f.ranks, nil)

	require.NoError(t, f.ranks.SetRank(ctx, "c1", "u1", model.RankHelper, "x"))
	rank, err := r.EffectiveRank(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(model.RankHelper, rank)

	f.oracle.SetCreator("c1", "u1")
	rank, err = r.EffectiveRank(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(model.RankOwner, rank)

	rank, err = r.EffectiveRank(ctx, "c1", "nobody")
	require.NoError(t, err)
	assert.Equal(model.RankUser, rank)
}

func TestEffectiveRankOracleFailureFallsThrough(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.oracle.SetCreator("c1", "u1")
	f.oracle.Err = errors.New("gateway timeout")
	r := NewRankResolver(f.oracle, f.ranks, nil)

	require.NoError(t, f.ranks.SetRank(ctx, "c1", "u1", model.RankModerator, "x"))
	rank, err := r.EffectiveRank(ctx, "c1", "u1")
	assert.NoError(err)
	assert.Equal(model.RankModerator, rank)
}

func TestHasCapabilityTriState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := NewPermissionChecker(f.ranks)
	always := func(model.Rank) bool { return true }
	never := func(model.Rank) bool { return false }

	tests := []struct {
		name     string
		override *bool
		fallback func(model.Rank) bool
		want     bool
		decision Decision
	}{
		{"unset uses fallback true", nil, always, true, Unset},
		{"unset uses fallback false", nil, never, false, Unset},
		{"explicit false beats fallback", ptrBool(false), always, false, Deny},
		{"explicit true beats fallback", ptrBool(true), never, true, Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			require.NoError(t, f.ranks.DeleteOverride(ctx, "c1", model.RankModerator, model.CapBan))
			if tt.override != nil {
				require.NoError(t, f.ranks.SetOverride(ctx, model.PermissionOverride{
					ChatID: "c1", Rank: model.RankModerator, Capability: model.CapBan, Allowed: *tt.override,
				}))
			}
			d, err := c.Override(ctx, "c1", model.RankModerator, model.CapBan)
			require.NoError(t, err)
			assert.Equal(tt.decision, d)

			got, err := c.HasCapability(ctx, "c1", model.RankModerator, model.CapBan, tt.fallback)
			require.NoError(t, err)
			assert.Equal(tt.want, got)
		})
	}
}

func ptrBool(b bool) *bool { return &b }

func TestDefaultFallback(t *testing.T) {
	assert := assert.New(t)
	assert.True(DefaultFallback(model.CapMute)(model.RankModerator))
	assert.False(DefaultFallback(model.CapMute)(model.RankHelper))
	assert.True(DefaultFallback(model.CapBan)(model.RankAdmin))
	assert.False(DefaultFallback(model.CapBan)(model.RankModerator))
	assert.True(DefaultFallback(model.CapWarn)(model.RankHelper))
	assert.False(DefaultFallback(model.CapManageRanks)(model.RankAdmin))
	assert.False(DefaultFallback(model.Capability("unknown"))(model.RankAdmin))
}

func TestApplyMuteSupersedesPrevious(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: model.KindMute, Target: member("2"), Moderator: member("1"), Duration: dur(10 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t0.Unix()+600, *first.ExpiryAt)

	second, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: model.KindMute, Target: member("2"), Moderator: member("1")})
	require.NoError(t, err)
	assert.Nil(second.ExpiryAt, "no duration means indefinite")

	old, err := f.store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(old.IsActive)
	assert.Equal(model.CloseSuperseded, old.CloseReason)

	active, err := f.store.ListActiveByUser(ctx, "c1", "2")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(second.ID, active[0].ID)
}

func TestApplyKickAndWarnAreTerminal(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	for _, kind := range []model.Kind{model.KindKick, model.KindWarn} {
		p, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: kind, Target: member("2"), Moderator: member("1"), Duration: dur(time.Hour)})
		require.NoError(t, err)
		assert.False(p.IsActive)
		assert.Nil(p.ExpiryAt)
	}
	_, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: "timeout", Target: member("2")})
	assert.ErrorIs(err, ErrInvalidKind)
	_, err = f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: model.KindMute, Target: member("2"), Duration: dur(-time.Second)})
	assert.ErrorIs(err, ErrInvalidDuration)
}

func TestRevoke(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	ok, err := f.manager.Revoke(ctx, "c1", "2", model.KindMute)
	require.NoError(t, err)
	assert.False(ok, "nothing to revoke is not an error")

	p, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: model.KindBan, Target: member("2"), Moderator: member("1")})
	require.NoError(t, err)

	ok, err = f.manager.Revoke(ctx, "c1", "2", model.KindBan)
	require.NoError(t, err)
	assert.True(ok)
	ok, err = f.manager.Revoke(ctx, "c1", "2", model.KindBan)
	require.NoError(t, err)
	assert.False(ok)

	closed, err := f.store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(model.CloseRevoked, closed.CloseReason)

	_, err = f.manager.Revoke(ctx, "c1", "2", model.KindWarn)
	assert.ErrorIs(err, ErrInvalidKind)
}

// remuteStore re-mutes the target right before the revoking update runs.
type remuteStore struct {
	PunishmentStore
	before func()
}

func (s *remuteStore) CloseIfActive(ctx context.Context, id int64, reason model.CloseReason, closedAt int64) (bool, error) {
	s.fire()
	return s.PunishmentStore.CloseIfActive(ctx, id, reason, closedAt)
}

func (s *remuteStore) CloseActive(ctx context.Context, chatID, userID string, kind model.Kind, reason model.CloseReason, closedAt int64) (bool, error) {
	s.fire()
	return s.PunishmentStore.CloseActive(ctx, chatID, userID, kind, reason, closedAt)
}

func (s *remuteStore) fire() {
	if s.before != nil {
		before := s.before
		s.before = nil
		before()
	}
}

func TestRevokeClosesMuteAppliedConcurrently(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	mute := ApplyRequest{ChatID: "c1", Kind: model.KindMute, Target: member("2"), Moderator: member("1"), Duration: dur(time.Hour)}
	first, err := f.manager.Apply(ctx, mute)
	require.NoError(t, err)

	var second model.Punishment
	racing := &remuteStore{PunishmentStore: f.store}
	racing.before = func() {
		second, err = f.manager.Apply(ctx, mute)
		require.NoError(t, err)
	}
	m := NewManager(racing, f.clock.Now, nil)

	ok, err := m.Revoke(ctx, "c1", "2", model.KindMute)
	require.NoError(t, err)
	assert.True(ok, "the mute that is active at update time is revoked")

	active, err := f.store.GetActive(ctx, "c1", "2", model.KindMute)
	require.NoError(t, err)
	assert.Nil(active)

	old, err := f.store.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(model.CloseSuperseded, old.CloseReason)
	newer, err := f.store.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(model.CloseRevoked, newer.CloseReason)
}

func TestCloseExpiredOnlyWhenDue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: model.KindMute, Target: member("2"), Moderator: member("1"), Duration: dur(600 * time.Second)})
	require.NoError(t, err)

	f.clock.Set(t0.Add(599 * time.Second))
	ok, err := f.manager.CloseExpired(ctx, p)
	require.NoError(t, err)
	assert.False(ok)

	f.clock.Set(t0.Add(601 * time.Second))
	ok, err = f.manager.CloseExpired(ctx, p)
	require.NoError(t, err)
	assert.True(ok)
	ok, err = f.manager.CloseExpired(ctx, p)
	require.NoError(t, err)
	assert.False(ok, "second close is a lost race")
}

func TestRestoreIfActiveSkipsDueMute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.manager.Apply(ctx, ApplyRequest{ChatID: "c1", Kind: model.KindMute, Target: member("2"), Moderator: member("1"), Duration: dur(time.Minute)})
	require.NoError(t, err)

	p, err := f.manager.RestoreIfActive(ctx, "c1", "2")
	require.NoError(t, err)
	assert.NotNil(p)

	f.clock.Set(t0.Add(2 * time.Minute))
	p, err = f.manager.RestoreIfActive(ctx, "c1", "2")
	require.NoError(t, err)
	assert.Nil(p)
}

type failingStore struct {
	PunishmentStore
}

func (failingStore) GetActive(context.Context, string, string, model.Kind) (*model.Punishment, error) {
	return nil, errors.New("database is locked")
}

func (failingStore) CloseActive(context.Context, string, string, model.Kind, model.CloseReason, int64) (bool, error) {
	return false, errors.New("database is locked")
}

func TestStoreErrorsAreClassified(t *testing.T) {
	m := NewManager(failingStore{}, nil, nil)
	_, err := m.Revoke(context.Background(), "c1", "2", model.KindMute)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "revoke", se.Op)
}
