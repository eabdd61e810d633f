package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"chatwarden/model"
	"chatwarden/moderation"
	"chatwarden/utils"
	"chatwarden/utils/database"
	"chatwarden/utils/database/activity"
	"chatwarden/utils/database/punishments"
	"chatwarden/utils/database/ranks"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/semaphore"
)

var t0 = time.Unix(1_700_000_000, 0)

var testSchedulerConfig = model.SchedulerConfig{
	BusyInterval:        10 * time.Millisecond,
	IdleInterval:        50 * time.Millisecond,
	MaxConcurrentScans:  4,
	ClosedMemoTTL:       30 * time.Second,
	CompensationTimeout: time.Second,
}

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
	db       *sqlx.DB
	clock    *clock
	store    *punishments.Store
	manager  *moderation.Manager
	actions  *moderation.Actions
	enforcer *moderation.RecordingEnforcer
	memo     *utils.RecentSet[int64]
}

func newFixture(t *testing.T, wrap func(*punishments.Store) moderation.PunishmentStore) *fixture {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, clock: &clock{t: t0}, store: punishments.New(db), enforcer: &moderation.RecordingEnforcer{}}
	var store moderation.PunishmentStore = f.store
	if wrap != nil {
		store = wrap(f.store)
	}
	f.manager = moderation.NewManager(store, f.clock.Now, nil)
	rs := ranks.New(db)
	f.actions = moderation.NewActions(f.manager, moderation.NewRankResolver(moderation.NewFakeOracle(), rs, nil),
		moderation.NewPermissionChecker(rs), f.enforcer, &moderation.RecordingSink{},
		func(string) model.ChatConfig { return model.ChatConfig{} }, nil)
	f.memo = utils.NewRecentSet[int64](testSchedulerConfig.ClosedMemoTTL, f.clock.Now)
	return f
}

func (f *fixture) scanner(kind model.Kind) *ExpiryScanner {
	return NewExpiryScanner(kind, f.manager, f.actions, semaphore.NewWeighted(testSchedulerConfig.MaxConcurrentScans), f.memo, testSchedulerConfig, nil)
}

func (f *fixture) apply(t *testing.T, chatID, userID string, kind model.Kind, d time.Duration) model.Punishment {
	t.Helper()
	p, err := f.manager.Apply(context.Background(), moderation.ApplyRequest{
		ChatID: chatID, Kind: kind, Target: model.NewMember(userID, "", "", false), Moderator: model.NewMember("mod", "", "", false), Duration: &d,
	})
	require.NoError(t, err)
	return p
}

func TestExpiryScanClosesOnlyWhenDue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.apply(t, "c1", "u1", model.KindMute, 600*time.Second)
	s := f.scanner(model.KindMute)

	f.clock.Set(t0.Add(599 * time.Second))
	res, err := s.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(1, res.Seen)
	assert.Equal(0, res.Closed)
	assert.Empty(f.enforcer.Calls())

	f.clock.Set(t0.Add(601 * time.Second))
	res, err = s.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(1, res.Closed)
	assert.Equal(1, f.enforcer.Count("lift_restriction"))

	closed, err := f.store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(closed.IsActive)
	assert.Equal(model.CloseExpired, closed.CloseReason)

	res, err = s.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(0, res.Seen)
	assert.Equal(1, f.enforcer.Count("lift_restriction"))
}

func TestExpiryScanIndefiniteNeverExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	_, err := f.manager.Apply(ctx, moderation.ApplyRequest{ChatID: "c1", Kind: model.KindBan, Target: model.NewMember("u1", "", "", false)})
	require.NoError(t, err)

	f.clock.Set(t0.Add(100 * 365 * 24 * time.Hour))
	res, err := f.scanner(model.KindBan).ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Seen)
	assert.Equal(t, 0, res.Closed)
	assert.Empty(t, f.enforcer.Calls())
}

func TestConcurrentPassesCompensateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	var ids []int64
	for c := 0; c < 5; c++ {
		for u := 0; u < 4; u++ {
			p := f.apply(t, fmt.Sprintf("c%d", c), fmt.Sprintf("u%d", u), model.KindMute, time.Minute)
			ids = append(ids, p.ID)
		}
	}
	f.clock.Set(t0.Add(2 * time.Minute))

	var wg sync.WaitGroup
	var mu sync.Mutex
	closed := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.scanner(model.KindMute).ScanOnce(ctx)
			assert.NoError(t, err)
			mu.Lock()
			closed += res.Closed
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(ids), closed, "each punishment is closed by exactly one pass")
	assert.Equal(t, len(ids), f.enforcer.Count("lift_restriction"))
	perUser := make(map[string]int)
	for _, c := range f.enforcer.Calls() {
		perUser[c.ChatID+"/"+c.UserID]++
	}
	for key, n := range perUser {
		assert.Equal(t, 1, n, key)
	}
}

func TestExpiryRacingRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.apply(t, "c1", "u1", model.KindBan, time.Minute)
	f.clock.Set(t0.Add(time.Hour))

	active, err := f.store.ListActiveByChat(ctx, "c1", model.KindBan)
	require.NoError(t, err)
	require.Len(t, active, 1)

	revoked, err := f.manager.Revoke(ctx, "c1", "u1", model.KindBan)
	require.NoError(t, err)
	require.True(t, revoked)

	// a pass that listed the row before the revoke landed
	s := f.scanner(model.KindBan)
	var res PassResult
	s.expire(ctx, active[0], &res)
	assert.Equal(t, 1, res.RaceLost)
	assert.Equal(t, 0, res.Closed)
	assert.Empty(t, f.enforcer.Calls())
}

type flakyStore struct {
	*punishments.Store
	failChat string
}

func (s flakyStore) ListActiveByChat(ctx context.Context, chatID string, kind model.Kind) ([]model.Punishment, error) {
	if chatID == s.failChat {
		return nil, errors.New("disk I/O error")
	}
	return s.Store.ListActiveByChat(ctx, chatID, kind)
}

func TestFailingChatDoesNotStopOthers(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, func(s *punishments.Store) moderation.PunishmentStore {
		return flakyStore{Store: s, failChat: "bad"}
	})
	f.apply(t, "bad", "u1", model.KindMute, time.Minute)
	f.apply(t, "good", "u1", model.KindMute, time.Minute)
	f.clock.Set(t0.Add(time.Hour))

	res, err := f.scanner(model.KindMute).ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(2, res.Chats)
	assert.Equal(1, res.Closed)
	assert.Equal(1, res.Errors)
}

func TestCompensationFailureKeepsClose(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	f.enforcer.Errs = map[string]error{"lift_restriction": errors.New("unknown member")}
	p := f.apply(t, "c1", "u1", model.KindMute, time.Minute)
	f.apply(t, "c1", "u2", model.KindMute, time.Minute)
	f.clock.Set(t0.Add(time.Hour))

	res, err := f.scanner(model.KindMute).ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(2, res.Closed)
	assert.Equal(2, res.Errors)

	closed, err := f.store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.False(closed.IsActive)
}

// remuteFirst re-mutes the user between the scanner's close and its
// compensation.
type remuteFirst struct {
	actions *moderation.Actions
	t       *testing.T
}

func (c remuteFirst) CompensateExpiry(ctx context.Context, p model.Punishment) error {
	d := time.Hour
	_, err := c.actions.Enforce(ctx, moderation.ApplyRequest{ChatID: p.ChatID, Kind: p.Kind, Target: model.NewMember(p.UserID, "", "", false), Moderator: model.NewMember("mod", "", "", false), Duration: &d})
	require.NoError(c.t, err)
	return c.actions.CompensateExpiry(ctx, p)
}

func TestExpiryDoesNotLiftNewerMute(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	f.apply(t, "c1", "u1", model.KindMute, time.Minute)
	f.clock.Set(t0.Add(time.Hour))

	s := NewExpiryScanner(model.KindMute, f.manager, remuteFirst{actions: f.actions, t: t}, semaphore.NewWeighted(1), f.memo, testSchedulerConfig, nil)
	res, err := s.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(1, res.Closed)
	assert.Equal(0, res.Errors)

	active, err := f.store.GetActive(ctx, "c1", "u1", model.KindMute)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal([]string{"restrict"}, f.enforcer.Ops(), "the platform keeps the newer mute")
}

func TestMemoSuppressesRepeatCompensation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	p := f.apply(t, "c1", "u1", model.KindMute, time.Minute)
	f.clock.Set(t0.Add(time.Hour))
	f.memo.MarkIfAbsent(p.ID)

	res, err := f.scanner(model.KindMute).ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Empty(t, f.enforcer.Calls())
}

func TestNextInterval(t *testing.T) {
	f := newFixture(t, nil)
	s := f.scanner(model.KindMute)
	assert.Equal(t, testSchedulerConfig.IdleInterval, s.NextInterval(PassResult{}))
	assert.Equal(t, testSchedulerConfig.BusyInterval, s.NextInterval(PassResult{Seen: 1}))
	assert.Equal(t, testSchedulerConfig.IdleInterval, s.NextInterval(PassResult{Chats: 3}))
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	f.apply(t, "c1", "u1", model.KindMute, time.Minute)
	f.clock.Set(t0.Add(time.Hour))
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.scanner(model.KindMute).Run(ctx) }()

	assert.Eventually(t, func() bool { return f.enforcer.Count("lift_restriction") == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop")
	}
}

func TestActivityCleaner(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	store := activity.NewSQLiteStore(f.db)

	old := t0.Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, store.AppendActivity(ctx, model.ActivityRecord{ChatID: "c1", UserID: "u1", ActivityType: model.ActivityGIF, CreatedAtMs: old}))
	require.NoError(t, store.AppendJoin(ctx, model.JoinRecord{ChatID: "c1", UserID: "u1", CreatedAtMs: old}))
	require.NoError(t, store.AppendActivity(ctx, model.ActivityRecord{ChatID: "c1", UserID: "u1", ActivityType: model.ActivityGIF, CreatedAtMs: t0.UnixMilli()}))

	f.memo.MarkIfAbsent(1)
	f.clock.Set(t0.Add(time.Minute))

	c := NewActivityCleaner(store, 24*time.Hour, time.Hour, f.clock.Now, nil, f.memo)
	purged, err := c.CleanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(int64(2), purged)
	assert.Equal(0, f.memo.Len())

	recent, err := store.ActivitySince(ctx, "c1", "u1", model.ActivityGIF, 0)
	require.NoError(t, err)
	assert.Len(recent, 1)
}
