package raid

import (
	"context"
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
)

var t0 = time.Unix(1_700_000_000, 0)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testDetector(t *testing.T, cfg model.ChatConfig) (*Detector, *activity.IncidentLog) {
	db := testDB(t)
	incidents := activity.NewIncidentLog(db)
	return NewDetector(activity.NewSQLiteStore(db), incidents, func(string) model.ChatConfig { return cfg }, nil), incidents
}

func limit(n, seconds int) model.ActivityLimit {
	return model.ActivityLimit{Limit: n, WindowSeconds: seconds}
}

func TestNormalizeText(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("buy now", NormalizeText("  BUY   now!!! "))
	assert.Equal("buy now", NormalizeText("Buy, now."))
	assert.Equal("café", NormalizeText("Café"), "decomposed and composed forms match")
	assert.Equal("", NormalizeText("?!..."))

	assert.Equal(HashOfString("buy now"), HashOfString(NormalizeText("buy NOW!")))
	assert.NotEqual(HashOfString("buy now"), HashOfString("buy no"))
	assert.Len(HashOfString("x"), 32)
}

func TestFingerprint(t *testing.T) {
	assert := assert.New(t)
	fp, ok := Fingerprint(model.ActivityEvent{Type: model.ActivityGIF, Content: "file-123"})
	assert.True(ok)
	assert.Equal("file-123", fp)

	_, ok = Fingerprint(model.ActivityEvent{Type: model.ActivityText, Content: "!!!"})
	assert.False(ok)
}

func TestClassifyWindowIsInclusive(t *testing.T) {
	tests := []struct {
		name    string
		offsets []int
		want    []bool
	}{
		{"burst trips on the third event", []int{0, 1, 2}, []bool{false, false, true}},
		{"spread events never trip", []int{0, 3, 7}, []bool{false, false, false}},
		{"event at the window edge counts", []int{0, 2, 5}, []bool{false, false, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := testDetector(t, model.ChatConfig{GIF: limit(3, 5)})
			for i, off := range tt.offsets {
				inc, err := d.Classify(context.Background(), model.ActivityEvent{
					ChatID: "c1", UserID: "u1", Type: model.ActivityGIF, Content: "gif", At: t0.Add(time.Duration(off) * time.Second),
				})
				require.NoError(t, err)
				if tt.want[i] {
					require.NotNil(t, inc, "event %d", i)
					assert.Equal(t, model.RaidGIFSpam, inc.RaidType)
					assert.Equal(t, "u1", inc.UserID)
				} else {
					assert.Nil(t, inc, "event %d", i)
				}
			}
		})
	}
}

func TestClassifyDuplicateTextNeverMerges(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, incidents := testDetector(t, model.ChatConfig{Text: model.TextLimit{ActivityLimit: limit(3, 10)}})

	texts := []string{"hello there", "general kenobi", "hello there!", "something else", "HELLO   there"}
	var got *model.RaidIncident
	for i, text := range texts {
		inc, err := d.Classify(ctx, model.ActivityEvent{ChatID: "c1", UserID: "u1", Type: model.ActivityText, Content: text, At: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		if i < len(texts)-1 {
			assert.Nil(inc, "text %q", text)
		}
		got = inc
	}
	require.NotNil(t, got)
	assert.Equal(model.RaidDuplicateText, got.RaidType)

	logged, err := incidents.ListIncidents(ctx, "c1", 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(got.ID, logged[0].ID)
}

func TestClassifyIsPerUserAndType(t *testing.T) {
	ctx := context.Background()
	d, _ := testDetector(t, model.ChatConfig{GIF: limit(2, 10), Sticker: limit(2, 10)})

	events := []model.ActivityEvent{
		{ChatID: "c1", UserID: "u1", Type: model.ActivityGIF, Content: "a", At: t0},
		{ChatID: "c1", UserID: "u2", Type: model.ActivityGIF, Content: "a", At: t0},
		{ChatID: "c1", UserID: "u1", Type: model.ActivitySticker, Content: "a", At: t0},
		{ChatID: "c2", UserID: "u1", Type: model.ActivityGIF, Content: "a", At: t0},
	}
	for _, ev := range events {
		inc, err := d.Classify(ctx, ev)
		require.NoError(t, err)
		assert.Nil(t, inc)
	}
	inc, err := d.Classify(ctx, model.ActivityEvent{ChatID: "c1", UserID: "u1", Type: model.ActivitySticker, Content: "b", At: t0.Add(time.Second)})
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.Equal(t, model.RaidStickerSpam, inc.RaidType)
}

func TestClassifyDisabledLimit(t *testing.T) {
	d, _ := testDetector(t, model.ChatConfig{})
	for i := 0; i < 10; i++ {
		inc, err := d.Classify(context.Background(), model.ActivityEvent{ChatID: "c1", UserID: "u1", Type: model.ActivityGIF, Content: "a", At: t0})
		require.NoError(t, err)
		assert.Nil(t, inc)
	}
}

func TestClassifyJoin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d, _ := testDetector(t, model.ChatConfig{Join: limit(3, 60)})

	var last *model.RaidIncident
	for i, user := range []string{"a", "b", "c"} {
		inc, err := d.ClassifyJoin(ctx, model.JoinEvent{ChatID: "c1", UserID: user, At: t0.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
		last = inc
	}
	require.NotNil(t, last)
	assert.Equal(model.RaidMassJoin, last.RaidType)
	assert.Empty(last.UserID, "mass join is chat-wide")

	inc, err := d.ClassifyJoin(ctx, model.JoinEvent{ChatID: "c1", UserID: "d", At: t0.Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.Nil(inc)
}

type responderFixture struct {
	responder *Responder
	enforcer  *moderation.RecordingEnforcer
	sink      *moderation.RecordingSink
	store     *punishments.Store
}

func newResponderFixture(t *testing.T, cfg model.ChatConfig) *responderFixture {
	db := testDB(t)
	store := punishments.New(db)
	rs := ranks.New(db)
	enforcer := &moderation.RecordingEnforcer{}
	sink := &moderation.RecordingSink{}
	config := func(string) model.ChatConfig { return cfg }
	manager := moderation.NewManager(store, func() time.Time { return t0 }, nil)
	actions := moderation.NewActions(manager, moderation.NewRankResolver(moderation.NewFakeOracle(), rs, nil),
		moderation.NewPermissionChecker(rs), enforcer, sink, config, nil)
	bot := model.NewMember("999", "warden", "", true)
	return &responderFixture{
		responder: NewResponder(actions, sink, config, bot, time.Minute, nil),
		enforcer:  enforcer,
		sink:      sink,
		store:     store,
	}
}

func TestResponderMutesOnceWhileActive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newResponderFixture(t, model.ChatConfig{RaidAction: model.RaidActionMute, SpamMuteSeconds: 600})

	inc := &model.RaidIncident{ChatID: "c1", UserID: "u1", RaidType: model.RaidGIFSpam}
	reported, err := f.responder.Respond(ctx, inc, model.Member{})
	require.NoError(t, err)
	assert.True(reported)
	reported, err = f.responder.Respond(ctx, inc, model.Member{})
	require.NoError(t, err)
	assert.False(reported, "already muted")

	assert.Equal([]string{"restrict"}, f.enforcer.Ops())
	p, err := f.store.GetActive(ctx, "c1", "u1", model.KindMute)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t0.Unix()+600, *p.ExpiryAt)
	assert.Equal("999", p.ModeratorID)
	assert.Equal("automatic: gif_spam", p.Reason)
}

func TestResponderPolicies(t *testing.T) {
	ctx := context.Background()

	f := newResponderFixture(t, model.ChatConfig{RaidAction: model.RaidActionNone})
	text := &model.RaidIncident{ChatID: "c1", UserID: "u1", RaidType: model.RaidDuplicateText}
	reported, err := f.responder.Respond(ctx, text, model.Member{})
	require.NoError(t, err)
	assert.True(t, reported)
	reported, err = f.responder.Respond(ctx, text, model.Member{})
	require.NoError(t, err)
	assert.False(t, reported, "repeat detections are reported once per cooldown")
	assert.Empty(t, f.enforcer.Calls())

	f = newResponderFixture(t, model.ChatConfig{RaidAction: model.RaidActionBan})
	_, err = f.responder.Respond(ctx, &model.RaidIncident{ChatID: "c1", UserID: "u1", RaidType: model.RaidStickerSpam}, model.Member{})
	require.NoError(t, err)
	assert.Equal(t, []string{"exclude"}, f.enforcer.Ops())

	reported, err = f.responder.Respond(ctx, nil, model.Member{})
	require.NoError(t, err)
	assert.False(t, reported)
}

func TestResponderMassJoinCooldownFollowsChatWindow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newResponderFixture(t, model.ChatConfig{Join: model.ActivityLimit{Limit: 3, WindowSeconds: 600}})
	now := t0
	f.responder.alerted = utils.NewRecentSet[string](time.Minute, func() time.Time { return now })

	inc := &model.RaidIncident{ChatID: "c1", RaidType: model.RaidMassJoin}
	reported, err := f.responder.Respond(ctx, inc, model.Member{})
	require.NoError(t, err)
	assert.True(reported)

	now = t0.Add(5 * time.Minute)
	reported, err = f.responder.Respond(ctx, inc, model.Member{})
	require.NoError(t, err)
	assert.False(reported, "the chat's ten minute window outlasts the one minute fallback")

	now = t0.Add(10 * time.Minute)
	reported, err = f.responder.Respond(ctx, inc, model.Member{})
	require.NoError(t, err)
	assert.True(reported)
}

func TestResponderMassJoinAlertsOncePerCooldown(t *testing.T) {
	ctx := context.Background()
	f := newResponderFixture(t, model.ChatConfig{RaidAction: model.RaidActionBan})

	inc := &model.RaidIncident{ChatID: "c1", RaidType: model.RaidMassJoin, Details: "10 joins in 60s (limit 10)"}
	var reports int
	for range 5 {
		reported, err := f.responder.Respond(ctx, inc, model.Member{})
		require.NoError(t, err)
		if reported {
			reports++
		}
	}
	assert.Equal(t, 1, reports, "later joins in the same raid are not logged again")

	assert.Empty(t, f.enforcer.Calls())
	msgs := f.sink.ChatMessages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Possible raid")
}
