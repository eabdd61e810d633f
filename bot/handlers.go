package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatwarden/model"

	"github.com/bwmarrin/discordgo"
)

const eventTimeout = 15 * time.Second

// activityEvents splits a message into the activity the raid detector
// tracks. GIFs are keyed by their source URL, or by name and size for
// uploads, since Discord assigns every upload a fresh id.
func activityEvents(m *discordgo.Message, at time.Time) []model.ActivityEvent {
	base := model.ActivityEvent{ChatID: m.GuildID, UserID: m.Author.ID, At: at}
	var events []model.ActivityEvent
	add := func(t model.ActivityType, content string) {
		ev := base
		ev.Type = t
		ev.Content = content
		events = append(events, ev)
	}

	for _, s := range m.StickerItems {
		add(model.ActivitySticker, s.ID)
	}
	for _, a := range m.Attachments {
		if a.ContentType == "image/gif" || strings.HasSuffix(strings.ToLower(a.Filename), ".gif") {
			add(model.ActivityGIF, fmt.Sprintf("%s:%d", a.Filename, a.Size))
		}
	}
	for _, e := range m.Embeds {
		if e.Type == discordgo.EmbedTypeGifv && e.URL != "" {
			add(model.ActivityGIF, e.URL)
		}
	}
	if strings.TrimSpace(m.Content) != "" && len(events) == 0 {
		add(model.ActivityText, m.Content)
	}
	return events
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	target := memberFrom(m.Author, m.Member)
	for _, ev := range activityEvents(m.Message, at) {
		inc, err := b.Detector.Classify(ctx, ev)
		if err != nil {
			b.log.Error("failed to classify activity", "chat", ev.ChatID, "user", ev.UserID, "type", ev.Type, "err", err)
			continue
		}
		b.respond(ctx, inc, target)
		if inc != nil {
			// one detection per message is enough
			return
		}
	}
}

func (b *Bot) onGuildMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.Member == nil || m.User == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	at := m.JoinedAt
	if at.IsZero() {
		at = time.Now()
	}
	inc, err := b.Detector.ClassifyJoin(ctx, model.JoinEvent{ChatID: m.GuildID, UserID: m.User.ID, At: at})
	if err != nil {
		b.log.Error("failed to classify join", "chat", m.GuildID, "user", m.User.ID, "err", err)
	}
	b.respond(ctx, inc, memberFrom(m.User, m.Member))

	if _, err := b.Actions.RestoreOnRejoin(ctx, m.GuildID, m.User.ID); err != nil {
		b.log.Error("failed to restore mute on rejoin", "chat", m.GuildID, "user", m.User.ID, "err", err)
	}
}

func (b *Bot) respond(ctx context.Context, inc *model.RaidIncident, target model.Member) {
	if inc == nil {
		return
	}
	if b.responder == nil {
		return
	}
	reported, err := b.responder.Respond(ctx, inc, target)
	if err != nil {
		b.log.Error("failed to respond to raid incident", "chat", inc.ChatID, "user", inc.UserID, "type", inc.RaidType, "err", err)
	}
	if reported {
		b.platform.LogIncident(ctx, *inc)
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info("connected to gateway", "user", r.User.Username, "guilds", len(r.Guilds))
}
