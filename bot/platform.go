package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chatwarden/model"
	"chatwarden/utils"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// maxTimeout is the longest communication timeout Discord accepts.
const maxTimeout = 28 * 24 * time.Hour

// Platform implements the moderation collaborators on top of a Discord
// session. Chats are guilds.
type Platform struct {
	session *discordgo.Session
	config  func(chatID string) model.ChatConfig
	// guild id -> owner id
	owners *expirable.LRU[string, string]
	now    func() time.Time
	log    *slog.Logger
}

func NewPlatform(session *discordgo.Session, config func(chatID string) model.ChatConfig, logger *slog.Logger) *Platform {
	if logger == nil {
		logger = slog.Default()
	}
	return &Platform{
		session: session,
		config:  config,
		owners:  expirable.NewLRU[string, string](1024, nil, 10*time.Minute),
		now:     time.Now,
		log:     logger.With("component", "discord_platform"),
	}
}

// IsCreator reports whether userID owns the guild.
func (p *Platform) IsCreator(ctx context.Context, chatID, userID string) (bool, error) {
	if owner, ok := p.owners.Get(chatID); ok {
		return owner == userID, nil
	}
	g, err := p.session.Guild(chatID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to fetch guild %s: %w", chatID, err)
	}
	p.owners.Add(chatID, g.OwnerID)
	return g.OwnerID == userID, nil
}

// timeoutUntil clamps a restriction end to what Discord accepts. Longer or
// indefinite mutes rely on the mute role and on rejoin restore.
func (p *Platform) timeoutUntil(until *time.Time) time.Time {
	limit := p.now().Add(maxTimeout)
	if until == nil || until.After(limit) {
		return limit
	}
	return *until
}

// Restrict times the member out. A user who is not in the guild, as after a
// kick, is skipped: onGuildMemberAdd reasserts the mute when they rejoin.
func (p *Platform) Restrict(ctx context.Context, chatID, userID string, until *time.Time) error {
	t := p.timeoutUntil(until)
	if err := p.session.GuildMemberTimeout(chatID, userID, &t, discordgo.WithContext(ctx)); err != nil {
		if isUnknownMember(err) {
			p.log.Debug("member not in guild, mute deferred to rejoin", "chat", chatID, "user", userID)
			return nil
		}
		return fmt.Errorf("failed to time out user %s in guild %s: %w", userID, chatID, err)
	}
	if roleID := p.config(chatID).MuteRoleID; roleID != "" {
		if err := p.session.GuildMemberRoleAdd(chatID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to add mute role %s to user %s: %w", roleID, userID, err)
		}
	}
	return nil
}

func (p *Platform) LiftRestriction(ctx context.Context, chatID, userID string) error {
	if err := p.session.GuildMemberTimeout(chatID, userID, nil, discordgo.WithContext(ctx)); err != nil {
		if isUnknownMember(err) {
			p.log.Debug("member not in guild, nothing to lift", "chat", chatID, "user", userID)
			return nil
		}
		return fmt.Errorf("failed to clear timeout for user %s in guild %s: %w", userID, chatID, err)
	}
	if roleID := p.config(chatID).MuteRoleID; roleID != "" {
		if err := p.session.GuildMemberRoleRemove(chatID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("failed to remove mute role %s from user %s: %w", roleID, userID, err)
		}
	}
	return nil
}

// Exclude bans the user. Discord bans carry no expiry; the expiry scanner
// lifts timed bans.
func (p *Platform) Exclude(ctx context.Context, chatID, userID string, until *time.Time) error {
	reason := "banned indefinitely"
	if until != nil {
		reason = "banned until " + until.UTC().Format(time.RFC3339)
	}
	if err := p.session.GuildBanCreateWithReason(chatID, userID, reason, 0, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to ban user %s from guild %s: %w", userID, chatID, err)
	}
	return nil
}

func (p *Platform) UnExclude(ctx context.Context, chatID, userID string) error {
	if err := p.session.GuildBanDelete(chatID, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to unban user %s from guild %s: %w", userID, chatID, err)
	}
	return nil
}

// NotifyChat posts to the guild's log channel. Guilds without one are
// skipped silently.
func (p *Platform) NotifyChat(ctx context.Context, chatID, text string) error {
	channelID := p.config(chatID).LogChannelID
	if channelID == "" {
		return nil
	}
	embed := utils.BuildLogEmbed(utils.Info, "Moderation", "Notice", text)
	if _, err := p.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send notice to channel %s: %w", channelID, err)
	}
	return nil
}

// NotifyUser sends a direct message.
func (p *Platform) NotifyUser(ctx context.Context, userID, text string) error {
	channel, err := p.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to open DM channel with user %s: %w", userID, err)
	}
	if _, err := p.session.ChannelMessageSend(channel.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send DM to user %s: %w", userID, err)
	}
	return nil
}

// LogIncident reports a raid detection to the guild's log channel.
func (p *Platform) LogIncident(ctx context.Context, inc model.RaidIncident) {
	channelID := p.config(inc.ChatID).LogChannelID
	if channelID == "" {
		return
	}
	extra := inc.Details
	if inc.UserID != "" {
		extra = fmt.Sprintf("<@%s>: %s", inc.UserID, inc.Details)
	}
	embed := utils.BuildLogEmbed(utils.Warn, "Raid", string(inc.RaidType), extra)
	if _, err := p.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		p.log.Warn("failed to log raid incident", "chat", inc.ChatID, "err", err)
	}
}

func isUnknownMember(err error) bool {
	var restErr *discordgo.RESTError
	return errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMember
}

// memberFrom builds the moderation view of a Discord user.
func memberFrom(u *discordgo.User, m *discordgo.Member) model.Member {
	if u == nil && m != nil {
		u = m.User
	}
	if u == nil {
		return model.Member{}
	}
	display := u.GlobalName
	if m != nil && m.Nick != "" {
		display = m.Nick
	}
	return model.NewMember(u.ID, u.Username, display, u.Bot)
}
