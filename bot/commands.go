package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatwarden/model"
	"chatwarden/moderation"
	"chatwarden/utils"

	"github.com/bwmarrin/discordgo"
)

var moderatePermission int64 = discordgo.PermissionModerateMembers

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: description, Required: true}
}

var (
	durationOption = &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "e.g. 10m, 2h, 7d; omit for the chat default"}
	reasonOption   = &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason shown to the user"}
)

// Commands are registered per guild on startup.
var Commands = []*discordgo.ApplicationCommand{
	{Name: "mute", Description: "Mute a member", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to mute"), durationOption, reasonOption}},
	{Name: "ban", Description: "Ban a member", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to ban"), durationOption, reasonOption}},
	{Name: "kick", Description: "Kick a member", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to kick"), reasonOption}},
	{Name: "warn", Description: "Warn a member", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to warn"), reasonOption}},
	{Name: "unmute", Description: "Lift a member's mute", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to unmute")}},
	{Name: "unban", Description: "Lift a member's ban", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to unban")}},
	{Name: "punishments", Description: "Show a member's punishment history", DefaultMemberPermissions: &moderatePermission,
		Options: []*discordgo.ApplicationCommandOption{userOption("Member to look up")}},
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.GuildID == "" || i.Member == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	data := i.ApplicationCommandData()
	options := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, opt := range data.Options {
		options[opt.Name] = opt
	}
	userOpt, ok := options["user"]
	if !ok {
		return
	}
	target := memberFrom(userOpt.UserValue(s), nil)
	moderator := memberFrom(nil, i.Member)
	reason := ""
	if opt, ok := options["reason"]; ok {
		reason = opt.StringValue()
	}

	var reply string
	switch data.Name {
	case "mute", "ban", "kick", "warn":
		req := moderation.ApplyRequest{ChatID: i.GuildID, Kind: model.Kind(data.Name), Target: target, Moderator: moderator, Reason: reason}
		if opt, ok := options["duration"]; ok {
			d, err := utils.ParseDuration(opt.StringValue())
			if err != nil || d <= 0 {
				utils.SendEphemeralResponse(s, i, "Invalid duration.")
				return
			}
			req.Duration = &d
		}
		p, err := b.Actions.Issue(ctx, req)
		reply = issueReply(p, err)
	case "unmute", "unban":
		kind := model.KindMute
		if data.Name == "unban" {
			kind = model.KindBan
		}
		ok, err := b.Actions.Revoke(ctx, i.GuildID, kind, target, moderator)
		switch {
		case err != nil && !moderation.IsExternal(err):
			reply = errorReply(err)
		case !ok:
			reply = fmt.Sprintf("%s has no active %s.", target.Label(), kind)
		case err != nil:
			reply = fmt.Sprintf("Lifted the %s on %s, but Discord refused the change: %v", kind, target.Label(), err)
		default:
			reply = fmt.Sprintf("Lifted the %s on %s.", kind, target.Label())
		}
	case "punishments":
		reply = b.historyReply(ctx, i.GuildID, target)
	default:
		return
	}
	utils.SendEphemeralResponse(s, i, reply)
}

func issueReply(p model.Punishment, err error) string {
	if err != nil && !moderation.IsExternal(err) {
		return errorReply(err)
	}
	text := fmt.Sprintf("Recorded %s #%d for %s.", p.Kind, p.ID, p.TargetName)
	if until := p.Until(); until != nil {
		text += fmt.Sprintf(" Expires <t:%d:R>.", until.Unix())
	}
	if err != nil {
		text += fmt.Sprintf(" Discord refused the change: %v", err)
	}
	return text
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, moderation.ErrNotPermitted):
		return "You do not have permission to do that."
	case errors.Is(err, moderation.ErrHierarchy):
		return "You can only act on members ranked below you."
	default:
		return "Something went wrong, please try again later."
	}
}

func (b *Bot) historyReply(ctx context.Context, chatID string, target model.Member) string {
	history, err := b.Actions.Manager().Store().History(ctx, chatID, target.ID, 10)
	if err != nil {
		b.log.Error("failed to load punishment history", "chat", chatID, "user", target.ID, "err", err)
		return errorReply(err)
	}
	if len(history) == 0 {
		return fmt.Sprintf("%s has no punishments.", target.Label())
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Punishments for %s:\n", target.Label())
	for _, p := range history {
		state := string(p.CloseReason)
		if p.IsActive {
			state = "active"
		}
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(&sb, "#%d %s <t:%d:f> [%s] %s\n", p.ID, p.Kind, p.CreatedAt, state, p.Reason)
	}
	return sb.String()
}

// RegisterCommands overwrites the slash commands of every guild the bot is in.
func (b *Bot) RegisterCommands(ctx context.Context) {
	guilds, err := b.Session.UserGuilds(100, "", "", false, discordgo.WithContext(ctx))
	if err != nil {
		b.log.Error("could not fetch guilds", "err", err)
		return
	}
	for _, g := range guilds {
		if _, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, g.ID, Commands, discordgo.WithContext(ctx)); err != nil {
			b.log.Error("cannot update commands", "guild", g.ID, "err", err)
		}
	}
}
