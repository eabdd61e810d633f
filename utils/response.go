package utils

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// EphemeralResponse builds a reply only the invoking moderator can see.
func EphemeralResponse(content string, embeds ...*discordgo.MessageEmbed) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Embeds:  embeds,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// SendEphemeralResponse replies to an interaction. Failures are logged, as
// there is nobody left to report them to.
func SendEphemeralResponse(s *discordgo.Session, i *discordgo.InteractionCreate, content string, embeds ...*discordgo.MessageEmbed) {
	if err := s.InteractionRespond(i.Interaction, EphemeralResponse(content, embeds...)); err != nil {
		slog.Warn("failed to respond to interaction", "component", "bot", "interaction", i.ID, "err", err)
	}
}
