package utils

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestEphemeralResponse(t *testing.T) {
	assert := assert.New(t)

	r := EphemeralResponse("done")
	assert.Equal(discordgo.InteractionResponseChannelMessageWithSource, r.Type)
	assert.Equal("done", r.Data.Content)
	assert.Equal(discordgo.MessageFlagsEphemeral, r.Data.Flags)
	assert.Empty(r.Data.Embeds)

	embed := &discordgo.MessageEmbed{Title: "stats"}
	r = EphemeralResponse("", embed)
	assert.Equal([]*discordgo.MessageEmbed{embed}, r.Data.Embeds)
}
