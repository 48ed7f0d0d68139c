package commands

import (
	"github.com/bwmarrin/discordgo"
)

// Discord rejects message content longer than this.
const maxMessageLength = 2000

func respondText(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: truncate(content),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func getStringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}

// getUserID works for both guild and DM interactions.
func getUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func truncate(content string) string {
	r := []rune(content)
	if len(r) <= maxMessageLength {
		return content
	}
	return string(r[:maxMessageLength-1]) + "…"
}
