package bot

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/commands"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.log.Info("connected to discord", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
	if err := b.registerCommands(s); err != nil {
		b.log.Warn("failed to register commands", zap.Error(err))
	}
}

// registerCommands registers globally, since /split also has to work in DMs.
func (b *Bot) registerCommands(s *discordgo.Session) error {
	_, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, "", commands.GetCommands())
	if err != nil {
		return err
	}
	b.log.Debug("registered application commands")
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	switch i.ApplicationCommandData().Name {
	case "split":
		b.split.Handle(s, i)
	}
}
