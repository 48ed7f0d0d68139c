package bot

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/commands"
	"github.com/susu3304/receiptsplit/internal/store"
)

type Bot struct {
	session   *discordgo.Session
	split     *commands.Split
	reminders *reminderWorker
	log       *zap.Logger
}

func New(token string, st store.Store, split *commands.Split, reminderInterval time.Duration, log *zap.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	b := &Bot{
		session: session,
		split:   split,
		log:     log,
	}
	if reminderInterval > 0 {
		b.reminders = newReminderWorker(session, st, split, reminderInterval, log)
	}

	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteractionCreate)

	session.Identify.Intents = discordgo.IntentsGuilds

	return b, nil
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.reminders.start()
	b.log.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	b.reminders.stop()
	return b.session.Close()
}
