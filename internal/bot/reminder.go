package bot

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/store"
)

// reminderWorker DMs owners who have proposals waiting for approval, at most
// once per interval each.
type reminderWorker struct {
	store    store.Store
	texts    pendingTexter
	session  reminderSession
	log      *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	ticker   *time.Ticker
	poll     time.Duration
	interval time.Duration
	now      func() time.Time

	// next holds the earliest time each owner may be reminded again.
	next map[string]time.Time
}

// Minimal session interface for opening DM channels and sending messages.
type reminderSession interface {
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type pendingTexter interface {
	PendingText(ctx context.Context, owner string) (string, error)
}

func newReminderWorker(session reminderSession, st store.Store, texts pendingTexter, interval time.Duration, log *zap.Logger) *reminderWorker {
	poll := time.Minute
	if interval < poll {
		poll = interval
	}
	return &reminderWorker{
		store:    st,
		texts:    texts,
		session:  session,
		log:      log,
		stopChan: make(chan struct{}),
		poll:     poll,
		interval: interval,
		now:      time.Now,
		next:     make(map[string]time.Time),
	}
}

func (w *reminderWorker) start() {
	if w == nil {
		return
	}
	w.ticker = time.NewTicker(w.poll)
	go w.loop()
}

func (w *reminderWorker) stop() {
	if w == nil {
		return
	}
	w.stopOnce.Do(func() {
		close(w.stopChan)
		if w.ticker != nil {
			w.ticker.Stop()
		}
	})
}

func (w *reminderWorker) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		select {
		case <-w.ticker.C:
			w.tick(ctx)
		case <-w.stopChan:
			return
		}
	}
}

func (w *reminderWorker) tick(ctx context.Context) {
	now := w.now()
	owners, err := w.store.PendingOwners(ctx)
	if err != nil {
		w.log.Warn("reminder: failed to load pending owners", zap.Error(err))
		return
	}

	waiting := make(map[string]bool, len(owners))
	for _, owner := range owners {
		waiting[owner] = true
		if due, ok := w.next[owner]; ok && now.Before(due) {
			continue
		}
		msg, err := w.texts.PendingText(ctx, owner)
		if err != nil {
			w.log.Warn("reminder: failed to build message", zap.String("owner", owner), zap.Error(err))
			continue
		}
		if err := w.notify(ctx, owner, msg+"\n\nThis is an automatic reminder."); err != nil {
			w.log.Warn("reminder: failed to send", zap.String("owner", owner), zap.Error(err))
			// Back off so a bad edge or closed DMs are not retried every poll.
			backoff := 2 * time.Minute
			if backoff > w.interval {
				backoff = w.interval
			}
			w.next[owner] = now.Add(backoff)
			continue
		}
		w.next[owner] = now.Add(w.interval)
	}

	// Forget owners whose proposals were handled so a new one is announced promptly.
	for owner := range w.next {
		if !waiting[owner] {
			delete(w.next, owner)
		}
	}
}

func (w *reminderWorker) notify(ctx context.Context, userID, content string) error {
	ch, err := w.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	return w.sendWithRetry(ctx, ch.ID, content)
}

func (w *reminderWorker) sendWithRetry(ctx context.Context, channelID, content string) error {
	const attemptTimeout = 12 * time.Second
	const maxAttempts = 2

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		_, err := w.session.ChannelMessageSend(channelID, content, discordgo.WithContext(sendCtx))
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTemporaryOrTimeout(err) {
			return err
		}
		time.Sleep(time.Duration(300+rand.Intn(500)) * time.Millisecond)
	}
	return lastErr
}

func isTemporaryOrTimeout(err error) bool {
	if err == nil {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
