// Package bot is the Telegram side of the service: a notification transport
// and a couple of operator commands.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/logger"
	"post-sentinel/internal/notify"
	"post-sentinel/internal/retry"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

// BudgetReader exposes the search budget for /budget.
type BudgetReader interface {
	State() domain.BudgetState
	Limit() int
	Remaining() int
}

// QueueReader exposes the bus for /status.
type QueueReader interface {
	Len() int
	Dropped() uint64
}

type Config struct {
	Token  string
	ChatID int64
	// Offline skips the getMe handshake; used in tests.
	Offline bool
}

type Bot struct {
	bot     *tele.Bot
	chatID  int64
	budget  BudgetReader
	queue   QueueReader
	started time.Time
	log     zerolog.Logger
}

// New returns nil without error when no token is configured.
func New(cfg Config, budget BudgetReader, queue QueueReader) (*Bot, error) {
	log := logger.WithComponent("telegram")
	if cfg.Token == "" {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot")
		return nil, nil
	}
	pref := tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: 10 * time.Second},
		Offline: cfg.Offline,
	}
	tb, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b := &Bot{
		bot:     tb,
		chatID:  cfg.ChatID,
		budget:  budget,
		queue:   queue,
		started: time.Now(),
		log:     log,
	}
	tb.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})
	tb.Handle("/status", func(c tele.Context) error {
		return c.Send(b.statusText())
	})
	tb.Handle("/budget", func(c tele.Context) error {
		return c.Send(b.budgetText())
	})
	return b, nil
}

// Start polls for commands until ctx ends.
func (b *Bot) Start(ctx context.Context) error {
	go b.bot.Start()
	b.log.Info().Msg("Telegram bot started")
	<-ctx.Done()
	b.bot.Stop()
	return nil
}

// SetQueue attaches the bus once it exists; the bus needs the bot as a
// transport first.
func (b *Bot) SetQueue(q QueueReader) {
	b.queue = q
}

func (b *Bot) Name() string { return "telegram" }

// Send implements notify.Transport. Bad requests and auth failures are permanent.
func (b *Bot) Send(_ context.Context, n notify.Notification) error {
	if b.chatID == 0 {
		return retry.Permanent(errors.New("telegram chat id not configured"))
	}
	_, err := b.bot.Send(tele.ChatID(b.chatID), FormatNotification(n), &tele.SendOptions{DisableWebPagePreview: true})
	if err == nil {
		return nil
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return err
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
		return retry.Permanent(err)
	}
	return err
}

// FormatNotification renders a notification as a plain-text Telegram message.
func FormatNotification(n notify.Notification) string {
	var sb strings.Builder
	if n.Priority == domain.PriorityEmergency {
		sb.WriteString("‼️ ")
	}
	sb.WriteString(n.Title)
	sb.WriteString("\n\n")
	sb.WriteString(n.Message)
	if n.URL != "" && !strings.Contains(n.Message, n.URL) {
		sb.WriteString("\n\n")
		sb.WriteString(n.URL)
	}
	return sb.String()
}

func (b *Bot) statusText() string {
	lines := []string{fmt.Sprintf("Up %s", time.Since(b.started).Truncate(time.Second))}
	if b.queue != nil {
		lines = append(lines, fmt.Sprintf("Queue: %d waiting, %d dropped", b.queue.Len(), b.queue.Dropped()))
	}
	if b.budget != nil {
		lines = append(lines, fmt.Sprintf("Search budget: %d/%d left", b.budget.Remaining(), b.budget.Limit()))
	}
	return strings.Join(lines, "\n")
}

func (b *Bot) budgetText() string {
	if b.budget == nil {
		return "Search budget unavailable"
	}
	st := b.budget.State()
	return fmt.Sprintf("Search budget for %s\nUsed: %d\nLimit: %d\nRemaining: %d",
		st.Date, st.Used, b.budget.Limit(), b.budget.Remaining())
}
