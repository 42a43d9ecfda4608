package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
)

// Telegram sends notifications as chat messages through the Bot API.
type Telegram struct {
	bot     *bot.Bot
	chatID  int64
	log     *slog.Logger
	timeout time.Duration
}

// NewTelegram creates a sender for chatID. Extra options are passed to bot.New
// (tests use bot.WithServerURL).
func NewTelegram(token string, chatID int64, log *slog.Logger, opts ...bot.Option) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	if log == nil {
		log = slog.Default()
	}
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID, log: log, timeout: 10 * time.Second}, nil
}

func (t *Telegram) Notify(ctx context.Context, m Message) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	_, err := t.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   formatText(m),
	})
	if err != nil {
		t.log.WarnContext(ctx, "telegram notify failed", slog.Any("err", err))
	}
}

func formatText(m Message) string {
	parts := []string{m.Title}
	if m.Body != "" {
		parts = append(parts, m.Body)
	}
	if m.Link != "" {
		parts = append(parts, m.Link)
	}
	return strings.Join(parts, "\n")
}
