package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/gaultierq/n8n-resamania/pkg/types"
)

// Notifier delivers run outcomes to a human.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Noop silently drops notifications when none are configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

// Telegram sends notifications to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Notify(_ context.Context, text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// RunSummary renders a run result for a notification message.
func RunSummary(res types.RunResult) string {
	elapsed := res.Elapsed.Round(time.Second)
	if res.TotalBooked > 0 {
		return fmt.Sprintf("✅ Booked %d class(es) in %d attempt(s) (%s)",
			res.TotalBooked, res.Attempts, elapsed)
	}
	return fmt.Sprintf("❌ No booking after %d attempt(s) (%s)",
		res.Attempts, elapsed)
}
