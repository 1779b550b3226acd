package alert

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of the bot API the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts payout issues to an operator chat.
type Telegram struct {
	bot    sender
	chatID int64
}

// NewTelegram authorizes the bot token and targets chatID.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) PayoutIssue(ctx context.Context, issue PayoutIssue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := fmt.Sprintf("⚠️ Payout needs attention\nRound: %d\nWinner: %s\nAmount: %d\nStatus: %s\nReason: %s",
		issue.RoundID, issue.Winner, issue.Amount, issue.Status, issue.Reason)
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
