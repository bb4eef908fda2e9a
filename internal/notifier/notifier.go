package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"autoliker/internal/markdown"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Notifier sends operator notices to one Telegram chat. A nil *Notifier
// drops every notice.
type Notifier struct {
	sender Sender
	chatID int64
	log    *slog.Logger
}

func New(token string, chatID int64, log *slog.Logger) (*Notifier, error) {
	token = strings.TrimSpace(token)

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	return NewWithSender(b, chatID, log), nil
}

func NewWithSender(sender Sender, chatID int64, log *slog.Logger) *Notifier {
	return &Notifier{sender: sender, chatID: chatID, log: log}
}

func (n *Notifier) NotifyDeactivated(ctx context.Context, accountKey string, failures int) error {
	if n == nil {
		return nil
	}

	text := fmt.Sprintf("⛔ *Auto\\-like deactivated*\n\nAccount: %s\nConsecutive failures: %d",
		markdown.Code(accountKey), failures)

	return n.send(ctx, text)
}

func (n *Notifier) NotifyCycleFailed(ctx context.Context, cause error) error {
	if n == nil || cause == nil {
		return nil
	}

	text := "⚠️ *Dispatch cycle failed*\n\n" + markdown.EscapeV2(cause.Error())

	return n.send(ctx, text)
}

func (n *Notifier) send(ctx context.Context, text string) error {
	_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdown,
	})
	if err != nil {
		return fmt.Errorf("send message (chatID = %d): %w", n.chatID, err)
	}

	n.log.InfoContext(ctx, "Operator notice is sent",
		"chatID", n.chatID)

	return nil
}
