package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/infra/retry"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// TelegramSender is satisfied by *tgbotapi.BotAPI.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts every bot update to one operator chat.
type TelegramNotifier struct {
	bot    TelegramSender
	chatID int64
	retry  retry.Options
}

func NewTelegramNotifier(bot TelegramSender, chatID int64, opts retry.Options) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID, retry: opts}
}

func (n *TelegramNotifier) Publish(ctx context.Context, u Update) error {
	msg := tgbotapi.NewMessage(n.chatID, formatUpdateMessage(u))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	opts := n.retry
	opts.OnRetry = func(attempt int, err error, sleep time.Duration) {
		log.LogWarn("Telegram send failed, retrying",
			zap.Int64("botID", u.BotID),
			zap.Int("attempt", attempt+1),
			zap.Duration("sleep", sleep),
			zap.Error(err))
	}

	err := retry.Do(ctx, opts, func() error {
		_, err := n.bot.Send(msg)
		return classifyTelegramError(err)
	})
	if err != nil {
		return fmt.Errorf("telegram notify bot %d: %w", u.BotID, err)
	}
	return nil
}

func formatUpdateMessage(u Update) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 <b>%s</b>\n", html.EscapeString(u.BotName))
	fmt.Fprintf(&b, "<b>Value:</b> <code>%s</code>\n", html.EscapeString(u.Value))
	fmt.Fprintf(&b, "<b>Network:</b> %s | <b>Type:</b> %s\n", html.EscapeString(string(u.Network)), html.EscapeString(string(u.Type)))
	fmt.Fprintf(&b, "<i>%s</i>", u.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	return b.String()
}

// classifyTelegramError maps API errors onto retry semantics: flood control
// and server errors are retried, other API errors are final.
func classifyTelegramError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return &retry.HTTPError{
				StatusCode: apiErr.Code,
				Body:       []byte(apiErr.Message),
				RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second,
			}
		}
		return err
	}
	return retry.Temporary(err)
}
