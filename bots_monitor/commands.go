package bot

// Telegram ops chat: read-only platform views plus restart.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	"cryptobotics/internal/features/charts"
	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const maxListedBots = 20

// CommandBot is the part of *tgbotapi.BotAPI the handler drives.
type CommandBot interface {
	TelegramSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type CommandStore interface {
	GetBot(ctx context.Context, id int64) (*models.Bot, error)
	ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]*models.Bot, error)
	GetPlatformStats(ctx context.Context) (*models.PlatformStats, error)
}

// CommandHandler answers commands posted in the ops chat. Other chats are ignored.
type CommandHandler struct {
	bot     CommandBot
	chatID  int64
	store   CommandStore
	sched   *Scheduler
	history *History
}

func NewCommandHandler(bot CommandBot, chatID int64, store CommandStore, sched *Scheduler, history *History) *CommandHandler {
	return &CommandHandler{bot: bot, chatID: chatID, store: store, sched: sched, history: history}
}

// Run polls for updates until ctx is done.
func (h *CommandHandler) Run(ctx context.Context) {
	log.LogInfo("Starting command handler", zap.Int64("chatID", h.chatID))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := h.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			h.bot.StopReceivingUpdates()
			log.LogInfo("Command handler stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				h.handle(ctx, update.Message)
			}
		}
	}
}

func (h *CommandHandler) handle(ctx context.Context, message *tgbotapi.Message) {
	if message.Chat == nil || message.Chat.ID != h.chatID || !message.IsCommand() {
		return
	}
	command := message.Command()
	args := strings.TrimSpace(message.CommandArguments())

	username := ""
	if message.From != nil {
		username = message.From.UserName
	}
	log.LogDebug("Received command",
		zap.String("command", command),
		zap.String("args", args),
		zap.String("username", username))

	var (
		reply tgbotapi.Chattable
		err   error
	)
	switch command {
	case "help", "start":
		reply = h.htmlMessage(helpText)
	case "stats":
		reply, err = h.statsReply(ctx)
	case "bots":
		reply, err = h.botsReply(ctx)
	case "bot":
		reply, err = h.withBotID(args, func(id int64) (tgbotapi.Chattable, error) { return h.botReply(ctx, id) })
	case "chart":
		reply, err = h.withBotID(args, func(id int64) (tgbotapi.Chattable, error) { return h.chartReply(ctx, id) })
	case "restart":
		reply, err = h.withBotID(args, func(id int64) (tgbotapi.Chattable, error) { return h.restartReply(ctx, id) })
	default:
		return
	}

	if err != nil {
		log.LogWarn("Command failed", zap.String("command", command), zap.Error(err))
		reply = tgbotapi.NewMessage(h.chatID, "Failed: "+err.Error())
	}
	if _, err := h.bot.Send(reply); err != nil {
		log.LogError("Failed to send command reply", zap.String("command", command), zap.Error(err))
	}
}

const helpText = "" +
	"Commands:\n" +
	"• <code>/stats</code> - platform counters\n" +
	"• <code>/bots</code> - active bots\n" +
	"• <code>/bot {id}</code> - bot details\n" +
	"• <code>/chart {id}</code> - recent values chart\n" +
	"• <code>/restart {id}</code> - restart a bot"

func (h *CommandHandler) htmlMessage(text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(h.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	return msg
}

func (h *CommandHandler) withBotID(args string, fn func(int64) (tgbotapi.Chattable, error)) (tgbotapi.Chattable, error) {
	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil || id <= 0 {
		return tgbotapi.NewMessage(h.chatID, "Usage: /<command> {bot id}"), nil
	}
	return fn(id)
}

func (h *CommandHandler) statsReply(ctx context.Context) (tgbotapi.Chattable, error) {
	st, err := h.store.GetPlatformStats(ctx)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("<b>Platform stats</b>\n")
	fmt.Fprintf(&b, "Active bots: <b>%d</b> (timers: %d)\n", st.ActiveBots, h.sched.RunningCount())
	fmt.Fprintf(&b, "Users: %d\n", st.TotalUsers)
	fmt.Fprintf(&b, "RPC calls today: %d\n", st.DailyRPCCalls)
	fmt.Fprintf(&b, "RPC calls total: %d\n", st.TotalRPCCalls)
	if !st.LastReset.IsZero() {
		fmt.Fprintf(&b, "Last reset: %s", st.LastReset.UTC().Format("2006-01-02 15:04 MST"))
	}
	return h.htmlMessage(b.String()), nil
}

func (h *CommandHandler) botsReply(ctx context.Context) (tgbotapi.Chattable, error) {
	bots, err := h.store.ListBotsByStatus(ctx, models.StatusActive)
	if err != nil {
		return nil, err
	}
	if len(bots) == 0 {
		return tgbotapi.NewMessage(h.chatID, "No active bots"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Active bots (%d)</b>\n", len(bots))
	for i, bot := range bots {
		if i == maxListedBots {
			fmt.Fprintf(&b, "… and %d more", len(bots)-maxListedBots)
			break
		}
		fmt.Fprintf(&b, "#%d %s [%s/%s] %s\n",
			bot.ID, html.EscapeString(bot.Name), bot.Type, bot.Network, html.EscapeString(bot.LastValue))
	}
	return h.htmlMessage(b.String()), nil
}

func (h *CommandHandler) botReply(ctx context.Context, id int64) (tgbotapi.Chattable, error) {
	bot, err := h.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b> #%d\n", html.EscapeString(bot.Name), bot.ID)
	fmt.Fprintf(&b, "Type: %s\nNetwork: %s\nStatus: %s\n", bot.Type, bot.Network, bot.Status)
	fmt.Fprintf(&b, "Every: %ss\n", bot.UpdateFrequency)
	if bot.LastValue != "" {
		fmt.Fprintf(&b, "Last value: <code>%s</code>\n", html.EscapeString(bot.LastValue))
	}
	if bot.LastUpdated != nil {
		fmt.Fprintf(&b, "Updated: %s", bot.LastUpdated.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return h.htmlMessage(b.String()), nil
}

func (h *CommandHandler) chartReply(ctx context.Context, id int64) (tgbotapi.Chattable, error) {
	bot, err := h.store.GetBot(ctx, id)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := charts.RenderValueChart(&buf, bot.Name, h.history.Points(id)); err != nil {
		if errors.Is(err, charts.ErrNoSamples) {
			return tgbotapi.NewMessage(h.chatID, "No numeric values recorded yet"), nil
		}
		return nil, err
	}
	photo := tgbotapi.NewPhoto(h.chatID, tgbotapi.FileBytes{Name: fmt.Sprintf("bot_%d.png", id), Bytes: buf.Bytes()})
	photo.Caption = fmt.Sprintf("<b>%s</b> #%d", html.EscapeString(bot.Name), id)
	photo.ParseMode = tgbotapi.ModeHTML
	return photo, nil
}

func (h *CommandHandler) restartReply(ctx context.Context, id int64) (tgbotapi.Chattable, error) {
	bot, err := h.sched.Restart(ctx, id)
	if err != nil {
		return nil, err
	}
	log.LogInfo("Bot restarted from ops chat", zap.Int64("botID", id))
	return tgbotapi.NewMessage(h.chatID, fmt.Sprintf("Bot #%d restarted, status %s", bot.ID, bot.Status)), nil
}
