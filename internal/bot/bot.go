// Package bot implements the parent-facing Telegram bot. It runs
// in-process against the lock service, so parents can check status and
// unlock remotely without exposing the control API.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"salahguard/config"
	"salahguard/internal/core"
	"salahguard/internal/pin"
)

// PinVerifier checks a candidate PIN
type PinVerifier interface {
	Verify(candidate string) (bool, error)
}

// Bot represents the Telegram parent bot
type Bot struct {
	api     *tgbotapi.BotAPI
	service core.LockService
	pin     PinVerifier
	config  *config.Config
	logger  *slog.Logger
}

// NewBot creates a new Telegram bot instance
func NewBot(cfg *config.Config, service core.LockService, verifier PinVerifier, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return &Bot{
		api:     api,
		service: service,
		pin:     verifier,
		config:  cfg,
		logger:  logger.With("component", "bot"),
	}, nil
}

// Start begins long polling for updates (blocking until ctx cancellation)
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("telegram bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("telegram bot stopped")
			return
		case update := <-updates:
			if err := b.HandleUpdate(ctx, update); err != nil {
				b.logger.Error("failed to handle update", "error", err)
			}
		}
	}
}

// HandleUpdate processes a Telegram update
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}
	message := update.Message

	if message.Chat.ID != b.config.Telegram.ChatID {
		b.logger.Warn("unauthorized access attempt", "chat_id", message.Chat.ID)
		return b.reply(message.Chat.ID, "You are not authorized to use this bot.")
	}

	command := message.Command()
	args := strings.Fields(message.CommandArguments())

	switch command {
	case "start", "help":
		return b.reply(message.Chat.ID, helpText)
	case "status":
		return b.handleStatus(ctx, message.Chat.ID)
	case "today":
		return b.handleToday(ctx, message.Chat.ID)
	case "unlock":
		return b.handleUnlock(ctx, message.Chat.ID, args)
	case "audit":
		return b.handleAudit(ctx, message.Chat.ID)
	default:
		return b.reply(message.Chat.ID, "Unknown command. Try /help.")
	}
}

const helpText = `Salahguard parent bot.

/status - current lock state
/today - today's prayer completions
/unlock <pin> - verify the PIN and unlock
/audit - recent lock events`

func (b *Bot) handleStatus(ctx context.Context, chatID int64) error {
	active, err := b.service.IsLockActive(ctx)
	if err != nil {
		return b.reply(chatID, "Failed to read lock state.")
	}
	if !active {
		return b.reply(chatID, "No active lock. The device is usable.")
	}

	state, err := b.service.LockState(ctx)
	if err != nil {
		return b.reply(chatID, "Failed to read lock state.")
	}
	return b.reply(chatID, FormatLockState(state, b.config.Location()))
}

func (b *Bot) handleToday(ctx context.Context, chatID int64) error {
	records, err := b.service.TodayCompletions(ctx)
	if err != nil {
		return b.reply(chatID, "Failed to read completions.")
	}
	return b.reply(chatID, FormatCompletions(records, b.config.Location()))
}

func (b *Bot) handleUnlock(ctx context.Context, chatID int64, args []string) error {
	if len(args) != 1 {
		return b.reply(chatID, "Usage: /unlock <pin>")
	}

	ok, err := b.pin.Verify(args[0])
	if err != nil {
		if errors.Is(err, pin.ErrLockedOut) {
			return b.reply(chatID, "Too many failed attempts. Try again later.")
		}
		return b.reply(chatID, "PIN verification failed.")
	}
	if !ok {
		return b.reply(chatID, "Wrong PIN.")
	}

	err = b.service.ClearLock(ctx, core.CompletionPinVerified)
	if errors.Is(err, core.ErrLockNotActive) {
		return b.reply(chatID, "PIN correct, but no lock is active.")
	}
	if err != nil {
		return b.reply(chatID, "PIN correct, but the unlock failed.")
	}
	return b.reply(chatID, "Unlocked.")
}

func (b *Bot) handleAudit(ctx context.Context, chatID int64) error {
	entries, err := b.service.ListAudit(ctx, 10)
	if err != nil {
		return b.reply(chatID, "Failed to read the audit log.")
	}
	return b.reply(chatID, FormatAudit(entries, b.config.Location()))
}

func (b *Bot) reply(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}
