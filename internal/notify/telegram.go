package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"salahguard/config"
)

// TelegramNotifier pushes parent-facing alerts to a configured chat
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegramNotifier creates the notifier, or returns nil if telegram is
// disabled in config (callers treat a nil notifier as a no-op).
func NewTelegramNotifier(cfg config.TelegramConfig, logger *slog.Logger) (*TelegramNotifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		api:    api,
		chatID: cfg.ChatID,
		logger: logger.With("component", "telegram"),
	}, nil
}

// Send delivers a plain-text message to the parent chat
func (t *TelegramNotifier) Send(text string) error {
	if t == nil {
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
