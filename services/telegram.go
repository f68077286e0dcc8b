package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cairn/config"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// TelegramService is the chat transport. It implements Notifier for
// outbound messages and long-polls for inbound commands, throttling
// each chat with its own rate limiter.
type TelegramService struct {
	bot    *tgbotapi.BotAPI
	config *config.Config
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	service := &TelegramService{
		bot:      bot,
		config:   cfg,
		logger:   logger,
		limiters: make(map[int64]*rate.Limiter),
	}

	if err := service.testConnection(); err != nil {
		return nil, err
	}

	logger.Info("Telegram bot connected", zap.String("bot_username", bot.Self.UserName))
	return service, nil
}

// testConnection verifies the bot token with retries, the API is
// occasionally slow to answer the first call after startup.
func (t *TelegramService) testConnection() error {
	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if _, err := t.bot.GetMe(); err == nil {
			return nil
		} else if attempt < maxRetries {
			t.logger.Warn("Telegram connection test failed, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			time.Sleep(time.Duration(attempt) * time.Second)
		} else {
			return fmt.Errorf("telegram connection test failed after %d attempts: %w", maxRetries, err)
		}
	}
	return nil
}

// Send delivers one HTML message to a chat.
func (t *TelegramService) Send(chatID int64, message string) error {
	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// Run long-polls for updates until ctx is cancelled, passing each text
// message to handle. Messages from chats over their rate limit are
// dropped before handle runs.
func (t *TelegramService) Run(ctx context.Context, handle func(ctx context.Context, chatID int64, text string)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.config.TelegramPollSec

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("Telegram update loop started")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			t.logger.Info("Telegram update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				t.logger.Warn("Telegram update channel closed")
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}

			chatID := update.Message.Chat.ID
			if !t.allow(chatID) {
				t.logger.Warn("Chat rate limit exceeded", zap.Int64("chat_id", chatID))
				continue
			}

			handle(ctx, chatID, update.Message.Text)
		}
	}
}

// allow checks the per-chat limiter, creating it on first contact.
func (t *TelegramService) allow(chatID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.limiters[chatID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(t.config.CommandRatePerMin/60.0), t.config.CommandBurst)
		t.limiters[chatID] = limiter
	}
	return limiter.Allow()
}
