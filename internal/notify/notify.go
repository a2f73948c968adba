// Package notify sends operator notifications.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"futures-signal-bot-go/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier delivers a plain-text message. Delivery failures never affect trading.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Nop discards every message.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, string) error { return nil }

// Telegram posts to the Bot API sendMessage method.
type Telegram struct {
	client  *resty.Client
	chatID  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New returns a Telegram notifier, or Nop when no token or chat is configured.
func New(cfg config.Telegram, timeout time.Duration, logger *zap.Logger) Notifier {
	if cfg.Token == "" || cfg.ChatID == "" {
		logger.Info("Telegram notifications disabled")
		return Nop{}
	}
	return NewTelegram(cfg, timeout, logger)
}

// NewTelegram returns a notifier that sends at most cfg.RateLimit messages per second.
func NewTelegram(cfg config.Telegram, timeout time.Duration, logger *zap.Logger) *Telegram {
	perSecond := cfg.RateLimit
	if perSecond <= 0 {
		perSecond = 1
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.Token
	return &Telegram{
		client:  resty.New().SetBaseURL(baseURL).SetTimeout(timeout),
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger.Named("telegram"),
	}
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limiter: %w", err)
	}

	var out sendMessageResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": t.chatID, "text": text}).
		SetResult(&out).
		SetError(&out).
		Post("/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	if resp.IsError() || !out.OK {
		return fmt.Errorf("telegram returned %d: %s", resp.StatusCode(), out.Description)
	}
	t.logger.Debug("Notification sent", zap.Int("chars", len(text)))
	return nil
}
