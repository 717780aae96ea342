// Package notify sends trading cycle notifications to Telegram.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultTelegramAPI = "https://api.telegram.org"

	// Telegram rejects messages above 4096 characters.
	maxMessageRunes = 4000
)

// Telegram posts Markdown messages to every configured chat.
type Telegram struct {
	client  *resty.Client
	token   string
	chatIDs []string
	logger  *zap.Logger
}

func NewTelegram(apiURL, token string, chatIDs []string, logger *zap.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("at least one telegram chat id is required")
	}
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Telegram{client: client, token: token, chatIDs: chatIDs, logger: logger}, nil
}

// Send delivers text to all chats and returns the first failure.
func (t *Telegram) Send(ctx context.Context, text string) error {
	text = truncate(text, maxMessageRunes)

	var firstErr error
	for _, chatID := range t.chatIDs {
		if err := t.sendTo(ctx, chatID, text); err != nil {
			t.logger.Error("telegram send failed", zap.String("chat_id", chatID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		t.logger.Debug("telegram notification sent", zap.String("chat_id", chatID))
	}

	return firstErr
}

func (t *Telegram) sendTo(ctx context.Context, chatID, text string) error {
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]any{
			"chat_id":    chatID,
			"text":       text,
			"parse_mode": "Markdown",
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return errors.Wrap(err, "telegram request")
	}
	if resp.IsError() {
		return errors.Errorf("telegram status=%d", resp.StatusCode())
	}

	return nil
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Async wraps a sender so notifications never block or fail the caller.
type Async struct {
	sender  Sender
	timeout time.Duration
	logger  *zap.Logger
}

func NewAsync(sender Sender, logger *zap.Logger) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{sender: sender, timeout: time.Minute, logger: logger}
}

// Notify sends text in the background. Failures are logged.
func (a *Async) Notify(text string) {
	if a == nil || a.sender == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.sender.Send(ctx, text); err != nil {
			a.logger.Warn("notification dropped", zap.Error(err))
		}
	}()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
