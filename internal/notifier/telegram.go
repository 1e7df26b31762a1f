package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const defaultAPIBase = "https://api.telegram.org"

// Notifier delivers operator messages.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Noop discards every message; used when Telegram is not configured.
type Noop struct{}

func (Noop) SendWithRetry(context.Context, string, int) error { return nil }

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
	log      zerolog.Logger

	backoff func(attempt int) time.Duration
}

type Option func(*TelegramNotifier)

// WithAPIBase points the notifier at another Bot API host.
func WithAPIBase(base string) Option {
	return func(t *TelegramNotifier) { t.client.SetBaseURL(strings.TrimSuffix(base, "/")) }
}

func WithLogger(log zerolog.Logger) Option {
	return func(t *TelegramNotifier) { t.log = log.With().Str("component", "telegram").Logger() }
}

// WithBackoff overrides the delay between SendWithRetry attempts.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(t *TelegramNotifier) { t.backoff = fn }
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string, opts ...Option) *TelegramNotifier {
	client := resty.New().
		SetBaseURL(defaultAPIBase).
		SetTimeout(40 * time.Second)
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	t := &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		log:      zerolog.Nop(),
		backoff:  func(attempt int) time.Duration { return time.Duration(1<<uint(attempt)) * time.Second },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send sends a message to the configured chat.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	var out apiResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"chat_id":    t.chatID,
			"text":       text,
			"parse_mode": "HTML",
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.botToken))
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		err := t.Send(ctx, text)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == maxRetries {
			break
		}
		backoff := t.backoff(i)
		t.log.Warn().Err(err).Int("attempt", i+1).Int("max", maxRetries+1).Dur("backoff", backoff).Msg("telegram send failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}
