package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CommandHandler is called when a user command is received.
type CommandHandler func(ctx context.Context, command string) string

// telegramUpdate represents a Telegram update from long polling.
type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
	} `json:"message"`
}

type updatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

// StartPolling begins long-polling for Telegram commands. Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	offset := 0
	for {
		select {
		case <-ctx.Done():
			t.log.Info().Msg("telegram polling stopped")
			return
		default:
		}

		next, err := t.poll(ctx, offset, 30*time.Second, handler)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn().Err(err).Msg("polling request failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		offset = next
	}
}

// poll fetches one batch of updates, answers each command and returns the
// next offset.
func (t *TelegramNotifier) poll(ctx context.Context, offset int, wait time.Duration, handler CommandHandler) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, wait+5*time.Second)
	defer cancel()

	var out updatesResponse
	resp, err := t.client.R().
		SetContext(reqCtx).
		SetQueryParam("offset", strconv.Itoa(offset)).
		SetQueryParam("timeout", strconv.Itoa(int(wait.Seconds()))).
		SetResult(&out).
		Get(fmt.Sprintf("/bot%s/getUpdates", t.botToken))
	if err != nil {
		return offset, err
	}
	if !resp.IsSuccess() || !out.OK {
		return offset, fmt.Errorf("getUpdates: status %d, body: %s", resp.StatusCode(), resp.String())
	}

	for _, update := range out.Result {
		offset = update.UpdateID + 1
		if update.Message == nil || update.Message.Text == "" {
			continue
		}
		text := strings.TrimSpace(update.Message.Text)
		t.log.Info().Str("command", text).Msg("received command")
		if reply := handler(ctx, text); reply != "" {
			if err := t.Send(ctx, reply); err != nil {
				t.log.Error().Err(err).Msg("send reply")
			}
		}
	}
	return offset, nil
}
