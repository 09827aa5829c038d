package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/deusflow/readcopilot/internal/retry"
)

const telegramAPI = "https://api.telegram.org"

// Telegram sends plain text to a chat or channel through the Bot API.
type Telegram struct {
	baseURL string
	token   string
	chatID  string
	wh      webhook
}

func NewTelegram(token, chatID string, client *http.Client, cfg retry.RetryConfig) *Telegram {
	return &Telegram{baseURL: telegramAPI, token: token, chatID: chatID, wh: newWebhook(client, cfg)}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) SendText(ctx context.Context, msg string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     msg,
		"disable_web_page_preview": true,
	}
	var res struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := t.wh.postJSON(ctx, url, payload, &res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("telegram API error: %s", res.Description)
	}
	return nil
}
