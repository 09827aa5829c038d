package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/deusflow/readcopilot/internal/retry"
)

// WeChat posts to a WeChat Work group robot.
type WeChat struct {
	url string
	wh  webhook
}

func NewWeChat(url string, client *http.Client, cfg retry.RetryConfig) *WeChat {
	return &WeChat{url: url, wh: newWebhook(client, cfg)}
}

func (w *WeChat) Name() string { return "wechat" }

func (w *WeChat) SendText(ctx context.Context, msg string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": msg},
	}
	var res struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := w.wh.postJSON(ctx, w.url, payload, &res); err != nil {
		return err
	}
	if res.ErrCode != 0 {
		return fmt.Errorf("wechat errcode %d: %s", res.ErrCode, res.ErrMsg)
	}
	return nil
}
