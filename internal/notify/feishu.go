package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/deusflow/readcopilot/internal/retry"
)

// Feishu posts to a Feishu custom bot, signing the request when a secret is
// configured.
type Feishu struct {
	url    string
	secret string
	wh     webhook
	now    func() time.Time
}

func NewFeishu(url, secret string, client *http.Client, cfg retry.RetryConfig) *Feishu {
	return &Feishu{url: url, secret: secret, wh: newWebhook(client, cfg), now: time.Now}
}

func (f *Feishu) Name() string { return "feishu" }

func (f *Feishu) SendText(ctx context.Context, msg string) error {
	payload := map[string]any{
		"msg_type": "text",
		"content":  map[string]string{"text": msg},
	}
	if f.secret != "" {
		ts := strconv.FormatInt(f.now().Unix(), 10)
		payload["timestamp"] = ts
		payload["sign"] = FeishuSign(f.secret, ts)
	}

	var res struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := f.wh.postJSON(ctx, f.url, payload, &res); err != nil {
		return err
	}
	if res.Code != 0 {
		return fmt.Errorf("feishu code %d: %s", res.Code, res.Msg)
	}
	return nil
}

// FeishuSign is base64(HMAC-SHA256) keyed with "timestamp\nsecret" over an
// empty message.
func FeishuSign(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(timestamp+"\n"+secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
