// Package notify pushes plain-text messages to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/retry"
)

type Notifier interface {
	Name() string
	SendText(ctx context.Context, msg string) error
}

// FormatArticles renders the message sent after a feed produced new
// articles: "title\nlink\n" per article, then "@feed title".
func FormatArticles(feedTitle string, articles []news.Article) string {
	parts := make([]string, 0, len(articles)+1)
	for _, a := range articles {
		parts = append(parts, a.Title+"\n"+a.Link+"\n")
	}
	parts = append(parts, "@"+feedTitle)
	return strings.Join(parts, "\n")
}

// Multi fans a message out to every notifier and joins their errors.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{notifiers: notifiers, logger: logger}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) SendText(ctx context.Context, msg string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.SendText(ctx, msg); err != nil {
			m.logger.Error("notification failed", "notifier", n.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		m.logger.Debug("notification sent", "notifier", n.Name())
	}
	return errors.Join(errs...)
}

// webhook posts JSON payloads and decodes the reply.
type webhook struct {
	client *http.Client
	retry  retry.RetryConfig
}

func newWebhook(client *http.Client, cfg retry.RetryConfig) webhook {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxAttempts == 0 {
		cfg = retry.Default()
	}
	return webhook{client: client, retry: cfg}
}

func (w webhook) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error make JSON: %w", err)
	}

	return retry.WithRetry(ctx, w.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.client.Do(req)
		if err != nil {
			return retry.Transient(fmt.Errorf("error HTTP request: %w", err))
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.Transient(fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}
