// Package status records the outcome of each feed fetch on the feed itself.
package status

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/deusflow/readcopilot/internal/dedupe"
	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/rss"
	"github.com/deusflow/readcopilot/internal/storage"
)

// Remark prefixes, one per failure class.
const (
	RemarkNetwork = "网络错误"
	RemarkParse   = "解析错误"
	RemarkDedupe  = "去重查询错误"
	RemarkPersist = "保存文章错误"
	RemarkUnknown = "未知错误"
)

const maxRemarkRunes = 2000

// Writer persists a feed's status.
type Writer interface {
	UpdateFeedStatus(ctx context.Context, feedID string, u storage.FeedStatusUpdate) error
}

type Tracker struct {
	store  Writer
	format func(time.Time) string
	now    func() time.Time
	logger *slog.Logger
}

// New returns a tracker. format renders timestamps the same way the date
// normalizer does.
func New(store Writer, format func(time.Time) string, logger *slog.Logger) *Tracker {
	if format == nil {
		format = func(t time.Time) string { return t.Format(time.RFC3339) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, format: format, now: time.Now, logger: logger}
}

// WithClock replaces the time source. Used by tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Succeeded marks the feed Active with the feed's own updated timestamp, or
// the current time when the feed carries none. title refreshes the stored
// title when non-empty.
func (t *Tracker) Succeeded(ctx context.Context, feed news.FeedSource, updated, title string) error {
	if updated == "" {
		updated = t.format(t.now())
	}
	return t.write(ctx, feed, storage.FeedStatusUpdate{
		Status:  news.StatusActive,
		Updated: updated,
		Title:   title,
	})
}

// Failed marks the feed Error. The timestamp is the current time so the
// next run does not mistake the feed for unchanged.
func (t *Tracker) Failed(ctx context.Context, feed news.FeedSource, cause error) error {
	return t.write(ctx, feed, storage.FeedStatusUpdate{
		Status:  news.StatusError,
		Updated: t.format(t.now()),
		Remarks: Remarks(cause),
	})
}

func (t *Tracker) write(ctx context.Context, feed news.FeedSource, u storage.FeedStatusUpdate) error {
	if err := t.store.UpdateFeedStatus(ctx, feed.ID, u); err != nil {
		t.logger.Error("failed to update feed status",
			"feed", feed.Title, "status", u.Status, "error", err)
		return err
	}
	return nil
}

// Remarks renders cause as "<class>: <detail>".
func Remarks(cause error) string {
	if cause == nil {
		return ""
	}
	prefix := RemarkUnknown
	switch {
	case rss.IsTransport(cause):
		prefix = RemarkNetwork
	case rss.IsParse(cause):
		prefix = RemarkParse
	case dedupe.IsQueryError(cause):
		prefix = RemarkDedupe
	case storage.IsPersistError(cause):
		prefix = RemarkPersist
	}
	msg := prefix + ": " + cause.Error()
	if utf8.RuneCountInString(msg) > maxRemarkRunes {
		msg = string([]rune(msg)[:maxRemarkRunes])
	}
	return msg
}
