// Package dates normalizes the date strings found in feeds into RFC 3339
// timestamps in a single target zone.
package dates

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ErrUnparseable is returned for input that no known format accepts.
var ErrUnparseable = errors.New("unparseable date")

// strictLayouts are tried in order before the lenient parser.
var strictLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"02 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 MST",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000000Z",
}

type Normalizer struct {
	Location     *time.Location
	StripSeconds bool
	Now          func() time.Time
	Logger       *slog.Logger
}

// New returns a Normalizer for loc. A nil loc means UTC+8.
func New(loc *time.Location, stripSeconds bool, logger *slog.Logger) *Normalizer {
	if loc == nil {
		loc = time.FixedZone("UTC+8", 8*60*60)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{Location: loc, StripSeconds: stripSeconds, Now: time.Now, Logger: logger}
}

// Normalize converts raw into RFC 3339 in the normalizer's zone. Blank input
// yields the current time. Naive timestamps are read as UTC.
func (n *Normalizer) Normalize(raw string) (string, error) {
	t, err := n.Parse(raw)
	if err != nil {
		return "", err
	}
	return n.Format(t), nil
}

// Parse is Normalize without formatting.
func (n *Normalizer) Parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		n.Logger.Warn("empty date, using current time")
		return n.now(), nil
	}

	for _, layout := range strictLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
	}
	return t, nil
}

// Format renders t in the target zone.
func (n *Normalizer) Format(t time.Time) string {
	t = t.In(n.Location)
	if n.StripSeconds {
		t = t.Truncate(time.Minute)
	}
	return t.Format(time.RFC3339)
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}
