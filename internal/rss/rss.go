package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/readcopilot/internal/dates"
	"github.com/deusflow/readcopilot/internal/news"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

type ErrorKind string

const (
	KindTransport ErrorKind = "transport"
	KindParse     ErrorKind = "parse"
)

// FetchError classifies why a feed could not be read.
type FetchError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s error fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a network-level fetch failure.
func IsTransport(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTransport
}

// IsParse reports whether err is a malformed-feed failure.
func IsParse(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindParse
}

// Result of one fetch. When Unchanged is set, Entries is empty.
type Result struct {
	Title     string
	Updated   string // normalized feed timestamp, empty if the feed has none
	Unchanged bool
	Entries   []news.Entry
}

type Options struct {
	Client     *http.Client
	Timeout    time.Duration
	MaxEntries int
	Dates      *dates.Normalizer
	Logger     *slog.Logger
}

type Fetcher struct {
	client     *http.Client
	maxEntries int
	dates      *dates.Normalizer
	logger     *slog.Logger
}

func NewFetcher(opts Options) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 20
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dates == nil {
		opts.Dates = dates.New(nil, true, opts.Logger)
	}
	return &Fetcher{client: client, maxEntries: opts.MaxEntries, dates: opts.Dates, logger: opts.Logger}
}

// Fetch downloads and parses a feed. If the feed's own timestamp equals
// lastUpdated (after normalization) the result is marked Unchanged and no
// entries are returned. Otherwise the first MaxEntries entries are returned
// in document order.
func (f *Fetcher) Fetch(ctx context.Context, feedURL, lastUpdated string) (*Result, error) {
	body, err := f.download(ctx, feedURL)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: feedURL, Err: err}
	}

	feed, err := gofeed.NewParser().ParseString(body)
	if err != nil {
		return nil, &FetchError{Kind: KindParse, URL: feedURL, Err: err}
	}

	res := &Result{Title: strings.TrimSpace(feed.Title)}

	raw := feed.Updated
	if strings.TrimSpace(raw) == "" {
		raw = feed.Published
	}
	if strings.TrimSpace(raw) != "" {
		if updated, err := f.dates.Normalize(raw); err == nil {
			res.Updated = updated
		} else {
			f.logger.Warn("feed timestamp unparseable", "url", feedURL, "error", err)
		}
	}

	if res.Updated != "" && lastUpdated != "" && res.Updated == f.normalizeStored(lastUpdated) {
		res.Unchanged = true
		return res, nil
	}

	items := feed.Items
	if len(items) > f.maxEntries {
		items = items[:f.maxEntries]
	}
	atom := feed.FeedType == "atom"
	for _, item := range items {
		if item == nil {
			continue
		}
		res.Entries = append(res.Entries, toEntry(item, atom))
	}
	return res, nil
}

func (f *Fetcher) download(ctx context.Context, feedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

// normalizeStored re-normalizes a stored timestamp so that values written
// with a different precision still compare equal.
func (f *Fetcher) normalizeStored(stored string) string {
	if out, err := f.dates.Normalize(stored); err == nil {
		return out
	}
	return stored
}

func toEntry(item *gofeed.Item, atom bool) news.Entry {
	e := news.Entry{
		Title:     strings.TrimSpace(item.Title),
		Link:      strings.TrimSpace(item.Link),
		Published: item.Published,
		Updated:   item.Updated,
		Content:   item.Content,
		Tags:      item.Categories,
	}
	// gofeed maps atom <summary> onto Description.
	if atom {
		e.Summary = item.Description
	} else {
		e.Description = item.Description
	}
	if e.Link == "" && len(item.Links) > 0 {
		e.Link = strings.TrimSpace(item.Links[0])
	}
	return e
}

// FeedsConfig is the YAML feed list used to seed file and Postgres stores.
//
//	feeds:
//	  - title: Go Blog
//	    url: https://go.dev/blog/feed.atom
//	    ai_summary_enabled: true
//	    tags: [go]
type FeedsConfig struct {
	Feeds []FeedEntry `yaml:"feeds"`
}

type FeedEntry struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	URL              string   `yaml:"url"`
	Disabled         bool     `yaml:"disabled"`
	AISummaryEnabled bool     `yaml:"ai_summary_enabled"`
	FullTextEnabled  bool     `yaml:"full_text_enabled"`
	Tags             []string `yaml:"tags"`
}

// LoadFeeds reads the feed list from a YAML file. Entries without a URL are
// skipped; IDs default to the URL.
func LoadFeeds(path string) ([]news.FeedSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	var feeds []news.FeedSource
	for _, fe := range cfg.Feeds {
		u := strings.TrimSpace(fe.URL)
		if u == "" {
			continue
		}
		id := fe.ID
		if id == "" {
			id = u
		}
		feeds = append(feeds, news.FeedSource{
			ID:               id,
			Title:            fe.Title,
			URL:              u,
			Enabled:          !fe.Disabled,
			AISummaryEnabled: fe.AISummaryEnabled,
			FullTextEnabled:  fe.FullTextEnabled,
			Tags:             fe.Tags,
			Status:           news.StatusActive,
		})
	}
	return feeds, nil
}
