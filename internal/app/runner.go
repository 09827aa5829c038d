// Package app runs the feed pipeline: every enabled feed is fetched,
// deduplicated against the store, converted and persisted, with its status
// written back and new articles announced.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/deusflow/readcopilot/internal/dates"
	"github.com/deusflow/readcopilot/internal/dedupe"
	"github.com/deusflow/readcopilot/internal/markup"
	"github.com/deusflow/readcopilot/internal/metrics"
	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/notify"
	"github.com/deusflow/readcopilot/internal/rss"
	"github.com/deusflow/readcopilot/internal/scraper"
	"github.com/deusflow/readcopilot/internal/status"
	"github.com/deusflow/readcopilot/internal/storage"
	"github.com/deusflow/readcopilot/internal/summary"
)

type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL, lastUpdated string) (*rss.Result, error)
}

type PageExtractor interface {
	Extract(ctx context.Context, pageURL string) (*scraper.ArticleContent, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) string
}

// Deps are the collaborators of a Runner. Scraper, Summaries and Notifier
// are optional.
type Deps struct {
	Store     storage.Store
	Fetcher   FeedFetcher
	Dates     *dates.Normalizer
	Scraper   PageExtractor
	Summaries Summarizer
	Notifier  notify.Notifier
	// Images returns a fresh image validator for each feed. Nil keeps every
	// image without probing.
	Images func() markup.ImageValidator
}

type Options struct {
	Workers         int
	MaxBlocks       int
	DedupeBatchSize int
	DryRun          bool
	Logger          *slog.Logger
}

type Runner struct {
	deps    Deps
	opts    Options
	tracker *status.Tracker
	gate    *dedupe.Gate
	logger  *slog.Logger
}

func NewRunner(deps Deps, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Dates == nil {
		deps.Dates = dates.New(nil, true, opts.Logger)
	}
	return &Runner{
		deps:    deps,
		opts:    opts,
		tracker: status.New(deps.Store, deps.Dates.Format, opts.Logger),
		gate:    dedupe.New(deps.Store, opts.DedupeBatchSize),
		logger:  opts.Logger,
	}
}

// FeedResult is what happened to one feed during a run.
type FeedResult struct {
	Feed       news.FeedSource
	Unchanged  bool
	Entries    int
	Duplicates int
	Created    []news.Article
	Failed     int
	Summaries  int
	Fallbacks  int
	Notified   bool
	NotifyErr  error
	Err        error
}

type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []FeedResult
}

// Stats condenses the report for metrics.
func (r *Report) Stats() metrics.RunStats {
	s := metrics.RunStats{Feeds: len(r.Results), Duration: r.Duration}
	for _, res := range r.Results {
		if res.Err != nil {
			s.FeedsFailed++
		}
		if res.Unchanged {
			s.FeedsUnchanged++
		}
		s.ArticlesCreated += len(res.Created)
		s.ArticlesFailed += res.Failed
		s.DuplicatesFiltered += res.Duplicates
		s.SummariesGenerated += res.Summaries
		s.SummaryFallbacks += res.Fallbacks
		if res.Notified {
			s.NotificationsSent++
		}
		if res.NotifyErr != nil {
			s.NotificationErrors++
		}
	}
	return s
}

// Run processes every enabled feed. Feeds are isolated from one another:
// a failing feed is recorded in its result and never stops the others. The
// returned error is only set when the feed list itself cannot be read.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	logger := r.logger.With("run", report.RunID)

	feeds, err := r.deps.Store.QueryEnabledFeeds(ctx)
	if err != nil {
		return report, fmt.Errorf("query enabled feeds: %w", err)
	}
	logger.Info("run started", "feeds", len(feeds), "workers", r.opts.Workers, "dry_run", r.opts.DryRun)

	report.Results = make([]FeedResult, len(feeds))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for i, feed := range feeds {
		i, feed := i, feed
		g.Go(func() error {
			report.Results[i] = r.processFeed(ctx, feed, logger.With("feed", feed.Title))
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(report.Started)
	for _, res := range report.Results {
		if res.Err != nil {
			logger.Error("feed failed", "feed", res.Feed.Title, "url", res.Feed.URL, "error", res.Err)
			continue
		}
		logger.Info("feed done", "feed", res.Feed.Title, "unchanged", res.Unchanged,
			"entries", res.Entries, "duplicates", res.Duplicates, "created", len(res.Created))
	}
	stats := report.Stats()
	logger.Info("run finished", "duration", report.Duration,
		"feeds", stats.Feeds, "failed", stats.FeedsFailed, "created", stats.ArticlesCreated)
	return report, nil
}

func (r *Runner) processFeed(ctx context.Context, feed news.FeedSource, logger *slog.Logger) FeedResult {
	result := FeedResult{Feed: feed}

	fetched, err := r.deps.Fetcher.Fetch(ctx, feed.URL, feed.Updated)
	if err != nil {
		result.Err = err
		r.markFailed(ctx, feed, err)
		return result
	}

	title := feed.Title
	var newTitle string
	if fetched.Title != "" && fetched.Title != feed.Title {
		newTitle = fetched.Title
		title = fetched.Title
	}

	if fetched.Unchanged {
		logger.Debug("feed unchanged", "updated", fetched.Updated)
		result.Unchanged = true
		r.markSucceeded(ctx, feed, fetched.Updated, newTitle)
		return result
	}

	entries := withLinks(fetched.Entries, logger)
	result.Entries = len(entries)

	links := make([]string, len(entries))
	for i, e := range entries {
		links[i] = e.Link
	}
	fresh, err := r.gate.Fresh(ctx, links)
	if err != nil {
		result.Err = err
		r.markFailed(ctx, feed, err)
		return result
	}
	result.Duplicates = len(entries) - len(fresh)

	byLink := make(map[string]news.Entry, len(entries))
	for _, e := range entries {
		if _, ok := byLink[e.Link]; !ok {
			byLink[e.Link] = e
		}
	}

	converter := r.newConverter(logger)
	var persistErr error
	for _, link := range fresh {
		if err := ctx.Err(); err != nil {
			persistErr = err
			break
		}
		article := r.buildArticle(ctx, feed, byLink[link], converter, logger)

		if r.opts.DryRun {
			logger.Info("dry run: article not saved", "link", article.Link, "blocks", len(article.Blocks))
			result.Created = append(result.Created, article)
			continue
		}

		pageID, err := storage.CreateWithBlocks(ctx, r.deps.Store, article)
		if err != nil {
			logger.Error("failed to save article", "link", article.Link, "error", err)
			result.Failed++
			if persistErr == nil {
				persistErr = err
			}
			continue
		}
		logger.Info("article saved", "link", article.Link, "page", pageID, "blocks", len(article.Blocks))
		result.Created = append(result.Created, article)

		if feed.AISummaryEnabled && r.deps.Summaries != nil {
			r.summarize(ctx, pageID, article, &result, logger)
		}
	}

	if persistErr != nil {
		result.Err = persistErr
		r.markFailed(ctx, feed, persistErr)
	} else {
		r.markSucceeded(ctx, feed, fetched.Updated, newTitle)
	}

	if len(result.Created) > 0 && r.deps.Notifier != nil && !r.opts.DryRun {
		msg := notify.FormatArticles(title, result.Created)
		if err := r.deps.Notifier.SendText(ctx, msg); err != nil {
			result.NotifyErr = err
			logger.Error("notification failed", "error", err)
		} else {
			result.Notified = true
		}
	}
	return result
}

func (r *Runner) newConverter(logger *slog.Logger) *markup.Converter {
	opts := markup.Options{MaxBlocks: r.opts.MaxBlocks, Logger: logger}
	if r.deps.Images != nil {
		opts.Images = r.deps.Images()
	}
	return markup.NewConverter(opts)
}

func (r *Runner) buildArticle(ctx context.Context, feed news.FeedSource, e news.Entry, converter *markup.Converter, logger *slog.Logger) news.Article {
	content, ok := news.ExtractContent(e)
	if !ok {
		logger.Warn("entry has no content", "link", e.Link)
	}

	if feed.FullTextEnabled && r.deps.Scraper != nil {
		page, err := r.deps.Scraper.Extract(ctx, e.Link)
		if err != nil {
			logger.Warn("full text extraction failed, using feed content", "link", e.Link, "error", err)
		} else {
			content = page.HTML
		}
	}

	blocks, text := converter.Convert(ctx, content, e.Link)

	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = e.Link
	}
	return news.Article{
		Title:    title,
		Link:     e.Link,
		Date:     r.entryDate(e, logger),
		Source:   feed.ID,
		Tags:     feed.Tags,
		Blocks:   blocks,
		Summary:  news.DefaultSummary(text),
		Markdown: text,
	}
}

// entryDate prefers the published time. A missing date becomes the current
// time; an unparseable one is logged and left empty.
func (r *Runner) entryDate(e news.Entry, logger *slog.Logger) string {
	raw := e.Published
	if strings.TrimSpace(raw) == "" {
		raw = e.Updated
	}
	d, err := r.deps.Dates.Normalize(raw)
	if err != nil {
		logger.Error("entry date unparseable", "link", e.Link, "date", raw, "error", err)
		return ""
	}
	return d
}

func (r *Runner) summarize(ctx context.Context, pageID string, a news.Article, result *FeedResult, logger *slog.Logger) {
	text := r.deps.Summaries.Summarize(ctx, a.Markdown)
	if text == summary.Fallback {
		result.Fallbacks++
	} else {
		result.Summaries++
	}
	if err := r.deps.Store.UpdateArticleSummary(ctx, pageID, text); err != nil {
		logger.Warn("failed to save summary", "link", a.Link, "error", err)
	}
}

func (r *Runner) markFailed(ctx context.Context, feed news.FeedSource, cause error) {
	if r.opts.DryRun {
		return
	}
	_ = r.tracker.Failed(ctx, feed, cause)
}

func (r *Runner) markSucceeded(ctx context.Context, feed news.FeedSource, updated, title string) {
	if r.opts.DryRun {
		return
	}
	_ = r.tracker.Succeeded(ctx, feed, updated, title)
}

// withLinks drops entries that cannot be deduplicated. Links are compared
// exactly as the fetcher produced them.
func withLinks(entries []news.Entry, logger *slog.Logger) []news.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Link == "" {
			logger.Warn("skipping entry without link", "title", e.Title)
			continue
		}
		out = append(out, e)
	}
	return out
}

// FailedFeeds lists the feeds that ended in error.
func (r *Report) FailedFeeds() []FeedResult {
	var out []FeedResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err joins every feed error of the run.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.FailedFeeds() {
		errs = append(errs, fmt.Errorf("%s: %w", res.Feed.Title, res.Err))
	}
	return errors.Join(errs...)
}
