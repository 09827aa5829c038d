package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/deusflow/readcopilot/internal/config"
	"github.com/deusflow/readcopilot/internal/dates"
	"github.com/deusflow/readcopilot/internal/imagecheck"
	"github.com/deusflow/readcopilot/internal/markup"
	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/notify"
	"github.com/deusflow/readcopilot/internal/notion"
	"github.com/deusflow/readcopilot/internal/retry"
	"github.com/deusflow/readcopilot/internal/rss"
	"github.com/deusflow/readcopilot/internal/scraper"
	"github.com/deusflow/readcopilot/internal/storage"
	"github.com/deusflow/readcopilot/internal/summary"
)

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FeedLister is a store that can list every feed, enabled or not.
type FeedLister interface {
	AllFeeds(ctx context.Context) ([]news.FeedSource, error)
}

func retryConfig(cfg *config.Config) retry.RetryConfig {
	return retry.RetryConfig{MaxAttempts: cfg.RetryAttempts, Delay: cfg.RetryDelay, Backoff: true}
}

// New wires a Runner from configuration. The returned closer releases the
// store and model clients.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runner, io.Closer, error) {
	var toClose closers

	store, storeCloser, err := NewStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if storeCloser != nil {
		toClose = append(toClose, storeCloser)
	}

	summarizer, summaryCloser, err := NewSummarizer(ctx, cfg, logger)
	if err != nil {
		_ = toClose.Close()
		return nil, nil, err
	}
	if summaryCloser != nil {
		toClose = append(toClose, summaryCloser)
	}

	rc := retryConfig(cfg)
	normalizer := dates.New(cfg.Location(), cfg.StripSeconds, logger)
	deps := Deps{
		Store: store,
		Fetcher: rss.NewFetcher(rss.Options{
			Timeout:    cfg.FetchTimeout,
			MaxEntries: cfg.MaxEntries,
			Dates:      normalizer,
			Logger:     logger,
		}),
		Dates:   normalizer,
		Scraper: scraper.New(scraper.Options{Timeout: cfg.FetchTimeout, Retry: rc, Logger: logger}),
		Images: func() markup.ImageValidator {
			return imagecheck.New(imagecheck.Options{Timeout: cfg.ProbeTimeout, Retry: rc, Logger: logger})
		},
	}
	if summarizer != nil {
		deps.Summaries = summarizer
	}
	if n := NewNotifier(cfg, logger); n != nil {
		deps.Notifier = n
	}

	runner := NewRunner(deps, Options{
		Workers:         cfg.Workers,
		MaxBlocks:       cfg.MaxBlocks,
		DedupeBatchSize: cfg.DedupeBatchSize,
		DryRun:          cfg.DryRun,
		Logger:          logger,
	})
	return runner, toClose, nil
}

// NewStore opens the configured backend. File and Postgres stores are
// seeded from the feeds file when it exists.
func NewStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.BackendNotion:
		s, err := notion.New(notion.Options{
			Token:     cfg.NotionKey,
			FeedDB:    cfg.NotionFeedDB,
			ArticleDB: cfg.NotionReaderDB,
			RPS:       cfg.NotionRPS,
			Retry:     retryConfig(cfg),
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	case config.BackendPostgres:
		s, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init PostgreSQL store: %w", err)
		}
		feeds, err := seedFeeds(cfg.FeedsFilePath, logger)
		if err == nil && len(feeds) > 0 {
			err = s.SeedFeeds(ctx, feeds)
		}
		if err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		logger.Info("using PostgreSQL store")
		return s, s, nil

	case config.BackendFile:
		s := storage.NewFileStore(cfg.StoreFilePath)
		if err := s.Load(); err != nil {
			return nil, nil, err
		}
		feeds, err := seedFeeds(cfg.FeedsFilePath, logger)
		if err == nil && len(feeds) > 0 {
			err = s.SeedFeeds(feeds)
		}
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file store", "path", cfg.StoreFilePath)
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func seedFeeds(path string, logger *slog.Logger) ([]news.FeedSource, error) {
	if path == "" {
		return nil, nil
	}
	feeds, err := rss.LoadFeeds(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("feeds file not found, using stored feeds only", "path", path)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load feeds: %w", err)
	}
	return feeds, nil
}

// NewSummarizer returns nil when summaries are disabled.
func NewSummarizer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*summary.Generator, io.Closer, error) {
	opts := summary.Options{MaxInputRunes: cfg.SummaryMaxRunes, Retry: retryConfig(cfg), Logger: logger}

	switch cfg.SummaryProvider {
	case config.ProviderGemini:
		g, err := summary.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		return summary.NewGenerator(g, opts), g, nil
	case config.ProviderOpenAI:
		return summary.NewGenerator(summary.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), opts), nil, nil
	}
	return nil, nil, nil
}

// NewNotifier returns nil when no webhook is configured.
func NewNotifier(cfg *config.Config, logger *slog.Logger) notify.Notifier {
	rc := retryConfig(cfg)
	var ns []notify.Notifier
	if cfg.WechatWebhook != "" {
		ns = append(ns, notify.NewWeChat(cfg.WechatWebhook, nil, rc))
	}
	if cfg.FeishuWebhook != "" {
		ns = append(ns, notify.NewFeishu(cfg.FeishuWebhook, cfg.FeishuSecret, nil, rc))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		ns = append(ns, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, nil, rc))
	}
	if len(ns) == 0 {
		return nil
	}
	return notify.NewMulti(logger, ns...)
}
