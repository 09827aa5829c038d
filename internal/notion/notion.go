// Package notion implements storage.Store over two Notion databases: one
// listing feeds and one receiving articles.
package notion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jomei/notionapi"

	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/ratelimit"
	"github.com/deusflow/readcopilot/internal/retry"
	"github.com/deusflow/readcopilot/internal/storage"
)

// Property names in the feed database.
const (
	propFeedName      = "name"
	propFeedURL       = "url"
	propFeedDisabled  = "disabled"
	propFeedAISummary = "AiSummaryEnabled"
	propFeedFullText  = "FullTextEnabled"
	propFeedTags      = "tags"
	propFeedUpdated   = "updated"
	propFeedStatus    = "status"
	propFeedRemarks   = "remarks"
)

// Property names in the article database.
const (
	propArticleTitle   = "title"
	propArticleLink    = "link"
	propArticleDate    = "date"
	propArticleSource  = "source"
	propArticleTags    = "tags"
	propArticleType    = "type"
	propArticleStatus  = "status"
	propArticleSummary = "summary"

	articleType   = "Post"
	articleStatus = "Published"
)

const pageSize = 100

type Options struct {
	Token     string
	FeedDB    string
	ArticleDB string
	RPS       float64
	Retry     retry.RetryConfig
	Logger    *slog.Logger
}

// Store talks to Notion through the SDK services so tests can substitute
// any of them.
type Store struct {
	db        notionapi.DatabaseService
	pages     notionapi.PageService
	blocks    notionapi.BlockService
	feedDB    notionapi.DatabaseID
	articleDB notionapi.DatabaseID
	limiter   *ratelimit.Limiter
	retry     retry.RetryConfig
	logger    *slog.Logger
}

var _ storage.Store = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Token == "" {
		return nil, errors.New("notion token is required")
	}
	if opts.FeedDB == "" || opts.ArticleDB == "" {
		return nil, errors.New("notion feed and article database IDs are required")
	}
	client := notionapi.NewClient(notionapi.Token(opts.Token))
	return newStore(client.Database, client.Page, client.Block, opts), nil
}

func newStore(db notionapi.DatabaseService, pages notionapi.PageService, blocks notionapi.BlockService, opts Options) *Store {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		db:        db,
		pages:     pages,
		blocks:    blocks,
		feedDB:    notionapi.DatabaseID(opts.FeedDB),
		articleDB: notionapi.DatabaseID(opts.ArticleDB),
		limiter:   ratelimit.New(opts.RPS),
		retry:     opts.Retry,
		logger:    opts.Logger,
	}
}

// call waits for the rate limiter and retries transient API failures.
func call[T any](ctx context.Context, s *Store, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg := s.retry
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		s.logger.Warn("notion call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) (T, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return *new(T), err
		}
		res, err := fn(ctx)
		if err != nil {
			return res, classify(err)
		}
		return res, nil
	})
}

// classify marks rate limiting and server-side failures as transient.
func classify(err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500 {
			return retry.Transient(err)
		}
	}
	return err
}

// LimiterStats reports how many Notion calls were made and how many waited.
func (s *Store) LimiterStats() (calls, delayed int) {
	return s.limiter.Stats()
}

func (s *Store) QueryEnabledFeeds(ctx context.Context) ([]news.FeedSource, error) {
	filter := notionapi.PropertyFilter{
		Property: propFeedDisabled,
		Checkbox: &notionapi.CheckboxFilterCondition{Equals: false},
	}
	pages, err := s.queryAll(ctx, s.feedDB, filter)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}

	feeds := make([]news.FeedSource, 0, len(pages))
	for _, p := range pages {
		f, ok := feedFromPage(p)
		if !ok {
			s.logger.Warn("skipping feed without url", "page", p.ID.String())
			continue
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// ExistingLinks returns which of links already exist as article pages using
// one OR filter over the batch.
func (s *Store) ExistingLinks(ctx context.Context, links []string) ([]string, error) {
	if len(links) == 0 {
		return nil, nil
	}
	or := make(notionapi.OrCompoundFilter, 0, len(links))
	for _, l := range links {
		or = append(or, notionapi.PropertyFilter{
			Property: propArticleLink,
			RichText: &notionapi.TextFilterCondition{Equals: l},
		})
	}

	var filter notionapi.Filter = or
	if len(or) == 1 {
		filter = or[0]
	}
	pages, err := s.queryAll(ctx, s.articleDB, filter)
	if err != nil {
		return nil, err
	}

	var found []string
	for _, p := range pages {
		if u := urlProp(p.Properties[propArticleLink]); u != "" {
			found = append(found, u)
		}
	}
	return found, nil
}

func (s *Store) queryAll(ctx context.Context, db notionapi.DatabaseID, filter notionapi.Filter) ([]notionapi.Page, error) {
	var (
		out    []notionapi.Page
		cursor notionapi.Cursor
	)
	for {
		req := &notionapi.DatabaseQueryRequest{Filter: filter, PageSize: pageSize, StartCursor: cursor}
		resp, err := call(ctx, s, "query", func(ctx context.Context) (*notionapi.DatabaseQueryResponse, error) {
			return s.db.Query(ctx, db, req)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			return out, nil
		}
		cursor = resp.NextCursor
	}
}

func (s *Store) CreateArticlePage(ctx context.Context, a news.Article, blocks []news.Block) (string, error) {
	if len(blocks) > storage.MaxBlocksPerRequest {
		return "", fmt.Errorf("create page: %d blocks exceeds %d", len(blocks), storage.MaxBlocksPerRequest)
	}
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: s.articleDB,
		},
		Properties: articleProperties(a),
		Children:   toBlocks(blocks),
	}
	page, err := call(ctx, s, "create page", func(ctx context.Context) (*notionapi.Page, error) {
		return s.pages.Create(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return page.ID.String(), nil
}

func (s *Store) AppendBlocks(ctx context.Context, pageID string, blocks []news.Block) error {
	if len(blocks) > storage.MaxBlocksPerRequest {
		return fmt.Errorf("append blocks: %d blocks exceeds %d", len(blocks), storage.MaxBlocksPerRequest)
	}
	req := &notionapi.AppendBlockChildrenRequest{Children: toBlocks(blocks)}
	_, err := call(ctx, s, "append blocks", func(ctx context.Context) (*notionapi.AppendBlockChildrenResponse, error) {
		return s.blocks.AppendChildren(ctx, notionapi.BlockID(pageID), req)
	})
	return err
}

func (s *Store) UpdateFeedStatus(ctx context.Context, feedID string, u storage.FeedStatusUpdate) error {
	props, err := statusProperties(u)
	if err != nil {
		return err
	}
	return s.updatePage(ctx, feedID, props)
}

func (s *Store) UpdateArticleSummary(ctx context.Context, pageID, summary string) error {
	return s.updatePage(ctx, pageID, notionapi.Properties{
		propArticleSummary: notionapi.RichTextProperty{RichText: plainRichText(summary)},
	})
}

func (s *Store) updatePage(ctx context.Context, pageID string, props notionapi.Properties) error {
	req := &notionapi.PageUpdateRequest{Properties: props}
	_, err := call(ctx, s, "update page", func(ctx context.Context) (*notionapi.Page, error) {
		return s.pages.Update(ctx, notionapi.PageID(pageID), req)
	})
	return err
}
