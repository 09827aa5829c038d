// Package storage defines the destination document store and its file and
// Postgres backends.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/deusflow/readcopilot/internal/news"
)

// MaxBlocksPerRequest is the most blocks a store accepts in one create or
// append call.
const MaxBlocksPerRequest = 100

// FeedStatusUpdate is written back to a feed after each fetch attempt.
// An empty Title leaves the stored title untouched.
type FeedStatusUpdate struct {
	Status  news.FeedStatus
	Updated string
	Remarks string
	Title   string
}

type Store interface {
	QueryEnabledFeeds(ctx context.Context) ([]news.FeedSource, error)
	ExistingLinks(ctx context.Context, links []string) ([]string, error)
	// CreateArticlePage stores the article with at most MaxBlocksPerRequest
	// blocks and returns the new page ID.
	CreateArticlePage(ctx context.Context, a news.Article, blocks []news.Block) (string, error)
	AppendBlocks(ctx context.Context, pageID string, blocks []news.Block) error
	UpdateFeedStatus(ctx context.Context, feedID string, u FeedStatusUpdate) error
	UpdateArticleSummary(ctx context.Context, pageID, summary string) error
}

// PersistError wraps a failure to write an article.
type PersistError struct {
	Link string
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Link, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

func IsPersistError(err error) bool {
	var pe *PersistError
	return errors.As(err, &pe)
}

// CreateWithBlocks creates the article page with the first batch of blocks
// and appends the rest in batches of MaxBlocksPerRequest.
func CreateWithBlocks(ctx context.Context, s Store, a news.Article) (string, error) {
	blocks := a.Blocks
	first := blocks[:min(len(blocks), MaxBlocksPerRequest)]

	pageID, err := s.CreateArticlePage(ctx, a, first)
	if err != nil {
		return "", &PersistError{Link: a.Link, Err: err}
	}

	for i := len(first); i < len(blocks); i += MaxBlocksPerRequest {
		end := min(i+MaxBlocksPerRequest, len(blocks))
		if err := s.AppendBlocks(ctx, pageID, blocks[i:end]); err != nil {
			return pageID, &PersistError{Link: a.Link, Err: fmt.Errorf("append blocks %d-%d: %w", i, end, err)}
		}
	}
	return pageID, nil
}
