package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/readcopilot/internal/news"
)

func paragraphs(n int) []news.Block {
	out := make([]news.Block, n)
	for i := range out {
		out[i] = news.Paragraph(news.Span{Text: fmt.Sprintf("p%d", i)})
	}
	return out
}

// recordingStore counts create/append calls and enforces the per-call limit.
type recordingStore struct {
	*FileStore
	createSizes []int
	appendSizes []int
	failAppend  bool
}

func (r *recordingStore) CreateArticlePage(ctx context.Context, a news.Article, blocks []news.Block) (string, error) {
	r.createSizes = append(r.createSizes, len(blocks))
	return r.FileStore.CreateArticlePage(ctx, a, blocks)
}

func (r *recordingStore) AppendBlocks(ctx context.Context, pageID string, blocks []news.Block) error {
	r.appendSizes = append(r.appendSizes, len(blocks))
	if r.failAppend {
		return errors.New("append rejected")
	}
	return r.FileStore.AppendBlocks(ctx, pageID, blocks)
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs := NewFileStore(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, fs.Load())
	require.NoError(t, fs.SeedFeeds([]news.FeedSource{
		{ID: "f1", Title: "Feed", URL: "https://example.com/rss", Enabled: true, Status: news.StatusActive},
		{ID: "f2", Title: "Off", URL: "https://off.example.com/rss"},
	}))
	return fs
}

func TestCreateWithBlocks_SplitsIntoRequests(t *testing.T) {
	rs := &recordingStore{FileStore: newFileStore(t)}
	a := news.Article{Title: "Long", Link: "https://example.com/long", Source: "f1", Blocks: paragraphs(250)}

	id, err := CreateWithBlocks(context.Background(), rs, a)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, []int{100}, rs.createSizes)
	assert.Equal(t, []int{100, 50}, rs.appendSizes)

	stored, ok := rs.Article(a.Link)
	require.True(t, ok)
	assert.Len(t, stored.Blocks, 250)
	assert.Equal(t, "p249", stored.Blocks[249].PlainText())
}

func TestCreateWithBlocks_NoAppendWhenSmall(t *testing.T) {
	rs := &recordingStore{FileStore: newFileStore(t)}
	_, err := CreateWithBlocks(context.Background(), rs, news.Article{Link: "https://example.com/a", Source: "f1", Blocks: paragraphs(3)})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, rs.createSizes)
	assert.Empty(t, rs.appendSizes)
}

func TestCreateWithBlocks_AppendFailureIsPersistError(t *testing.T) {
	rs := &recordingStore{FileStore: newFileStore(t), failAppend: true}
	_, err := CreateWithBlocks(context.Background(), rs, news.Article{Link: "https://example.com/b", Source: "f1", Blocks: paragraphs(120)})
	require.Error(t, err)
	assert.True(t, IsPersistError(err))
}

func TestFileStore_RoundTrip(t *testing.T) {
	fs := newFileStore(t)
	ctx := context.Background()

	feeds, err := fs.QueryEnabledFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "f1", feeds[0].ID)

	id, err := fs.CreateArticlePage(ctx, news.Article{Title: "T", Link: "https://example.com/1", Source: "f1"}, paragraphs(2))
	require.NoError(t, err)
	require.NoError(t, fs.UpdateArticleSummary(ctx, id, "short"))
	require.NoError(t, fs.UpdateFeedStatus(ctx, "f1", FeedStatusUpdate{
		Status: news.StatusError, Updated: "2024-01-01T08:00:00+08:00", Remarks: "网络错误: boom", Title: "Renamed",
	}))

	reloaded := NewFileStore(fs.filePath)
	require.NoError(t, reloaded.Load())

	found, err := reloaded.ExistingLinks(ctx, []string{"https://example.com/1", "https://example.com/2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/1"}, found)

	a, ok := reloaded.Article("https://example.com/1")
	require.True(t, ok)
	assert.Equal(t, "short", a.Summary)
	assert.Len(t, a.Blocks, 2)

	all, err := reloaded.AllFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, news.StatusError, all[0].Status)
	assert.Equal(t, "网络错误: boom", all[0].Remarks)
	assert.Equal(t, "Renamed", all[0].Title)
}

func TestFileStore_RejectsDuplicateLink(t *testing.T) {
	fs := newFileStore(t)
	ctx := context.Background()
	a := news.Article{Link: "https://example.com/dup", Source: "f1"}
	_, err := fs.CreateArticlePage(ctx, a, nil)
	require.NoError(t, err)
	_, err = fs.CreateArticlePage(ctx, a, nil)
	assert.Error(t, err)
}

func TestFileStore_RejectsOversizedRequest(t *testing.T) {
	fs := newFileStore(t)
	_, err := fs.CreateArticlePage(context.Background(), news.Article{Link: "https://example.com/x"}, paragraphs(101))
	assert.Error(t, err)
}

func TestFileStore_UnknownFeed(t *testing.T) {
	fs := newFileStore(t)
	assert.Error(t, fs.UpdateFeedStatus(context.Background(), "missing", FeedStatusUpdate{Status: news.StatusActive}))
}

func TestFileStore_SeedKeepsExistingStatus(t *testing.T) {
	fs := newFileStore(t)
	require.NoError(t, fs.UpdateFeedStatus(context.Background(), "f1", FeedStatusUpdate{Status: news.StatusError, Remarks: "x"}))
	require.NoError(t, fs.SeedFeeds([]news.FeedSource{{ID: "f1", URL: "https://example.com/rss", Enabled: true}}))
	all, err := fs.AllFeeds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, news.StatusError, all[0].Status)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	ps, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer ps.Close()

	feedID := "test-feed"
	require.NoError(t, ps.SeedFeeds(ctx, []news.FeedSource{{ID: feedID, URL: "https://example.com/rss", Enabled: true}}))

	link := "https://example.com/pg-" + t.Name()
	_, _ = ps.db.ExecContext(ctx, `DELETE FROM articles WHERE link = $1`, link)

	id, err := CreateWithBlocks(ctx, ps, news.Article{Title: "PG", Link: link, Source: feedID, Blocks: paragraphs(130)})
	require.NoError(t, err)
	require.NoError(t, ps.UpdateArticleSummary(ctx, id, "sum"))

	found, err := ps.ExistingLinks(ctx, []string{link, link + "-missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{link}, found)

	require.NoError(t, ps.UpdateFeedStatus(ctx, feedID, FeedStatusUpdate{Status: news.StatusActive, Updated: "2024-01-01T08:00:00+08:00"}))
}
