package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/readcopilot/internal/dates"
	"github.com/deusflow/readcopilot/internal/logger"
)

func rssDoc(items int) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Example</title>`)
	sb.WriteString(`<lastBuildDate>Mon, 02 Jan 2006 15:04:05 +0000</lastBuildDate>`)
	for i := 0; i < items; i++ {
		fmt.Fprintf(&sb, `<item><title>Item %d</title><link>https://example.com/%d</link>`+
			`<description>&lt;p&gt;body %d&lt;/p&gt;</description><category>go</category>`+
			`<pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate></item>`, i, i, i)
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <updated>2024-05-01T10:00:00Z</updated>
  <entry>
    <title>First</title>
    <link href="https://example.org/first"/>
    <updated>2024-05-01T09:00:00Z</updated>
    <summary>short summary</summary>
    <content type="html">&lt;p&gt;full content&lt;/p&gt;</content>
  </entry>
</feed>`

func newFetcher(max int) *Fetcher {
	log := logger.Discard()
	return NewFetcher(Options{
		Timeout:    2 * time.Second,
		MaxEntries: max,
		Dates:      dates.New(time.FixedZone("UTC+8", 8*3600), true, log),
		Logger:     log,
	})
}

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_ServerErrorIsTransport(t *testing.T) {
	srv := serve(t, http.StatusInternalServerError, "oops")
	_, err := newFetcher(20).Fetch(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, IsParse(err))
}

func TestFetch_UnreachableIsTransport(t *testing.T) {
	srv := serve(t, http.StatusOK, "")
	url := srv.URL
	srv.Close()

	_, err := newFetcher(20).Fetch(context.Background(), url, "")
	assert.True(t, IsTransport(err))
}

func TestFetch_MalformedIsParse(t *testing.T) {
	srv := serve(t, http.StatusOK, "this is not a feed")
	_, err := newFetcher(20).Fetch(context.Background(), srv.URL, "")
	require.Error(t, err)
	assert.True(t, IsParse(err))
}

func TestFetch_LimitsEntriesInOrder(t *testing.T) {
	srv := serve(t, http.StatusOK, rssDoc(25))
	res, err := newFetcher(20).Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)

	assert.Equal(t, "Example", res.Title)
	assert.Equal(t, "2006-01-02T23:04:00+08:00", res.Updated)
	require.Len(t, res.Entries, 20)
	assert.Equal(t, "https://example.com/0", res.Entries[0].Link)
	assert.Equal(t, "https://example.com/19", res.Entries[19].Link)
	assert.Equal(t, "<p>body 0</p>", res.Entries[0].Description)
	assert.Equal(t, []string{"go"}, res.Entries[0].Tags)
}

func TestFetch_UnchangedShortCircuits(t *testing.T) {
	srv := serve(t, http.StatusOK, rssDoc(3))
	res, err := newFetcher(20).Fetch(context.Background(), srv.URL, "2006-01-02T23:04:00+08:00")
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
	assert.Empty(t, res.Entries)
}

func TestFetch_StoredTimestampRenormalized(t *testing.T) {
	srv := serve(t, http.StatusOK, rssDoc(3))
	res, err := newFetcher(20).Fetch(context.Background(), srv.URL, "2006-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.True(t, res.Unchanged)
}

func TestFetch_ChangedFeedReturnsEntries(t *testing.T) {
	srv := serve(t, http.StatusOK, rssDoc(3))
	res, err := newFetcher(20).Fetch(context.Background(), srv.URL, "2005-01-01T00:00:00+08:00")
	require.NoError(t, err)
	assert.False(t, res.Unchanged)
	assert.Len(t, res.Entries, 3)
}

func TestFetch_AtomSummaryAndContent(t *testing.T) {
	srv := serve(t, http.StatusOK, atomDoc)
	res, err := newFetcher(20).Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)

	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "https://example.org/first", e.Link)
	assert.Equal(t, "<p>full content</p>", e.Content)
	assert.Equal(t, "short summary", e.Summary)
	assert.Empty(t, e.Description)
	assert.Equal(t, "2024-05-01T18:00:00+08:00", res.Updated)
}

func TestLoadFeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feeds:
  - title: Go Blog
    url: https://go.dev/blog/feed.atom
    ai_summary_enabled: true
    tags: [go, blog]
  - title: Off
    url: https://off.example.com/rss
    disabled: true
  - title: No URL
`), 0o644))

	feeds, err := LoadFeeds(path)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "https://go.dev/blog/feed.atom", feeds[0].ID)
	assert.True(t, feeds[0].Enabled)
	assert.True(t, feeds[0].AISummaryEnabled)
	assert.Equal(t, []string{"go", "blog"}, feeds[0].Tags)
	assert.False(t, feeds[1].Enabled)
}
