package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/readcopilot/internal/dates"
	"github.com/deusflow/readcopilot/internal/logger"
	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/rss"
	"github.com/deusflow/readcopilot/internal/scraper"
	"github.com/deusflow/readcopilot/internal/storage"
	"github.com/deusflow/readcopilot/internal/summary"
)

const feedUpdated = "Mon, 02 Jan 2006 15:04:05 +0000"

func rssBody(title string, links ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `<?xml version="1.0"?><rss version="2.0"><channel><title>%s</title>`, title)
	fmt.Fprintf(&sb, `<lastBuildDate>%s</lastBuildDate>`, feedUpdated)
	for i, l := range links {
		fmt.Fprintf(&sb, `<item><title>Item %d</title><link>%s</link>`+
			`<description>&lt;p&gt;Hello &lt;b&gt;World&lt;/b&gt; %d&lt;/p&gt;</description>`+
			`<pubDate>%s</pubDate></item>`, i, l, i, feedUpdated)
	}
	sb.WriteString(`</channel></rss>`)
	return sb.String()
}

// feedServer serves RSS bodies by path; unknown paths return 500.
func feedServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStore(t *testing.T, feeds ...news.FeedSource) *storage.FileStore {
	t.Helper()
	fs := storage.NewFileStore(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, fs.Load())
	require.NoError(t, fs.SeedFeeds(feeds))
	return fs
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) SendText(_ context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

type stubSummarizer struct{ out string }

func (s stubSummarizer) Summarize(context.Context, string) string { return s.out }

func testRunner(store storage.Store, deps Deps, opts Options) *Runner {
	normalizer := dates.New(time.FixedZone("UTC+8", 8*3600), true, logger.Discard())
	deps.Store = store
	deps.Dates = normalizer
	if deps.Fetcher == nil {
		deps.Fetcher = rss.NewFetcher(rss.Options{Timeout: 5 * time.Second, Dates: normalizer, Logger: logger.Discard()})
	}
	opts.Logger = logger.Discard()
	return NewRunner(deps, opts)
}

func feedByID(t *testing.T, s *storage.FileStore, id string) news.FeedSource {
	t.Helper()
	all, err := s.AllFeeds(context.Background())
	require.NoError(t, err)
	for _, f := range all {
		if f.ID == id {
			return f
		}
	}
	t.Fatalf("feed %s not found", id)
	return news.FeedSource{}
}

func TestRun_CreatesArticlesAndIsIdempotent(t *testing.T) {
	srv := feedServer(t, map[string]string{
		"/go": rssBody("Go Blog", "https://go.dev/a", "https://go.dev/b", "https://go.dev/a"),
	})
	store := newStore(t, news.FeedSource{ID: "go", Title: "Go", URL: srv.URL + "/go", Enabled: true, Tags: []string{"go"}})
	notifier := &recordingNotifier{}
	runner := testRunner(store, Deps{Notifier: notifier}, Options{Workers: 2})

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	res := report.Results[0]
	require.NoError(t, res.Err)
	assert.Len(t, res.Created, 2)
	assert.Equal(t, 1, res.Duplicates)
	assert.True(t, res.Notified)

	a, ok := store.Article("https://go.dev/a")
	require.True(t, ok)
	assert.Equal(t, "go", a.Source)
	assert.Equal(t, []string{"go"}, a.Tags)
	assert.Equal(t, "2006-01-02T23:04:00+08:00", a.Date)
	require.NotEmpty(t, a.Blocks)
	assert.Equal(t, []news.Span{{Text: "Hello "}, {Text: "World", Bold: true}, {Text: " 0"}}, a.Blocks[0].Spans)
	assert.Equal(t, "Hello **World** 0", a.Summary)

	feed := feedByID(t, store, "go")
	assert.Equal(t, news.StatusActive, feed.Status)
	assert.Equal(t, "2006-01-02T23:04:00+08:00", feed.Updated)
	assert.Equal(t, "Go Blog", feed.Title)

	require.Len(t, notifier.msgs, 1)
	assert.Equal(t, "Item 0\nhttps://go.dev/a\n\nItem 1\nhttps://go.dev/b\n\n@Go Blog", notifier.msgs[0])

	report, err = runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Results[0].Unchanged)
	assert.Empty(t, report.Results[0].Created)
	assert.Len(t, notifier.msgs, 1)
}

func TestRun_RefetchSkipsExistingLinks(t *testing.T) {
	srv := feedServer(t, map[string]string{"/f": rssBody("F", "https://x/1", "https://x/2")})
	store := newStore(t, news.FeedSource{ID: "f", Title: "F", URL: srv.URL + "/f", Enabled: true})
	_, err := store.CreateArticlePage(context.Background(), news.Article{Link: "https://x/1", Source: "f"}, nil)
	require.NoError(t, err)

	report, err := testRunner(store, Deps{}, Options{}).Run(context.Background())
	require.NoError(t, err)
	res := report.Results[0]
	require.Len(t, res.Created, 1)
	assert.Equal(t, "https://x/2", res.Created[0].Link)
	assert.Equal(t, 1, res.Duplicates)
}

func TestRun_NetworkErrorMarksFeed(t *testing.T) {
	srv := feedServer(t, map[string]string{"/ok": rssBody("OK", "https://ok/1")})
	store := newStore(t,
		news.FeedSource{ID: "bad", Title: "Bad", URL: srv.URL + "/missing", Enabled: true},
		news.FeedSource{ID: "ok", Title: "OK", URL: srv.URL + "/ok", Enabled: true},
	)

	report, err := testRunner(store, Deps{}, Options{Workers: 2}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.FailedFeeds(), 1)
	assert.Error(t, report.Err())

	bad := feedByID(t, store, "bad")
	assert.Equal(t, news.StatusError, bad.Status)
	assert.True(t, strings.HasPrefix(bad.Remarks, "网络错误"), bad.Remarks)
	assert.NotEmpty(t, bad.Updated)

	assert.Equal(t, news.StatusActive, feedByID(t, store, "ok").Status)
	_, ok := store.Article("https://ok/1")
	assert.True(t, ok)

	stats := report.Stats()
	assert.Equal(t, 2, stats.Feeds)
	assert.Equal(t, 1, stats.FeedsFailed)
	assert.Equal(t, 1, stats.ArticlesCreated)
}

func TestRun_ParseErrorMarksFeed(t *testing.T) {
	srv := feedServer(t, map[string]string{"/junk": "this is not a feed"})
	store := newStore(t, news.FeedSource{ID: "j", Title: "Junk", URL: srv.URL + "/junk", Enabled: true})

	_, err := testRunner(store, Deps{}, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(feedByID(t, store, "j").Remarks, "解析错误"))
}

type failingStore struct {
	*storage.FileStore
	existingErr error
	createErr   error
}

func (f *failingStore) ExistingLinks(ctx context.Context, links []string) ([]string, error) {
	if f.existingErr != nil {
		return nil, f.existingErr
	}
	return f.FileStore.ExistingLinks(ctx, links)
}

func (f *failingStore) CreateArticlePage(ctx context.Context, a news.Article, blocks []news.Block) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.FileStore.CreateArticlePage(ctx, a, blocks)
}

func TestRun_DedupeErrorWritesNothing(t *testing.T) {
	srv := feedServer(t, map[string]string{"/f": rssBody("F", "https://x/1")})
	fs := newStore(t, news.FeedSource{ID: "f", Title: "F", URL: srv.URL + "/f", Enabled: true})
	store := &failingStore{FileStore: fs, existingErr: errors.New("query timeout")}

	report, err := testRunner(store, Deps{}, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Error(t, report.Results[0].Err)

	_, ok := fs.Article("https://x/1")
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(feedByID(t, fs, "f").Remarks, "去重查询错误"))
}

func TestRun_PersistErrorMarksFeed(t *testing.T) {
	srv := feedServer(t, map[string]string{"/f": rssBody("F", "https://x/1", "https://x/2")})
	fs := newStore(t, news.FeedSource{ID: "f", Title: "F", URL: srv.URL + "/f", Enabled: true})
	store := &failingStore{FileStore: fs, createErr: errors.New("validation failed")}
	notifier := &recordingNotifier{}

	report, err := testRunner(store, Deps{Notifier: notifier}, Options{}).Run(context.Background())
	require.NoError(t, err)
	res := report.Results[0]
	assert.Equal(t, 2, res.Failed)
	assert.Empty(t, res.Created)
	assert.Empty(t, notifier.msgs)

	feed := feedByID(t, fs, "f")
	assert.Equal(t, news.StatusError, feed.Status)
	assert.True(t, strings.HasPrefix(feed.Remarks, "保存文章错误"))
}

func TestRun_SummaryWrittenForEnabledFeeds(t *testing.T) {
	srv := feedServer(t, map[string]string{
		"/ai":    rssBody("AI", "https://ai/1"),
		"/plain": rssBody("Plain", "https://plain/1"),
	})
	store := newStore(t,
		news.FeedSource{ID: "ai", Title: "AI", URL: srv.URL + "/ai", Enabled: true, AISummaryEnabled: true},
		news.FeedSource{ID: "plain", Title: "Plain", URL: srv.URL + "/plain", Enabled: true},
	)

	report, err := testRunner(store, Deps{Summaries: stubSummarizer{out: "一句话总结"}}, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats().SummariesGenerated)

	a, _ := store.Article("https://ai/1")
	assert.Equal(t, "一句话总结", a.Summary)
	p, _ := store.Article("https://plain/1")
	assert.Equal(t, "Hello **World** 0", p.Summary)
}

func TestRun_SummaryFallbackCounted(t *testing.T) {
	srv := feedServer(t, map[string]string{"/ai": rssBody("AI", "https://ai/1")})
	store := newStore(t, news.FeedSource{ID: "ai", Title: "AI", URL: srv.URL + "/ai", Enabled: true, AISummaryEnabled: true})

	report, err := testRunner(store, Deps{Summaries: stubSummarizer{out: summary.Fallback}}, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats().SummaryFallbacks)
	a, _ := store.Article("https://ai/1")
	assert.Equal(t, summary.Fallback, a.Summary)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	srv := feedServer(t, map[string]string{"/f": rssBody("F", "https://x/1")})
	store := newStore(t, news.FeedSource{ID: "f", Title: "F", URL: srv.URL + "/f", Enabled: true})
	notifier := &recordingNotifier{}

	report, err := testRunner(store, Deps{Notifier: notifier}, Options{DryRun: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Results[0].Created, 1)

	_, ok := store.Article("https://x/1")
	assert.False(t, ok)
	assert.Empty(t, notifier.msgs)
	assert.Empty(t, feedByID(t, store, "f").Status)
}

type stubExtractor struct {
	html string
	err  error
}

func (s stubExtractor) Extract(_ context.Context, pageURL string) (*scraper.ArticleContent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scraper.ArticleContent{HTML: s.html, URL: pageURL}, nil
}

func TestRun_FullTextReplacesFeedContent(t *testing.T) {
	srv := feedServer(t, map[string]string{
		"/full": rssBody("Full", "https://full/1"),
		"/fail": rssBody("Fail", "https://fail/1"),
	})
	store := newStore(t,
		news.FeedSource{ID: "full", Title: "Full", URL: srv.URL + "/full", Enabled: true, FullTextEnabled: true},
	)
	_, err := testRunner(store, Deps{Scraper: stubExtractor{html: "<p>Entire article</p>"}}, Options{}).Run(context.Background())
	require.NoError(t, err)
	a, _ := store.Article("https://full/1")
	assert.Equal(t, "Entire article", a.Blocks[0].PlainText())

	failStore := newStore(t,
		news.FeedSource{ID: "fail", Title: "Fail", URL: srv.URL + "/fail", Enabled: true, FullTextEnabled: true},
	)
	_, err = testRunner(failStore, Deps{Scraper: stubExtractor{err: errors.New("403")}}, Options{}).Run(context.Background())
	require.NoError(t, err)
	b, _ := failStore.Article("https://fail/1")
	assert.Equal(t, "Hello World 0", b.Blocks[0].PlainText())
}

func TestRun_UnparseableEntryDateKeepsArticle(t *testing.T) {
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>D</title>` +
		`<item><title>T</title><link>https://d/1</link><description>x</description>` +
		`<pubDate>not a date at all</pubDate></item></channel></rss>`
	srv := feedServer(t, map[string]string{"/d": body})
	store := newStore(t, news.FeedSource{ID: "d", Title: "D", URL: srv.URL + "/d", Enabled: true})

	_, err := testRunner(store, Deps{}, Options{}).Run(context.Background())
	require.NoError(t, err)
	a, ok := store.Article("https://d/1")
	require.True(t, ok)
	assert.Empty(t, a.Date)
}

func TestRun_MissingEntryDateUsesNow(t *testing.T) {
	body := `<?xml version="1.0"?><rss version="2.0"><channel><title>N</title>` +
		`<item><title>T</title><link>https://n/1</link><description>x</description></item>` +
		`</channel></rss>`
	srv := feedServer(t, map[string]string{"/n": body})
	store := newStore(t, news.FeedSource{ID: "n", Title: "N", URL: srv.URL + "/n", Enabled: true})

	before := time.Now().Add(-time.Minute)
	_, err := testRunner(store, Deps{}, Options{}).Run(context.Background())
	require.NoError(t, err)

	a, ok := store.Article("https://n/1")
	require.True(t, ok)
	require.NotEmpty(t, a.Date)
	got, err := time.Parse(time.RFC3339, a.Date)
	require.NoError(t, err)
	assert.False(t, got.Before(before))
	_, offset := got.Zone()
	assert.Equal(t, 8*3600, offset)
}

func TestWithLinks_KeepsLinksVerbatim(t *testing.T) {
	got := withLinks([]news.Entry{
		{Title: "a", Link: "https://x/a "},
		{Title: "none"},
		{Title: "b", Link: "https://x/b"},
	}, logger.Discard())
	require.Len(t, got, 2)
	assert.Equal(t, "https://x/a ", got[0].Link)
	assert.Equal(t, "https://x/b", got[1].Link)
}

type listErrorStore struct{ *storage.FileStore }

func (listErrorStore) QueryEnabledFeeds(context.Context) ([]news.FeedSource, error) {
	return nil, errors.New("unauthorized")
}

func TestRun_FeedListErrorFailsRun(t *testing.T) {
	_, err := testRunner(listErrorStore{newStore(t)}, Deps{}, Options{}).Run(context.Background())
	assert.Error(t, err)
}
