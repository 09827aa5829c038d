// Package scraper fetches an article page and extracts its readable body
// for feeds that only publish excerpts.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/deusflow/readcopilot/internal/retry"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// maxPageBytes caps how much of a page is read.
const maxPageBytes = 5 << 20

var ErrNoContent = errors.New("no readable content")

// ArticleContent is the extracted body of an article page. HTML is suitable
// for the markup converter.
type ArticleContent struct {
	Title string
	HTML  string
	URL   string
}

type Options struct {
	Client  *http.Client
	Timeout time.Duration
	Retry   retry.RetryConfig
	Logger  *slog.Logger
}

type Extractor struct {
	client *http.Client
	retry  retry.RetryConfig
	logger *slog.Logger
}

func New(opts Options) *Extractor {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Extractor{client: opts.Client, retry: opts.Retry, logger: opts.Logger}
}

// Extract downloads pageURL and returns its main content. Readability runs
// first; when it finds nothing, paragraphs under common article containers
// are collected instead.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*ArticleContent, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url: %w", err)
	}

	body, err := retry.Do(ctx, e.retry, func(ctx context.Context) ([]byte, error) {
		return e.download(ctx, pageURL)
	})
	if err != nil {
		return nil, err
	}

	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return &ArticleContent{Title: strings.TrimSpace(article.Title), HTML: article.Content, URL: pageURL}, nil
	}
	if err != nil {
		e.logger.Debug("readability failed, using fallback", "link", pageURL, "error", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}
	content := genericContent(doc)
	if content == "" {
		return nil, fmt.Errorf("%s: %w", pageURL, ErrNoContent)
	}
	return &ArticleContent{Title: pageTitle(doc), HTML: content, URL: pageURL}, nil
}

func (e *Extractor) download(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("error loading page: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, retry.Transient(fmt.Errorf("HTTP error: %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
}

var contentSelectors = []string{
	"article p",
	".article p",
	".content p",
	".post-content p",
	".entry-content p",
	"main p",
	"#content p",
	".text p",
	"p",
}

// genericContent gathers substantial paragraphs from the first selector
// that yields at least three, and renders them as HTML paragraphs.
func genericContent(doc *goquery.Document) string {
	var paragraphs []string
	for _, selector := range contentSelectors {
		paragraphs = paragraphs[:0]
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			text := strings.TrimSpace(s.Text())
			if len([]rune(text)) > 20 {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) >= 3 {
			break
		}
	}
	if len(paragraphs) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, p := range paragraphs {
		sb.WriteString("<p>")
		sb.WriteString(html.EscapeString(p))
		sb.WriteString("</p>")
	}
	return sb.String()
}

func pageTitle(doc *goquery.Document) string {
	for _, selector := range []string{"h1", "title", ".article-title", ".headline", ".entry-title"} {
		if title := strings.TrimSpace(doc.Find(selector).First().Text()); title != "" {
			return title
		}
	}
	return ""
}
