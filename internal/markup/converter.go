// Package markup turns entry HTML into bounded content blocks: HTML is
// cleaned, converted to Markdown, scanned into block intents, tokenized into
// inline spans and chunked to the block size limit.
package markup

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/readcopilot/internal/imagecheck"
	"github.com/deusflow/readcopilot/internal/news"
)

// ImageValidator decides whether an image URL is embeddable.
type ImageValidator interface {
	Validate(ctx context.Context, url string) imagecheck.Result
}

type Options struct {
	MaxRunes  int // per block, default news.MaxTextRunes
	MaxBlocks int // per article, default 100; negative means unlimited
	Images    ImageValidator
	Logger    *slog.Logger
}

type Converter struct {
	md        *md.Converter
	images    ImageValidator
	maxRunes  int
	maxBlocks int
	logger    *slog.Logger
}

func NewConverter(opts Options) *Converter {
	if opts.MaxRunes <= 0 {
		opts.MaxRunes = news.MaxTextRunes
	}
	if opts.MaxBlocks == 0 {
		opts.MaxBlocks = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Converter{
		md: md.NewConverter("", true, &md.Options{
			HeadingStyle:     "atx",
			CodeBlockStyle:   "fenced",
			Fence:            "```",
			BulletListMarker: "-",
			EmDelimiter:      "*",
			StrongDelimiter:  "**",
			LinkStyle:        "inlined",
		}),
		images:    opts.Images,
		maxRunes:  opts.MaxRunes,
		maxBlocks: opts.MaxBlocks,
		logger:    opts.Logger,
	}
}

// Convert returns the blocks for html together with the intermediate
// Markdown, which doubles as the article's plain text.
func (c *Converter) Convert(ctx context.Context, html, baseURL string) ([]news.Block, string) {
	cleaned := c.clean(html, baseURL)
	markdown, err := c.md.ConvertString(cleaned)
	if err != nil {
		c.logger.Warn("markdown conversion failed, using page text", "error", err, "base", baseURL)
		markdown = plainText(cleaned)
	}
	markdown = strings.TrimSpace(markdown)

	blocks := c.FromMarkdown(ctx, markdown)
	return blocks, markdown
}

// FromMarkdown builds blocks from already converted Markdown.
func (c *Converter) FromMarkdown(ctx context.Context, markdown string) []news.Block {
	var blocks []news.Block
	for _, it := range scanLines(markdown) {
		switch it.kind {
		case intentCode:
			for _, piece := range ChunkCode(it.text, c.maxRunes) {
				blocks = append(blocks, news.Code(piece))
			}
		case intentImage:
			blocks = append(blocks, c.imageBlock(ctx, it.url, it.alt))
		case intentHeading:
			blocks = append(blocks, c.textBlocks(ctx, it.text, func(spans []news.Span) news.Block {
				return news.Heading(it.level, spans...)
			})...)
		case intentQuote:
			blocks = append(blocks, c.textBlocks(ctx, it.text, func(spans []news.Span) news.Block {
				return news.Quote(spans...)
			})...)
		default:
			blocks = append(blocks, c.textBlocks(ctx, it.text, func(spans []news.Span) news.Block {
				return news.Paragraph(spans...)
			})...)
		}
	}

	if c.maxBlocks > 0 && len(blocks) > c.maxBlocks {
		c.logger.Warn("article truncated", "blocks", len(blocks), "kept", c.maxBlocks)
		blocks = blocks[:c.maxBlocks]
	}
	return blocks
}

// textBlocks tokenizes one text intent. Inline images split the run: the
// text before the image is flushed, the image follows, and the rest
// continues in a new block of the same kind.
func (c *Converter) textBlocks(ctx context.Context, text string, wrap func([]news.Span) news.Block) []news.Block {
	var (
		out     []news.Block
		pending []news.Span
	)
	flush := func() {
		for _, chunk := range ChunkSpans(trimSpans(pending), c.maxRunes) {
			out = append(out, wrap(chunk))
		}
		pending = nil
	}

	for _, it := range tokenize(text) {
		if it.image != nil {
			flush()
			out = append(out, c.imageBlock(ctx, it.image.url, it.image.alt))
			continue
		}
		pending = append(pending, it.span)
	}
	flush()
	return out
}

func (c *Converter) imageBlock(ctx context.Context, rawURL, alt string) news.Block {
	if strings.TrimSpace(rawURL) == "" {
		return news.Paragraph(news.Span{Text: "图片加载失败: empty image url"})
	}
	if c.images == nil {
		return news.Image(rawURL, alt)
	}
	res := c.images.Validate(ctx, rawURL)
	if !res.Valid {
		c.logger.Info("image degraded to embed", "url", rawURL, "reason", res.Reason)
		return news.Embed(rawURL)
	}
	return news.Image(rawURL, alt)
}

// clean drops non-content elements and resolves relative URLs.
func (c *Converter) clean(html, baseURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, iframe, noscript").Remove()

	// Lazy-loaded images keep the real source in data-src.
	doc.Find("img[data-src]").Each(func(_ int, s *goquery.Selection) {
		if src, _ := s.Attr("src"); strings.TrimSpace(src) == "" || strings.HasPrefix(src, "data:") {
			ds, _ := s.Attr("data-src")
			s.SetAttr("src", ds)
		}
	})

	base, _ := url.Parse(baseURL)
	if base != nil && base.IsAbs() {
		resolve := func(attr string) func(int, *goquery.Selection) {
			return func(_ int, s *goquery.Selection) {
				v, ok := s.Attr(attr)
				if !ok || strings.TrimSpace(v) == "" {
					return
				}
				if ref, err := url.Parse(strings.TrimSpace(v)); err == nil {
					s.SetAttr(attr, base.ResolveReference(ref).String())
				}
			}
		}
		doc.Find("img[src]").Each(resolve("src"))
		doc.Find("a[href]").Each(resolve("href"))
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return html
	}
	return out
}

func plainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.TrimSpace(doc.Text())
}

// trimSpans strips leading and trailing whitespace across a span run.
func trimSpans(spans []news.Span) []news.Span {
	for len(spans) > 0 {
		spans[0].Text = strings.TrimLeft(spans[0].Text, " \t")
		if spans[0].Text != "" {
			break
		}
		spans = spans[1:]
	}
	for len(spans) > 0 {
		n := len(spans) - 1
		spans[n].Text = strings.TrimRight(spans[n].Text, " \t")
		if spans[n].Text != "" {
			break
		}
		spans = spans[:n]
	}
	return spans
}
