package notion

import (
	"strings"

	"github.com/jomei/notionapi"

	"github.com/deusflow/readcopilot/internal/news"
)

const (
	// maxRichTextRunes is the longest content a single rich text object may hold.
	maxRichTextRunes = 2000
	// maxRichTextObjects is the most rich text objects one array may hold.
	maxRichTextObjects = 100
)

func toBlocks(blocks []news.Block) []notionapi.Block {
	out := make([]notionapi.Block, 0, len(blocks))
	for _, b := range blocks {
		if nb := toBlock(b); nb != nil {
			out = append(out, nb)
		}
	}
	return out
}

func toBlock(b news.Block) notionapi.Block {
	switch b.Kind {
	case news.KindParagraph:
		return &notionapi.ParagraphBlock{
			BasicBlock: basic(notionapi.BlockTypeParagraph),
			Paragraph:  notionapi.Paragraph{RichText: richText(b.Spans)},
		}
	case news.KindHeading:
		h := notionapi.Heading{RichText: richText(b.Spans)}
		switch b.Level {
		case 1:
			return &notionapi.Heading1Block{BasicBlock: basic(notionapi.BlockTypeHeading1), Heading1: h}
		case 2:
			return &notionapi.Heading2Block{BasicBlock: basic(notionapi.BlockTypeHeading2), Heading2: h}
		default:
			return &notionapi.Heading3Block{BasicBlock: basic(notionapi.BlockTypeHeading3), Heading3: h}
		}
	case news.KindQuote:
		return &notionapi.QuoteBlock{
			BasicBlock: basic(notionapi.BlockTypeQuote),
			Quote:      notionapi.Quote{RichText: richText(b.Spans)},
		}
	case news.KindCode:
		lang := b.Language
		if lang == "" {
			lang = news.CodeLanguage
		}
		return &notionapi.CodeBlock{
			BasicBlock: basic(notionapi.BlockTypeCode),
			Code:       notionapi.Code{RichText: plainRichText(b.Text), Language: lang},
		}
	case news.KindImage:
		img := notionapi.Image{
			Type:     notionapi.FileTypeExternal,
			External: &notionapi.FileObject{URL: b.URL},
		}
		if b.Caption != "" {
			img.Caption = plainRichText(b.Caption)
		}
		return &notionapi.ImageBlock{BasicBlock: basic(notionapi.BlockTypeImage), Image: img}
	case news.KindEmbed:
		return &notionapi.EmbedBlock{
			BasicBlock: basic(notionapi.BlockTypeEmbed),
			Embed:      notionapi.Embed{URL: b.URL},
		}
	}
	return nil
}

func basic(t notionapi.BlockType) notionapi.BasicBlock {
	return notionapi.BasicBlock{Object: notionapi.ObjectTypeBlock, Type: t}
}

// richText maps spans to rich text objects, splitting any span whose text
// exceeds the per-object limit. Past maxRichTextObjects the tail is merged
// into plain text.
func richText(spans []news.Span) []notionapi.RichText {
	type part struct {
		text string
		span news.Span
	}
	var parts []part
	for _, s := range spans {
		for _, p := range splitRunes(s.Text, maxRichTextRunes) {
			parts = append(parts, part{p, s})
		}
	}

	cut := len(parts)
	var tail []string
	if len(parts) > maxRichTextObjects {
		for cut = maxRichTextObjects - 1; cut >= 0; cut-- {
			var sb strings.Builder
			for _, p := range parts[cut:] {
				sb.WriteString(p.text)
			}
			tail = splitRunes(sb.String(), maxRichTextRunes)
			if cut+len(tail) <= maxRichTextObjects || cut == 0 {
				break
			}
		}
	}

	out := make([]notionapi.RichText, 0, cut+len(tail))
	for _, p := range parts[:cut] {
		out = append(out, textObject(p.text, p.span))
	}
	for _, t := range tail {
		out = append(out, textObject(t, news.Span{}))
	}
	return out
}

func plainRichText(text string) []notionapi.RichText {
	if text == "" {
		return []notionapi.RichText{}
	}
	return richText([]news.Span{{Text: text}})
}

func textObject(content string, s news.Span) notionapi.RichText {
	rt := notionapi.RichText{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}
	if s.URL != "" {
		rt.Text.Link = &notionapi.Link{Url: s.URL}
	}
	if s.Bold || s.Italic {
		rt.Annotations = &notionapi.Annotations{
			Bold:   s.Bold,
			Italic: s.Italic,
			Color:  notionapi.ColorDefault,
		}
	}
	return rt
}

// splitRunes cuts s into pieces of at most max runes without dropping
// anything, so the pieces concatenate back to s.
func splitRunes(s string, max int) []string {
	r := []rune(s)
	if len(r) <= max {
		return []string{s}
	}
	parts := make([]string, 0, len(r)/max+1)
	for len(r) > max {
		parts = append(parts, string(r[:max]))
		r = r[max:]
	}
	return append(parts, string(r))
}
