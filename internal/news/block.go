package news

import (
	"strings"
	"unicode/utf8"
)

type BlockKind string

const (
	KindParagraph BlockKind = "paragraph"
	KindHeading   BlockKind = "heading"
	KindQuote     BlockKind = "quote"
	KindCode      BlockKind = "code"
	KindImage     BlockKind = "image"
	KindEmbed     BlockKind = "embed"
)

// CodeLanguage is attached to every code block.
const CodeLanguage = "plain text"

// Span is a run of inline text. A non-empty URL makes it a link.
type Span struct {
	Text   string `json:"text"`
	Bold   bool   `json:"bold,omitempty"`
	Italic bool   `json:"italic,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Block is one unit of article body.
//
// Paragraph, Heading and Quote carry Spans. Code carries Text and Language.
// Image carries URL and Caption. Embed carries URL.
type Block struct {
	Kind     BlockKind `json:"kind"`
	Level    int       `json:"level,omitempty"`
	Spans    []Span    `json:"spans,omitempty"`
	Text     string    `json:"text,omitempty"`
	Language string    `json:"language,omitempty"`
	URL      string    `json:"url,omitempty"`
	Caption  string    `json:"caption,omitempty"`
}

// PlainText flattens the block's visible text.
func (b Block) PlainText() string {
	switch b.Kind {
	case KindCode:
		return b.Text
	case KindImage:
		return b.Caption
	case KindEmbed:
		return ""
	}
	var sb strings.Builder
	for _, s := range b.Spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// RuneLen is the length of the block's text in runes.
func (b Block) RuneLen() int {
	return utf8.RuneCountInString(b.PlainText())
}

func Paragraph(spans ...Span) Block {
	return Block{Kind: KindParagraph, Spans: spans}
}

func Heading(level int, spans ...Span) Block {
	if level < 1 {
		level = 1
	}
	if level > 3 {
		level = 3
	}
	return Block{Kind: KindHeading, Level: level, Spans: spans}
}

func Quote(spans ...Span) Block {
	return Block{Kind: KindQuote, Spans: spans}
}

func Code(text string) Block {
	return Block{Kind: KindCode, Text: text, Language: CodeLanguage}
}

func Image(url, caption string) Block {
	return Block{Kind: KindImage, URL: url, Caption: caption}
}

func Embed(url string) Block {
	return Block{Kind: KindEmbed, URL: url}
}
