// Package news holds the records that flow through the pipeline: feed
// sources, transient feed entries, and the articles written to the store.
package news

import (
	"strings"
	"unicode/utf8"
)

// MaxTextRunes bounds the text carried by any single block.
const MaxTextRunes = 2000

// DefaultSummaryRunes is how much article text is kept as the summary when
// no model-generated summary exists. Three runes are reserved for "...".
const DefaultSummaryRunes = 1996

type FeedStatus string

const (
	StatusActive FeedStatus = "Active"
	StatusError  FeedStatus = "Error"
)

// FeedSource is a subscribed feed as recorded in the store.
type FeedSource struct {
	ID               string     `json:"id" yaml:"id"`
	Title            string     `json:"title" yaml:"title"`
	URL              string     `json:"url" yaml:"url"`
	Enabled          bool       `json:"enabled" yaml:"enabled"`
	AISummaryEnabled bool       `json:"ai_summary_enabled" yaml:"ai_summary_enabled"`
	FullTextEnabled  bool       `json:"full_text_enabled" yaml:"full_text_enabled"`
	Tags             []string   `json:"tags,omitempty" yaml:"tags"`
	Updated          string     `json:"updated,omitempty" yaml:"updated"`
	Status           FeedStatus `json:"status,omitempty" yaml:"status"`
	Remarks          string     `json:"remarks,omitempty" yaml:"remarks"`
}

// Entry is one item of a fetched feed. The HTML fields are raw.
type Entry struct {
	Title       string
	Link        string
	Published   string
	Updated     string
	Content     string
	Summary     string
	Description string
	Tags        []string
}

// Article is a normalized entry ready to be written to the store.
type Article struct {
	Title    string
	Link     string
	Date     string // RFC 3339 in the target zone, empty if the entry date was unparseable
	Source   string // FeedSource.ID
	Tags     []string
	Blocks   []Block
	Summary  string
	Markdown string
}

// ExtractContent picks the first non-blank of content, summary and
// description.
func ExtractContent(e Entry) (string, bool) {
	for _, s := range []string{e.Content, e.Summary, e.Description} {
		if strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// DefaultSummary truncates text to DefaultSummaryRunes and marks the cut.
func DefaultSummary(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= DefaultSummaryRunes {
		return text
	}
	r := []rune(text)
	return string(r[:DefaultSummaryRunes]) + "..."
}
