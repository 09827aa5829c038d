package notion

import (
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/deusflow/readcopilot/internal/news"
	"github.com/deusflow/readcopilot/internal/storage"
)

func feedFromPage(p notionapi.Page) (news.FeedSource, bool) {
	props := p.Properties
	f := news.FeedSource{
		ID:               p.ID.String(),
		Title:            titleProp(props[propFeedName]),
		URL:              urlProp(props[propFeedURL]),
		Enabled:          !checkboxProp(props[propFeedDisabled]),
		AISummaryEnabled: checkboxProp(props[propFeedAISummary]),
		FullTextEnabled:  checkboxProp(props[propFeedFullText]),
		Tags:             multiSelectProp(props[propFeedTags]),
		Updated:          dateProp(props[propFeedUpdated]),
		Status:           news.FeedStatus(selectProp(props[propFeedStatus])),
		Remarks:          richTextProp(props[propFeedRemarks]),
	}
	return f, f.URL != ""
}

func articleProperties(a news.Article) notionapi.Properties {
	props := notionapi.Properties{
		propArticleTitle:   notionapi.TitleProperty{Title: plainRichText(a.Title)},
		propArticleLink:    notionapi.URLProperty{URL: a.Link},
		propArticleType:    notionapi.SelectProperty{Select: notionapi.Option{Name: articleType}},
		propArticleStatus:  notionapi.SelectProperty{Select: notionapi.Option{Name: articleStatus}},
		propArticleSummary: notionapi.RichTextProperty{RichText: plainRichText(a.Summary)},
	}
	if d, ok := dateObject(a.Date); ok {
		props[propArticleDate] = notionapi.DateProperty{Date: d}
	}
	if a.Source != "" {
		props[propArticleSource] = notionapi.RelationProperty{
			Relation: []notionapi.Relation{{ID: notionapi.PageID(a.Source)}},
		}
	}
	if len(a.Tags) > 0 {
		props[propArticleTags] = notionapi.MultiSelectProperty{MultiSelect: options(a.Tags)}
	}
	return props
}

func statusProperties(u storage.FeedStatusUpdate) (notionapi.Properties, error) {
	props := notionapi.Properties{
		propFeedStatus:  notionapi.SelectProperty{Select: notionapi.Option{Name: string(u.Status)}},
		propFeedRemarks: notionapi.RichTextProperty{RichText: plainRichText(u.Remarks)},
	}
	if u.Updated != "" {
		d, ok := dateObject(u.Updated)
		if !ok {
			return nil, fmt.Errorf("invalid updated time %q", u.Updated)
		}
		props[propFeedUpdated] = notionapi.DateProperty{Date: d}
	}
	if u.Title != "" {
		props[propFeedName] = notionapi.TitleProperty{Title: plainRichText(u.Title)}
	}
	return props, nil
}

func dateObject(iso string) (*notionapi.DateObject, bool) {
	if iso == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return nil, false
	}
	start := notionapi.Date(t)
	return &notionapi.DateObject{Start: &start}, true
}

func options(names []string) []notionapi.Option {
	out := make([]notionapi.Option, 0, len(names))
	for _, n := range names {
		out = append(out, notionapi.Option{Name: n})
	}
	return out
}

func joinRichText(rts []notionapi.RichText) string {
	var sb strings.Builder
	for _, rt := range rts {
		if rt.PlainText != "" {
			sb.WriteString(rt.PlainText)
		} else if rt.Text != nil {
			sb.WriteString(rt.Text.Content)
		}
	}
	return sb.String()
}

func titleProp(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.TitleProperty:
		return joinRichText(v.Title)
	case notionapi.TitleProperty:
		return joinRichText(v.Title)
	}
	return ""
}

func richTextProp(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.RichTextProperty:
		return joinRichText(v.RichText)
	case notionapi.RichTextProperty:
		return joinRichText(v.RichText)
	}
	return ""
}

func urlProp(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.URLProperty:
		return v.URL
	case notionapi.URLProperty:
		return v.URL
	}
	return ""
}

func checkboxProp(p notionapi.Property) bool {
	switch v := p.(type) {
	case *notionapi.CheckboxProperty:
		return v.Checkbox
	case notionapi.CheckboxProperty:
		return v.Checkbox
	}
	return false
}

func selectProp(p notionapi.Property) string {
	switch v := p.(type) {
	case *notionapi.SelectProperty:
		return v.Select.Name
	case notionapi.SelectProperty:
		return v.Select.Name
	}
	return ""
}

func multiSelectProp(p notionapi.Property) []string {
	var opts []notionapi.Option
	switch v := p.(type) {
	case *notionapi.MultiSelectProperty:
		opts = v.MultiSelect
	case notionapi.MultiSelectProperty:
		opts = v.MultiSelect
	}
	var out []string
	for _, o := range opts {
		out = append(out, o.Name)
	}
	return out
}

func dateProp(p notionapi.Property) string {
	var d *notionapi.DateObject
	switch v := p.(type) {
	case *notionapi.DateProperty:
		d = v.Date
	case notionapi.DateProperty:
		d = v.Date
	}
	if d == nil || d.Start == nil {
		return ""
	}
	return time.Time(*d.Start).Format(time.RFC3339)
}
