package markup

import (
	"regexp"
	"strings"
)

type intentKind int

const (
	intentParagraph intentKind = iota
	intentHeading
	intentQuote
	intentCode
	intentImage
)

// intent is a block recognized by the line scanner, before inline parsing
// and chunking.
type intent struct {
	kind  intentKind
	level int
	text  string
	url   string
	alt   string
}

var (
	imageLineRe = regexp.MustCompile(`^!\[((?:\\.|[^\]])*)\]\(\s*<?([^)\s>]*)>?(?:\s+"[^"]*")?\s*\)$`)
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*#*\s*$`)
	ruleRe      = regexp.MustCompile(`^(?:(?:\*\s*){3,}|(?:-\s*){3,}|(?:_\s*){3,})$`)
	listItemRe  = regexp.MustCompile(`^\s*(?:[-*+]|\d+[.)])\s+`)
	bulletRe    = regexp.MustCompile(`^\s*[-*+]\s+`)
)

// scanLines splits markdown into block intents. Consecutive plain lines
// join with a single space; list items each start their own paragraph.
func scanLines(markdown string) []intent {
	var (
		out       []intent
		para      []string
		quote     []string
		code      []string
		inFence   bool
		fenceMark string
	)

	flushPara := func() {
		if len(para) > 0 {
			out = append(out, intent{kind: intentParagraph, text: strings.Join(para, " ")})
			para = nil
		}
	}
	flushQuote := func() {
		if len(quote) > 0 {
			out = append(out, intent{kind: intentQuote, text: strings.Join(quote, " ")})
			quote = nil
		}
	}
	flushAll := func() {
		flushPara()
		flushQuote()
	}

	for _, raw := range strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(raw)

		if inFence {
			if strings.HasPrefix(trimmed, fenceMark) && strings.Trim(trimmed, fenceMark[:1]) == "" {
				out = append(out, intent{kind: intentCode, text: strings.Join(code, "\n")})
				code = nil
				inFence = false
				continue
			}
			code = append(code, raw)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~"):
			flushAll()
			inFence = true
			fenceMark = trimmed[:3]

		case trimmed == "":
			flushAll()

		case ruleRe.MatchString(trimmed):
			flushAll()

		case imageLineRe.MatchString(trimmed):
			flushAll()
			m := imageLineRe.FindStringSubmatch(trimmed)
			out = append(out, intent{kind: intentImage, url: m[2], alt: unescape(m[1])})

		case headingRe.MatchString(trimmed):
			flushAll()
			m := headingRe.FindStringSubmatch(trimmed)
			out = append(out, intent{kind: intentHeading, level: min(len(m[1]), 3), text: m[2]})

		case strings.HasPrefix(trimmed, ">"):
			flushPara()
			line := strings.TrimSpace(strings.TrimLeft(trimmed, ">"))
			if line == "" {
				flushQuote()
				continue
			}
			quote = append(quote, line)

		case listItemRe.MatchString(raw):
			flushAll()
			para = append(para, bulletRe.ReplaceAllString(trimmed, "- "))

		default:
			flushQuote()
			para = append(para, trimmed)
		}
	}

	if inFence && len(code) > 0 {
		out = append(out, intent{kind: intentCode, text: strings.Join(code, "\n")})
	}
	flushAll()
	return out
}
