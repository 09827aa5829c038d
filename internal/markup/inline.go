package markup

import (
	"strings"

	"github.com/deusflow/readcopilot/internal/news"
)

// missingLinkMarker is appended to link text whose target is empty.
const missingLinkMarker = " [链接缺失]"

// inline is either a text span or an inline image.
type inline struct {
	span  news.Span
	image *imageRef
}

type imageRef struct {
	url string
	alt string
}

type style struct {
	bold   bool
	italic bool
	url    string
}

// tokenize turns one line of markdown inline syntax into spans and images.
// Delimiters without a partner are kept as literal text.
func tokenize(s string) []inline {
	return mergeSpans(tokenizeStyled(s, style{}))
}

func tokenizeStyled(s string, st style) []inline {
	var out []inline
	var buf strings.Builder

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		out = append(out, inline{span: news.Span{Text: buf.String(), Bold: st.bold, Italic: st.italic, URL: st.url}})
		buf.Reset()
	}

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && isASCIIPunct(s[i+1]):
			buf.WriteByte(s[i+1])
			i += 2
			continue

		case c == '`':
			if end := strings.IndexByte(s[i+1:], '`'); end >= 0 {
				buf.WriteString(s[i+1 : i+1+end])
				i += end + 2
				continue
			}

		case c == '!' && i+1 < len(s) && s[i+1] == '[':
			if alt, url, n, ok := parseLinkAt(s, i+1); ok {
				flush()
				out = append(out, inline{image: &imageRef{url: url, alt: unescape(alt)}})
				i += 1 + n
				continue
			}

		case c == '[':
			if text, url, n, ok := parseLinkAt(s, i); ok {
				flush()
				if url == "" {
					inner := tokenizeStyled(text, style{bold: st.bold, italic: st.italic})
					out = append(out, inner...)
					out = append(out, inline{span: news.Span{Text: missingLinkMarker, Bold: st.bold, Italic: st.italic}})
				} else {
					out = append(out, tokenizeStyled(text, style{bold: st.bold, italic: st.italic, url: url})...)
				}
				i += n
				continue
			}

		case (c == '*' || c == '_') && i+1 < len(s) && s[i+1] == c && !strongClosesFirst(s, i):
			delim := s[i : i+2]
			if end := findClose(s, i+2, delim); end > i+2 && canOpen(s, i, c) {
				end = extendCloser(s, end, c)
				flush()
				out = append(out, tokenizeStyled(s[i+2:end], style{bold: true, italic: st.italic, url: st.url})...)
				i = end + 2
				continue
			}
			buf.WriteString(delim)
			i += 2
			continue

		case c == '*' || c == '_':
			if end := findClose(s, i+1, string(c)); end > i+1 && canOpen(s, i, c) {
				flush()
				out = append(out, tokenizeStyled(s[i+1:end], style{bold: st.bold, italic: true, url: st.url})...)
				i = end + 1
				continue
			}
		}

		buf.WriteByte(c)
		i++
	}
	flush()
	return out
}

// parseLinkAt parses "[text](url)" starting at the '[' at s[i]. It returns
// the consumed byte count.
func parseLinkAt(s string, i int) (text, url string, n int, ok bool) {
	depth := 0
	j := i
	for ; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
			continue
		case '[':
			depth++
		case ']':
			depth--
		}
		if depth == 0 {
			break
		}
	}
	if j >= len(s) || j+1 >= len(s) || s[j+1] != '(' {
		return "", "", 0, false
	}
	text = s[i+1 : j]

	k := j + 2
	parens := 1
	for ; k < len(s); k++ {
		if s[k] == '(' {
			parens++
		} else if s[k] == ')' {
			parens--
			if parens == 0 {
				break
			}
		}
	}
	if k >= len(s) {
		return "", "", 0, false
	}
	target := strings.TrimSpace(s[j+2 : k])
	// Drop an optional title: (url "title").
	if sp := strings.IndexAny(target, " \t"); sp >= 0 {
		target = target[:sp]
	}
	target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
	return text, target, k + 1 - i, true
}

// findClose finds the closing delimiter for an emphasis run starting at from.
// Single delimiters skip doubled ones so "*a **b** c*" closes at the end.
func findClose(s string, from int, delim string) int {
	for j := from; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
			continue
		case '`':
			if end := strings.IndexByte(s[j+1:], '`'); end >= 0 {
				j += end + 1
				continue
			}
		}
		if !strings.HasPrefix(s[j:], delim) {
			continue
		}
		if len(delim) == 1 && j+1 < len(s) && s[j+1] == delim[0] {
			j++
			continue
		}
		if j > from && s[j-1] == ' ' {
			continue
		}
		return j
	}
	return -1
}

// extendCloser moves a strong closer found at end to the tail of its
// delimiter run, so "**a *b***" closes after the inner emphasis. Runs followed
// by a word byte are left alone.
func extendCloser(s string, end int, c byte) int {
	n := 2
	for end+n < len(s) && s[end+n] == c {
		n++
	}
	if n == 2 || end+n < len(s) && isWordByte(s[end+n]) {
		return end
	}
	return end + n - 2
}

// strongClosesFirst reports whether a "***" opener at i meets a two-byte
// closer before any other, as in "***a** b*". The outer run is then emphasis
// wrapping a strong span.
func strongClosesFirst(s string, i int) bool {
	c := s[i]
	if i+3 >= len(s) || s[i+1] != c || s[i+2] != c || s[i+3] == c {
		return false
	}
	for j := i + 3; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
			continue
		case '`':
			if end := strings.IndexByte(s[j+1:], '`'); end >= 0 {
				j += end + 1
				continue
			}
		}
		if s[j] != c || s[j-1] == ' ' {
			continue
		}
		n := 1
		for j+n < len(s) && s[j+n] == c {
			n++
		}
		return n == 2
	}
	return false
}

// canOpen rejects intraword underscores such as snake_case.
func canOpen(s string, i int, c byte) bool {
	if c != '_' || i == 0 {
		return true
	}
	return !isWordByte(s[i-1])
}

func mergeSpans(in []inline) []inline {
	var out []inline
	for _, it := range in {
		if it.image == nil && it.span.Text == "" {
			continue
		}
		if n := len(out); n > 0 && it.image == nil && out[n-1].image == nil {
			prev := &out[n-1].span
			if prev.Bold == it.span.Bold && prev.Italic == it.span.Italic && prev.URL == it.span.URL {
				prev.Text += it.span.Text
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

func unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && isASCIIPunct(s[i+1]) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isASCIIPunct(c byte) bool {
	return strings.IndexByte("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", c) >= 0
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
