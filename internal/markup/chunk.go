package markup

import (
	"strings"
	"unicode"

	"github.com/clipperhouse/uax29/v2/sentences"

	"github.com/deusflow/readcopilot/internal/news"
)

// span is a half-open rune range.
type span struct{ start, end int }

// ChunkText splits text into pieces of at most max runes. Cuts fall on
// sentence boundaries where possible, then on whitespace, then anywhere.
// The whitespace at each cut is dropped, so joining the pieces with a single
// space restores text whose cut points were single spaces.
func ChunkText(text string, max int) []string {
	runes := []rune(text)
	var out []string
	for _, r := range chunkBounds(text, runes, max) {
		out = append(out, string(runes[r.start:r.end]))
	}
	return out
}

// ChunkSpans splits a run of inline spans the same way ChunkText splits
// their concatenated text, keeping each span's formatting.
func ChunkSpans(spans []news.Span, max int) [][]news.Span {
	var sb strings.Builder
	for _, s := range spans {
		sb.WriteString(s.Text)
	}
	text := sb.String()
	runes := []rune(text)
	if len(runes) <= max {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return [][]news.Span{spans}
	}

	var out [][]news.Span
	for _, r := range chunkBounds(text, runes, max) {
		out = append(out, sliceSpans(spans, r))
	}
	return out
}

// ChunkCode splits code at line boundaries, cutting single overlong lines
// by runes.
func ChunkCode(code string, max int) []string {
	if len([]rune(code)) <= max {
		return []string{code}
	}

	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for _, line := range strings.Split(code, "\n") {
		lr := []rune(line)
		for len(lr) > max {
			flush()
			out = append(out, string(lr[:max]))
			lr = lr[max:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, lr...)
		case len(cur)+1+len(lr) <= max:
			cur = append(cur, '\n')
			cur = append(cur, lr...)
		default:
			flush()
			cur = append(cur, lr...)
		}
	}
	flush()
	return out
}

func chunkBounds(text string, runes []rune, max int) []span {
	if max < 1 {
		max = news.MaxTextRunes
	}

	var out []span
	cur := span{-1, -1}
	for _, seg := range sentenceSpans(text) {
		s := skipSpace(runes, seg.start, seg.end)
		e := trimSpaceRight(runes, s, seg.end)
		if s >= e {
			continue
		}
		if cur.start >= 0 && e-cur.start <= max {
			cur.end = e
			continue
		}
		if cur.start >= 0 {
			out = append(out, cur)
		}
		for e-s > max {
			pieceEnd, next := forcedCut(runes, s, max)
			out = append(out, span{s, pieceEnd})
			s = next
		}
		cur = span{s, e}
	}
	if cur.start >= 0 && cur.start < cur.end {
		out = append(out, cur)
	}
	return out
}

// sentenceSpans returns the UAX #29 sentences of text as rune ranges.
func sentenceSpans(text string) []span {
	var out []span
	pos := 0
	seg := sentences.FromString(text)
	for seg.Next() {
		n := len([]rune(seg.Value()))
		out = append(out, span{pos, pos + n})
		pos += n
	}
	return out
}

// forcedCut cuts a run that is longer than max starting at s. It prefers the
// last whitespace inside the window.
func forcedCut(runes []rune, s, max int) (pieceEnd, next int) {
	limit := s + max
	for j := limit; j > s; j-- {
		if j < len(runes) && unicode.IsSpace(runes[j]) {
			end := trimSpaceRight(runes, s, j)
			if end > s {
				return end, skipSpace(runes, j, len(runes))
			}
		}
	}
	return limit, limit
}

func skipSpace(runes []rune, i, end int) int {
	for i < end && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func trimSpaceRight(runes []rune, start, end int) int {
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return end
}

// sliceSpans returns the parts of spans that fall inside r.
func sliceSpans(spans []news.Span, r span) []news.Span {
	var out []news.Span
	pos := 0
	for _, s := range spans {
		sr := []rune(s.Text)
		from, to := pos, pos+len(sr)
		pos = to
		if to <= r.start || from >= r.end {
			continue
		}
		lo := max(r.start, from) - from
		hi := min(r.end, to) - from
		part := s
		part.Text = string(sr[lo:hi])
		out = append(out, part)
	}
	return out
}
