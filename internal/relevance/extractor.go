// Package relevance extracts bounded, query-biased excerpts from captured
// page text. It is pure string work: no I/O, no state, deterministic for
// identical inputs.
package relevance

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultWindowChars is the size of the text window taken around each
	// query-term occurrence.
	DefaultWindowChars = 1200

	// DefaultMaxOutputChars caps the total excerpt size.
	DefaultMaxOutputChars = 6000

	// Windows separated by at most mergeGap characters are merged into one.
	mergeGap = 50

	// Separator marks a discontinuity between non-adjacent excerpt windows.
	Separator = "\n...\n"

	minTermLen = 3
	maxTerms   = 12
)

// Options tunes excerpt extraction. Zero values fall back to the defaults.
type Options struct {
	WindowChars    int
	MaxOutputChars int
}

func (o Options) withDefaults() Options {
	if o.WindowChars <= 0 {
		o.WindowChars = DefaultWindowChars
	}
	if o.MaxOutputChars <= 0 {
		o.MaxOutputChars = DefaultMaxOutputChars
	}
	return o
}

type window struct {
	start, end int
}

// Extract returns a bounded excerpt of document biased toward text around
// occurrences of the query's terms. An empty or too-short query, or a query
// whose terms never occur, degrades to the document prefix; neither case is
// an error. The result is always a concatenation of exact document
// substrings joined by Separator, never longer than MaxOutputChars.
func Extract(query, document string, opts Options) string {
	opts = opts.withDefaults()
	if document == "" {
		return ""
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		return prefix(document, opts.MaxOutputChars)
	}

	lowered := foldASCII(document)
	var windows []window
	half := opts.WindowChars / 2
	for _, term := range terms {
		for _, hit := range scan(lowered, term) {
			w := window{start: hit - half, end: hit + len(term) + half}
			if w.start < 0 {
				w.start = 0
			}
			if w.end > len(document) {
				w.end = len(document)
			}
			// Window edges are byte offsets and can land inside a
			// multi-byte rune; pull them back to rune boundaries.
			w.start = alignRuneStart(document, w.start)
			w.end = alignRuneStart(document, w.end)
			windows = append(windows, w)
		}
	}
	if len(windows) == 0 {
		return prefix(document, opts.MaxOutputChars)
	}

	merged := merge(windows)

	var b strings.Builder
	for _, w := range merged {
		seg := truncate(document[w.start:w.end], opts.WindowChars)
		sep := ""
		if b.Len() > 0 {
			sep = Separator
		}
		remaining := opts.MaxOutputChars - b.Len() - len(sep)
		if remaining <= 0 {
			break
		}
		seg = truncate(seg, remaining)
		b.WriteString(sep)
		b.WriteString(seg)
		if b.Len() >= opts.MaxOutputChars {
			break
		}
	}
	return b.String()
}

// queryTerms tokenizes the query into distinct, case-folded word-like terms
// of at least minTermLen characters, capped at maxTerms to bound the scan
// cost on pathological queries.
func queryTerms(query string) []string {
	folded := foldASCII(query)
	var terms []string
	seen := make(map[string]struct{})
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		term := folded[start:end]
		start = -1
		if len(term) < minTermLen {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	for i := 0; i < len(folded); i++ {
		if isWordByte(folded[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		if len(terms) >= maxTerms {
			return terms
		}
	}
	flush(len(folded))
	if len(terms) > maxTerms {
		terms = terms[:maxTerms]
	}
	return terms
}

// scan returns the offsets of every non-overlapping occurrence of term.
func scan(lowered, term string) []int {
	var hits []int
	from := 0
	for {
		i := strings.Index(lowered[from:], term)
		if i < 0 {
			return hits
		}
		hits = append(hits, from+i)
		from += i + len(term)
	}
}

// merge sorts windows by start offset and joins any pair closer than
// mergeGap. Overlapping windows from different terms collapse into one.
func merge(windows []window) []window {
	sort.Slice(windows, func(i, j int) bool {
		if windows[i].start != windows[j].start {
			return windows[i].start < windows[j].start
		}
		return windows[i].end < windows[j].end
	})
	merged := windows[:1]
	for _, w := range windows[1:] {
		last := &merged[len(merged)-1]
		if w.start-last.end <= mergeGap {
			if w.end > last.end {
				last.end = w.end
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}

func prefix(document string, max int) string {
	return truncate(document, max)
}

// truncate caps s at max bytes, backing the cut up to a rune boundary so
// the result stays valid UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// alignRuneStart moves i back to the start of the rune it falls inside.
func alignRuneStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// foldASCII lowercases ASCII letters only, keeping byte offsets stable.
// Locale-sensitive folding would shift offsets for multi-byte runes.
func foldASCII(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if b == nil {
				b = []byte(s)
			}
			b[i] = c + ('a' - 'A')
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}
