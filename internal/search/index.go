// Package search ranks the paragraphs of a tenant's business context against
// an inbound email so only the relevant facts reach the AI prompt. The index
// is immutable after construction and safe for concurrent use.
//
// Scoring uses Jaccard similarity between the query token set and each
// paragraph's token set: score = |Q ∩ P| / |Q ∪ P|. Ties prefer shorter
// paragraphs, then lexical order, so results are deterministic.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// Result is a ranked paragraph with its similarity score.
type Result struct {
	Snippet string
	Score   float64
}

// Index ranks stored paragraphs against a query.
type Index interface {
	TopK(query string, k int) []Result
	Len() int
}

// Option customizes index construction.
type Option func(*config)

type config struct {
	minParagraphRunes int
	stopwords         map[string]struct{}
	maxDocs           int
}

// Mail is full of greetings and filler that would otherwise dominate the
// overlap with short context paragraphs.
var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "can", "do", "for",
	"from", "have", "hello", "hi", "i", "if", "in", "is", "it", "me", "my", "of",
	"on", "or", "please", "regards", "thanks", "thank", "that", "the", "this",
	"to", "we", "will", "with", "you", "your",
}

func defaultConfig() config {
	c := config{minParagraphRunes: 20}
	WithStopwords(defaultStopwords)(&c)
	return c
}

// WithMinParagraphRunes drops paragraphs shorter than n runes (n >= 0).
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithStopwords replaces the stop-word list. An empty list disables it.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) == 0 {
			m = nil
		}
		c.stopwords = m
	}
}

// WithMaxDocs caps the number of indexed paragraphs (n > 0).
func WithMaxDocs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxDocs = n
		}
	}
}

type doc struct {
	text   string
	tokens map[string]struct{}
	runes  int
}

type index struct {
	cfg  config
	docs []doc
}

// NewIndex builds an index over the paragraphs of text. Markdown tables are
// flattened to one fact per row first.
func NewIndex(text string, opts ...Option) Index {
	return NewIndexFromParagraphs(SplitParagraphs(FlattenMarkdown(text)), opts...)
}

// NewIndexFromParagraphs builds an index directly from paragraphs.
func NewIndexFromParagraphs(paragraphs []string, opts ...Option) Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	docs := make([]doc, 0, len(paragraphs))
	for _, raw := range paragraphs {
		t := strings.TrimSpace(normalizeWhitespace(raw))
		n := utf8.RuneCountInString(t)
		if t == "" || n < cfg.minParagraphRunes {
			continue
		}
		toks := tokenize(t, cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		docs = append(docs, doc{text: t, tokens: toks, runes: n})
		if cfg.maxDocs > 0 && len(docs) >= cfg.maxDocs {
			break
		}
	}
	return &index{cfg: cfg, docs: docs}
}

func (i *index) Len() int { return len(i.docs) }

// TopK returns up to k paragraphs sharing at least one token with q, best
// first. k <= 0 means 3.
func (i *index) TopK(q string, k int) []Result {
	if len(i.docs) == 0 {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}

	type scored struct {
		doc   *doc
		score float64
	}
	buf := make([]scored, 0, len(i.docs))
	for n := range i.docs {
		d := &i.docs[n]
		over := overlap(qTokens, d.tokens)
		if over == 0 {
			continue
		}
		union := float64(len(qTokens) + len(d.tokens) - over)
		buf = append(buf, scored{doc: d, score: float64(over) / union})
	}
	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].doc.runes != buf[b].doc.runes {
			return buf[a].doc.runes < buf[b].doc.runes
		}
		return buf[a].doc.text < buf[b].doc.text
	})

	out := make([]Result, 0, min(k, len(buf)))
	for _, s := range buf[:min(k, len(buf))] {
		out = append(out, Result{Snippet: s.doc.text, Score: s.score})
	}
	return out
}

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(s), -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, skip := stop[w]; skip {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
