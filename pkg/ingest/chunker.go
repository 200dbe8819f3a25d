package ingest

import (
	"strings"
	"unicode/utf8"
)

// Chunk is a piece of page text ready for embedding
type Chunk struct {
	Text   string
	Page   int
	Source string
}

var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker splits text recursively on progressively finer separators until
// every piece fits in Size characters, then merges neighbours back together
// with Overlap characters of shared context.
type Chunker struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewChunker creates a chunker with the default separators
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1500
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{Size: size, Overlap: overlap, Separators: defaultSeparators}
}

// Split chunks every page, keeping the page number and source on each chunk
func (c *Chunker) Split(source string, pages []PageText) []Chunk {
	var chunks []Chunk
	for _, p := range pages {
		for _, text := range c.SplitText(p.Text) {
			chunks = append(chunks, Chunk{Text: text, Page: p.Page, Source: source})
		}
	}
	return chunks
}

// SplitText splits a single text
func (c *Chunker) SplitText(text string) []string {
	return c.split(text, c.Separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, good []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if runeLen(piece) < c.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good, sep)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, c.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good, sep)...)
	}
	return out
}

// merge joins small splits into chunks of at most Size runes, carrying up
// to Overlap runes from the end of one chunk into the next.
func (c *Chunker) merge(splits []string, sep string) []string {
	sepLen := runeLen(sep)
	var docs, current []string
	total := 0

	joinedLen := func(extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}

	for _, s := range splits {
		l := runeLen(s)
		if joinedLen(l) > c.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for total > c.Overlap || (joinedLen(l) > c.Size && total > 0) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, s)
		total += l
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
