package graph

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxChunkSize = 8000
	DefaultOverlapSize  = 500

	paragraphSeparator = "\n\n"
	sentenceSeparator  = " "
)

// ErrInvalidChunkConfig rejects chunk settings that cannot make progress.
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// SplitText cuts text into chunks of at most maxChunkSize characters
// (Unicode code points). Paragraphs are packed first, oversized paragraphs
// are packed sentence by sentence and oversized sentences are cut into
// fixed windows. Every chunk after the first is prefixed with the last
// overlapSize characters of its predecessor, so no chunk exceeds
// maxChunkSize+overlapSize.
//
// Empty text yields a single empty chunk. overlapSize must lie in
// [0, maxChunkSize).
func SplitText(text string, maxChunkSize, overlapSize int) ([]string, error) {
	if err := ValidateChunkConfig(maxChunkSize, overlapSize); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(text) <= maxChunkSize {
		return []string{text}, nil
	}

	c := chunker{max: maxChunkSize, overlap: overlapSize}
	for _, paragraph := range strings.Split(text, "\n") {
		c.addParagraph(paragraph)
	}
	c.flush()

	return c.withOverlap(), nil
}

// ValidateChunkConfig reports ErrInvalidChunkConfig unless
// 0 <= overlapSize < maxChunkSize.
func ValidateChunkConfig(maxChunkSize, overlapSize int) error {
	if maxChunkSize <= 0 || overlapSize < 0 || overlapSize >= maxChunkSize {
		return fmt.Errorf("%w: max_chunk_size=%d overlap_size=%d", ErrInvalidChunkConfig, maxChunkSize, overlapSize)
	}
	return nil
}

type chunker struct {
	max     int
	overlap int

	chunks     []string
	current    strings.Builder
	currentLen int
}

func (c *chunker) flush() {
	if c.currentLen == 0 && c.current.Len() == 0 {
		return
	}
	c.chunks = append(c.chunks, c.current.String())
	c.current.Reset()
	c.currentLen = 0
}

func (c *chunker) start(s string, n int) {
	c.current.Reset()
	c.current.WriteString(s)
	c.currentLen = n
}

func (c *chunker) addParagraph(p string) {
	n := utf8.RuneCountInString(p)
	switch {
	case n > c.max:
		c.flush()
		rest, restLen := c.packSentences(p)
		c.start(rest, restLen)
	case c.currentLen+n+len(paragraphSeparator) <= c.max:
		if c.current.Len() > 0 {
			c.current.WriteString(paragraphSeparator)
			c.currentLen += len(paragraphSeparator)
		}
		c.current.WriteString(p)
		c.currentLen += n
	default:
		c.flush()
		c.start(p, n)
	}
}

// packSentences emits full chunks from an oversized paragraph and returns
// the unfinished tail, which later paragraphs may still join.
func (c *chunker) packSentences(p string) (string, int) {
	var temp strings.Builder
	tempLen := 0

	for _, s := range splitSentences(p) {
		n := utf8.RuneCountInString(s)
		if tempLen+n+len(sentenceSeparator) <= c.max {
			if temp.Len() > 0 {
				temp.WriteString(sentenceSeparator)
				tempLen += len(sentenceSeparator)
			}
			temp.WriteString(s)
			tempLen += n
			continue
		}

		if temp.Len() > 0 {
			c.chunks = append(c.chunks, temp.String())
			temp.Reset()
			tempLen = 0
		}
		if n > c.max {
			c.chunks = append(c.chunks, c.forceSplit(s)...)
			continue
		}
		temp.WriteString(s)
		tempLen = n
	}
	return temp.String(), tempLen
}

// forceSplit cuts s into windows of c.max runes advancing by c.max-c.overlap.
func (c *chunker) forceSplit(s string) []string {
	r := []rune(s)
	step := c.max - c.overlap
	var out []string
	for i := 0; i < len(r); i += step {
		end := min(i+c.max, len(r))
		out = append(out, string(r[i:end]))
		if end == len(r) {
			break
		}
	}
	return out
}

func (c *chunker) withOverlap() []string {
	if c.overlap == 0 || len(c.chunks) < 2 {
		return c.chunks
	}
	out := make([]string, len(c.chunks))
	out[0] = c.chunks[0]
	for i := 1; i < len(c.chunks); i++ {
		out[i] = tailRunes(c.chunks[i-1], c.overlap) + c.chunks[i]
	}
	return out
}

func tailRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// splitSentences splits on whitespace runs that follow '.', '!' or '?'.
// Empty pieces are dropped.
func splitSentences(p string) []string {
	var out []string
	start := 0
	var prev rune
	i := 0
	for i < len(p) {
		r, size := utf8.DecodeRuneInString(p[i:])
		if unicode.IsSpace(r) && (prev == '.' || prev == '!' || prev == '?') {
			if s := p[start:i]; s != "" {
				out = append(out, s)
			}
			j := i
			for j < len(p) {
				r2, size2 := utf8.DecodeRuneInString(p[j:])
				if !unicode.IsSpace(r2) {
					break
				}
				j += size2
			}
			i = j
			start = j
			prev = 0
			continue
		}
		prev = r
		i += size
	}
	if s := p[start:]; s != "" {
		out = append(out, s)
	}
	return out
}
