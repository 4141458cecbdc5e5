// Package chunker splits extracted document text into fixed-size word
// windows for embedding. Chunk boundaries are word-aligned so a chunk never
// ends mid-word, and an optional overlap carries trailing context into the
// next chunk.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrInvalidInput indicates chunk size or overlap out of range.
var ErrInvalidInput = errors.New("invalid chunker input")

// Chunker produces word-aligned text chunks with a sliding window.
type Chunker struct {
	words   int
	overlap int
}

// New creates a Chunker emitting chunks of at most words words, with overlap
// words repeated between consecutive chunks. overlap must be smaller than
// words or the window would never advance.
func New(words, overlap int) (*Chunker, error) {
	if words <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidInput, words)
	}
	if overlap < 0 || overlap >= words {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidInput, overlap, words)
	}
	return &Chunker{words: words, overlap: overlap}, nil
}

// Split returns all chunks of text in order. Whitespace-only text yields no
// chunks; text shorter than the window yields a single chunk.
func (c *Chunker) Split(text string) []string {
	var chunks []string
	for chunk := range c.All(text) {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// All returns an iterator over the chunks of text. The iterator is
// restartable: ranging over it again replays the same sequence from the
// start. Chunk text is rejoined with single spaces, so runs of whitespace in
// the input collapse.
func (c *Chunker) All(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		words := strings.Fields(text)
		step := c.words - c.overlap
		for start := 0; start < len(words); start += step {
			end := min(start+c.words, len(words))
			if !yield(strings.Join(words[start:end], " ")) {
				return
			}
			if end == len(words) {
				return
			}
		}
	}
}
