// Package retrieval embeds a query and returns the nearest knowledge chunks,
// formatted for injection into model context.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// Embedder produces the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher serves nearest-neighbor queries over embedded chunks.
type Searcher interface {
	QueryNearest(ctx context.Context, embedding []float32, topK int) ([]knowledge.SearchResult, error)
}

// Service wires query embedding to vector search.
type Service struct {
	embedder Embedder
	searcher Searcher
	topK     int
	logger   log.Logger
}

// New creates a retrieval Service with a default topK for callers that pass
// topK <= 0.
func New(embedder Embedder, searcher Searcher, defaultTopK int, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		embedder: embedder,
		searcher: searcher,
		topK:     defaultTopK,
		logger:   logger.With("component", "retrieval"),
	}
}

// Retrieve returns up to topK chunks most similar to query, best first.
// Embedding failures propagate; there is no degraded text-match fallback.
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]knowledge.SearchResult, error) {
	if topK <= 0 {
		topK = s.topK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := s.searcher.QueryNearest(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	s.logger.Debug("retrieved chunks", "query_length", len(query), "results", len(results))
	return results, nil
}

// FormatContext renders results as model-facing context blocks, one block
// per result separated by a blank line. Empty results render as an empty
// string.
func FormatContext(results []knowledge.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Source: %s (Similarity: %.4f)]\n%s", r.Source, r.Similarity, r.Content)
	}
	return strings.Join(blocks, "\n\n")
}
