// Package embedding wraps the Gemini embedding API behind a small client
// with a fixed output dimension and request rate limiting.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// ErrEmbeddingService indicates a failed or malformed embedding response.
var ErrEmbeddingService = errors.New("embedding service")

// ContentEmbedder is the slice of the genai API the client depends on.
// Satisfied by genai.Client.Models.
type ContentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Client produces vector embeddings with a fixed dimension. The dimension is
// pinned for the lifetime of the vector store; changing it means re-embedding
// every stored chunk.
type Client struct {
	models    ContentEmbedder
	model     string
	dimension int
	limiter   *rate.Limiter
	logger    log.Logger
}

// New creates a Client. The genai surface is injected explicitly; nothing
// here reads the environment. ratePerSec bounds outgoing embedding requests,
// zero or negative disables the limit.
func New(models ContentEmbedder, model string, dimension, ratePerSec int, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &Client{
		models:    models,
		model:     model,
		dimension: dimension,
		limiter:   limiter,
		logger:    logger.With("component", "embedding"),
	}
}

// Dimension returns the fixed embedding dimension.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. The returned vectors are in input
// order, one per text.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", ErrEmbeddingService)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrEmbeddingService, err)
		}
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := int32(c.dimension)
	resp, err := c.models.EmbedContent(ctx, c.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingService, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrEmbeddingService, len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) != c.dimension {
			got := 0
			if emb != nil {
				got = len(emb.Values)
			}
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrEmbeddingService, i, got, c.dimension)
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}
