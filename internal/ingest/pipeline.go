// Package ingest drives a document through extraction, chunking, embedding
// and chunk persistence under a wall-clock budget.
//
// A run writes chunks under a pending store generation and promotes it only
// when every chunk is embedded, so retrieval sees either the previous chunk
// set or the complete new one. When the budget runs out mid-document the
// in-flight batch completes, a checkpoint is persisted and the run returns a
// partial result; a retry resumes from the checkpoint instead of
// re-embedding paid-for chunks.
//
// Runs for the same document must be serialized by the caller; the ingest
// command holds a file-based advisory lock per document.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/chunker"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/extract"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// Extractor converts document bytes to plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*extract.Result, error)
	Oversized(data []byte, mimeType string) bool
}

// Embedder embeds chunk batches, preserving input order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store is the knowledge-store surface the pipeline writes through.
type Store interface {
	Document(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	SetExtraction(ctx context.Context, id uuid.UUID, method string, pageCount int) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	BeginGeneration(ctx context.Context, id uuid.UUID) (int64, error)
	Checkpoint(ctx context.Context, id uuid.UUID, gen int64, lastChunkIndex int) error
	InsertChunks(ctx context.Context, docID uuid.UUID, gen int64, startIndex int, contents []string, embeddings [][]float32) error
	Promote(ctx context.Context, docID uuid.UUID, gen int64) error
}

// Result reports the outcome of one ingestion run.
type Result struct {
	DocumentID      uuid.UUID
	Status          string
	Partial         bool
	Generation      int64
	ChunksTotal     int
	ChunksPersisted int // cumulative across resumed runs
}

// Pipeline orchestrates one document ingestion at a time.
type Pipeline struct {
	extractor Extractor
	chunker   *chunker.Chunker
	embedder  Embedder
	store     Store
	batchSize int
	budget    time.Duration
	logger    log.Logger
}

// New creates a Pipeline. batchSize bounds chunks per embedding request;
// budget is the wall-clock limit per run.
func New(extractor Extractor, ch *chunker.Chunker, embedder Embedder, store Store, batchSize int, budget time.Duration, logger log.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = 16
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		extractor: extractor,
		chunker:   ch,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		budget:    budget,
		logger:    logger.With("component", "ingest"),
	}
}

// Run ingests data for an existing document. A document with a pending
// generation resumes from its checkpoint; otherwise a fresh generation is
// begun and any previously embedded chunk set is replaced wholesale on
// promotion.
func (p *Pipeline) Run(ctx context.Context, docID uuid.UUID, data []byte) (*Result, error) {
	start := time.Now()

	doc, err := p.store.Document(ctx, docID)
	if err != nil {
		return nil, err
	}

	gen := doc.PendingGeneration
	resumeFrom := 0
	if gen > 0 {
		resumeFrom = doc.LastChunkIndex + 1
		p.logger.Info("resuming ingestion", "document_id", docID, "generation", gen, "from_chunk", resumeFrom)
	} else {
		gen, err = p.store.BeginGeneration(ctx, docID)
		if err != nil {
			return nil, err
		}
	}

	if p.extractor.Oversized(data, doc.MimeType) {
		if err := p.store.SetStatus(ctx, docID, knowledge.StatusSplitting); err != nil {
			return nil, err
		}
	}

	extracted, err := p.extractor.Extract(ctx, data, doc.MimeType)
	if err != nil {
		return nil, p.fail(ctx, docID, fmt.Errorf("extracting document: %w", err))
	}
	if err := p.store.SetExtraction(ctx, docID, extracted.Method, extracted.PageCount); err != nil {
		return nil, err
	}

	chunks := p.chunker.Split(extracted.Text)
	if err := p.store.SetStatus(ctx, docID, knowledge.StatusChunked); err != nil {
		return nil, err
	}

	for batchStart := resumeFrom; batchStart < len(chunks); batchStart += p.batchSize {
		end := min(batchStart+p.batchSize, len(chunks))
		batch := chunks[batchStart:end]

		vecs, err := p.embedder.EmbedBatch(ctx, batch)
		if err != nil {
			// The checkpoint survives MarkFailed, so a retry resumes here.
			return nil, p.fail(ctx, docID, fmt.Errorf("embedding chunks %d-%d: %w", batchStart, end-1, err))
		}
		if err := p.store.InsertChunks(ctx, docID, gen, batchStart, batch, vecs); err != nil {
			return nil, p.fail(ctx, docID, err)
		}
		if err := p.store.Checkpoint(ctx, docID, gen, end-1); err != nil {
			return nil, err
		}

		if end < len(chunks) && time.Since(start) >= p.budget {
			p.logger.Info("ingestion budget reached, checkpointing",
				"document_id", docID, "persisted", end, "total", len(chunks))
			return &Result{
				DocumentID:      docID,
				Status:          knowledge.StatusChunked,
				Partial:         true,
				Generation:      gen,
				ChunksTotal:     len(chunks),
				ChunksPersisted: end,
			}, nil
		}
	}

	if err := p.store.Promote(ctx, docID, gen); err != nil {
		return nil, err
	}
	p.logger.Info("ingestion complete", "document_id", docID, "generation", gen, "chunks", len(chunks))
	return &Result{
		DocumentID:      docID,
		Status:          knowledge.StatusEmbedded,
		Generation:      gen,
		ChunksTotal:     len(chunks),
		ChunksPersisted: len(chunks),
	}, nil
}

// fail marks the document failed and returns the original error. Marking is
// best effort; a store failure here is logged, not returned.
func (p *Pipeline) fail(ctx context.Context, docID uuid.UUID, cause error) error {
	if err := p.store.MarkFailed(ctx, docID, cause.Error()); err != nil {
		p.logger.Error("marking document failed", "document_id", docID, "error", err)
	}
	return cause
}
