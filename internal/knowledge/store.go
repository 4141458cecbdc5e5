// Package knowledge persists documents and their embedded chunks in
// PostgreSQL with pgvector, and serves nearest-neighbor queries over them.
//
// Chunk replacement is generational: an ingestion run writes chunks under a
// pending generation while retrieval keeps reading the active one, and a
// single promoting transaction flips the document over. Retrieval visibility
// follows the promoted generation alone, so the status churn of a re-ingestion
// run, or its failure, never hides a chunk set that was promoted before.
//
// Store is safe for concurrent use by multiple goroutines.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

var (
	// ErrStore indicates a database-level failure.
	ErrStore = errors.New("knowledge store")

	// ErrInvalidTopK indicates a non-positive topK.
	ErrInvalidTopK = errors.New("topK must be positive")

	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")
)

// Store manages documents and chunk generations on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store. The pool is owned by the caller.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger.With("component", "knowledge")}
}

const documentColumns = `id, source, mime_type, status, extraction_method, page_count,
	generation, pending_generation, last_chunk_index, failure_reason, created_at, updated_at`

// CreateDocument registers a new document in the uploaded state.
func (s *Store) CreateDocument(ctx context.Context, source, mimeType string) (*Document, error) {
	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, source, mime_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+documentColumns,
		id, source, mimeType, StatusUploaded)

	doc, err := scanDocument(row)
	if err != nil {
		return nil, fmt.Errorf("%w: creating document: %v", ErrStore, err)
	}
	s.logger.Debug("created document", "id", doc.ID, "source", source)
	return doc, nil
}

// Document fetches a document by ID.
func (s *Store) Document(ctx context.Context, id uuid.UUID) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetching document: %v", ErrStore, err)
	}
	return doc, nil
}

// ListDocuments returns documents ordered newest first.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 || limit > 1000 {
		return nil, fmt.Errorf("%w: limit must be in [1, 1000], got %d", ErrStore, limit)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", ErrStore, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning document: %v", ErrStore, err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", ErrStore, err)
	}
	return docs, nil
}

// SetStatus transitions a document's lifecycle state.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	return s.exec(ctx, `
		UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
}

// SetExtraction records the extraction outcome on the document.
func (s *Store) SetExtraction(ctx context.Context, id uuid.UUID, method string, pageCount int) error {
	return s.exec(ctx, `
		UPDATE documents
		SET status = $2, extraction_method = $3, page_count = $4, updated_at = now()
		WHERE id = $1`,
		id, StatusExtracted, method, pageCount)
}

// MarkFailed moves a document to failed with a reason. A document that
// already has a promoted generation keeps it retrievable; only a document
// that never completed an ingestion has nothing to serve.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return s.exec(ctx, `
		UPDATE documents SET status = $2, failure_reason = $3, updated_at = now()
		WHERE id = $1`,
		id, StatusFailed, reason)
}

// BeginGeneration allocates a fresh pending generation for a full
// re-ingestion and resets the checkpoint. Chunks of abandoned pending
// generations are swept at promotion.
func (s *Store) BeginGeneration(ctx context.Context, id uuid.UUID) (int64, error) {
	var gen int64
	err := s.pool.QueryRow(ctx, `
		UPDATE documents
		SET pending_generation = GREATEST(generation, pending_generation) + 1,
		    last_chunk_index = -1,
		    failure_reason = '',
		    updated_at = now()
		WHERE id = $1
		RETURNING pending_generation`, id).Scan(&gen)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: beginning generation: %v", ErrStore, err)
	}
	return gen, nil
}

// Checkpoint records the last fully persisted chunk index for a pending
// generation, so an interrupted run can resume.
func (s *Store) Checkpoint(ctx context.Context, id uuid.UUID, gen int64, lastChunkIndex int) error {
	return s.exec(ctx, `
		UPDATE documents
		SET pending_generation = $2, last_chunk_index = $3, updated_at = now()
		WHERE id = $1`,
		id, gen, lastChunkIndex)
}

// InsertChunks persists one batch of embedded chunks under a pending
// generation. contents[i] gets sequence index startIndex+i and embedding
// embeddings[i]. The batch is atomic.
func (s *Store) InsertChunks(ctx context.Context, docID uuid.UUID, gen int64, startIndex int, contents []string, embeddings [][]float32) error {
	if len(contents) != len(embeddings) {
		return fmt.Errorf("%w: %d contents with %d embeddings", ErrStore, len(contents), len(embeddings))
	}
	if len(contents) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStore, err)
	}
	defer tx.Rollback(ctx)

	for i, content := range contents {
		_, err := tx.Exec(ctx, `
			INSERT INTO chunks (document_id, generation, sequence_index, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (document_id, generation, sequence_index) DO NOTHING`,
			docID, gen, startIndex+i, content, pgvector.NewVector(embeddings[i]))
		if err != nil {
			return fmt.Errorf("%w: inserting chunk %d: %v", ErrStore, startIndex+i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing chunk batch: %v", ErrStore, err)
	}
	return nil
}

// Promote makes gen the active generation: superseded and abandoned chunk
// rows are deleted and the document becomes embedded, all in one
// transaction. Retrieval switches from the old generation to the new one
// atomically.
func (s *Store) Promote(ctx context.Context, docID uuid.UUID, gen int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrStore, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM chunks WHERE document_id = $1 AND generation <> $2`,
		docID, gen); err != nil {
		return fmt.Errorf("%w: deleting superseded chunks: %v", ErrStore, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents
		SET generation = $2, pending_generation = 0, last_chunk_index = -1,
		    status = $3, failure_reason = '', updated_at = now()
		WHERE id = $1`,
		docID, gen, StatusEmbedded)
	if err != nil {
		return fmt.Errorf("%w: promoting generation: %v", ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, docID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing promotion: %v", ErrStore, err)
	}
	s.logger.Debug("promoted generation", "document_id", docID, "generation", gen)
	return nil
}

// QueryNearest returns the topK chunks closest to embedding by cosine
// distance. Only chunks at a document's promoted generation are visible.
// Visibility depends on the generation alone, not the lifecycle status: a
// re-ingestion run rewrites the status while it works, and the previously
// promoted chunk set must stay retrievable until Promote flips the
// generation. Ties are broken by insertion order. Fewer than topK rows is
// not an error.
func (s *Store) QueryNearest(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTopK, topK)
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT c.document_id, d.source, c.sequence_index, c.content,
		       c.embedding <=> $1 AS distance
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.generation = d.generation AND d.generation > 0
		ORDER BY c.embedding <=> $1 ASC, c.seq ASC
		LIMIT $2`,
		vec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: nearest query: %v", ErrStore, err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, topK)
	for rows.Next() {
		var r SearchResult
		var distance float64
		if err := rows.Scan(&r.DocumentID, &r.Source, &r.SequenceIndex, &r.Content, &distance); err != nil {
			return nil, fmt.Errorf("%w: scanning result: %v", ErrStore, err)
		}
		r.Similarity = clampSimilarity(1 - distance)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: nearest query: %v", ErrStore, err)
	}
	return results, nil
}

// ChunkCount returns how many chunks exist for a document at a generation.
func (s *Store) ChunkCount(ctx context.Context, docID uuid.UUID, gen int64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM chunks WHERE document_id = $1 AND generation = $2`,
		docID, gen).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrStore, err)
	}
	return n, nil
}

func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %v", ErrNotFound, args[0])
	}
	return nil
}

// clampSimilarity maps a cosine distance complement into [0, 1]. Float noise
// in pgvector can push 1 − distance marginally outside the range.
func clampSimilarity(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.Source, &d.MimeType, &d.Status, &d.ExtractionMethod,
		&d.PageCount, &d.Generation, &d.PendingGeneration, &d.LastChunkIndex,
		&d.FailureReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
