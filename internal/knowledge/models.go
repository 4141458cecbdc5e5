package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Document lifecycle states. A document moves uploaded → extracted → chunked
// → embedded; failed is reachable from anywhere. Only embedded documents are
// visible to retrieval.
const (
	StatusUploaded  = "uploaded"
	StatusSplitting = "splitting"
	StatusExtracted = "extracted"
	StatusChunked   = "chunked"
	StatusEmbedded  = "embedded"
	StatusFailed    = "failed"
)

// Document is an ingested source document and its pipeline state.
//
// Generation is the active chunk generation served to retrieval.
// PendingGeneration is nonzero while an ingestion run writes a replacement
// generation; LastChunkIndex is that run's checkpoint (-1 before the first
// batch completes). Promote atomically flips Generation to the pending one.
type Document struct {
	ID                uuid.UUID
	Source            string
	MimeType          string
	Status            string
	ExtractionMethod  string
	PageCount         int
	Generation        int64
	PendingGeneration int64
	LastChunkIndex    int
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SearchResult is one retrieval hit. Similarity is 1 − cosine distance,
// clamped to [0, 1].
type SearchResult struct {
	DocumentID    uuid.UUID
	Source        string
	SequenceIndex int
	Content       string
	Similarity    float64
}
