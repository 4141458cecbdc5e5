package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/ingest"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// Ingestor runs a document through the ingestion pipeline.
type Ingestor interface {
	Run(ctx context.Context, docID uuid.UUID, data []byte) (*ingest.Result, error)
}

// DocumentStore is the document surface the handler reads and creates through.
type DocumentStore interface {
	CreateDocument(ctx context.Context, source, mimeType string) (*knowledge.Document, error)
	Document(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]knowledge.Document, error)
	ChunkCount(ctx context.Context, docID uuid.UUID, generation int64) (int, error)
}

// DocumentsHandler serves document upload, ingestion and inspection.
type DocumentsHandler struct {
	ingestor Ingestor
	store    DocumentStore
	logger   log.Logger
}

// NewDocumentsHandler creates a documents handler.
func NewDocumentsHandler(ingestor Ingestor, store DocumentStore, logger log.Logger) *DocumentsHandler {
	return &DocumentsHandler{ingestor: ingestor, store: store, logger: logger.With("handler", "documents")}
}

// RegisterRoutes registers the document endpoints on mux.
func (h *DocumentsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents", h.Create)
	mux.HandleFunc("POST /api/documents/{id}/ingest", h.Ingest)
	mux.HandleFunc("GET /api/documents/{id}", h.Get)
	mux.HandleFunc("GET /api/documents", h.List)
}

type createDocumentRequest struct {
	Source   string `json:"source"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"` // base64
}

type ingestDocumentRequest struct {
	Content string `json:"content"` // base64
}

type ingestResult struct {
	DocumentID      string `json:"document_id"`
	Status          string `json:"status"`
	Partial         bool   `json:"partial"`
	Generation      int64  `json:"generation"`
	ChunksTotal     int    `json:"chunks_total"`
	ChunksPersisted int    `json:"chunks_persisted"`
}

type documentView struct {
	ID               string    `json:"id"`
	Source           string    `json:"source"`
	MimeType         string    `json:"mime_type"`
	Status           string    `json:"status"`
	ExtractionMethod string    `json:"extraction_method,omitempty"`
	PageCount        int       `json:"page_count,omitempty"`
	Generation       int64     `json:"generation"`
	ChunkCount       int       `json:"chunk_count"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func viewOf(doc *knowledge.Document) documentView {
	return documentView{
		ID:               doc.ID.String(),
		Source:           doc.Source,
		MimeType:         doc.MimeType,
		Status:           doc.Status,
		ExtractionMethod: doc.ExtractionMethod,
		PageCount:        doc.PageCount,
		Generation:       doc.Generation,
		FailureReason:    doc.FailureReason,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
}

// Create registers a document and ingests its content in one call.
func (h *DocumentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.MimeType == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "source, mime_type and content are required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content must be base64 encoded")
		return
	}

	doc, err := h.store.CreateDocument(r.Context(), req.Source, req.MimeType)
	if err != nil {
		h.logger.Error("creating document", "source", req.Source, "error", err)
		writeError(w, http.StatusInternalServerError, "creating document failed")
		return
	}

	result, err := h.ingestor.Run(r.Context(), doc.ID, data)
	if err != nil {
		h.logger.Error("ingestion failed", "document_id", doc.ID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":       "ingestion failed",
			"document_id": doc.ID.String(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, resultView(result))
}

// Ingest re-runs ingestion for an existing document. A document whose prior
// run stopped at its budget resumes from the checkpoint; otherwise the chunk
// set is replaced wholesale.
func (h *DocumentsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	var req ingestDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content must be base64 encoded")
		return
	}

	result, err := h.ingestor.Run(r.Context(), id, data)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("ingestion failed", "document_id", id, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":       "ingestion failed",
			"document_id": id.String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, resultView(result))
}

// Get returns document metadata, including the chunk count of the
// promoted generation.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := h.store.Document(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		h.logger.Error("loading document", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "loading document failed")
		return
	}

	view := viewOf(doc)
	if doc.Generation > 0 {
		n, err := h.store.ChunkCount(r.Context(), id, doc.Generation)
		if err != nil {
			h.logger.Error("counting chunks", "document_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "loading document failed")
			return
		}
		view.ChunkCount = n
	}
	writeJSON(w, http.StatusOK, view)
}

// List returns recent documents.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments(r.Context(), 100)
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "listing documents failed")
		return
	}

	views := make([]documentView, 0, len(docs))
	for i := range docs {
		views = append(views, viewOf(&docs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": views})
}

func resultView(res *ingest.Result) ingestResult {
	return ingestResult{
		DocumentID:      res.DocumentID.String(),
		Status:          res.Status,
		Partial:         res.Partial,
		Generation:      res.Generation,
		ChunksTotal:     res.ChunksTotal,
		ChunksPersisted: res.ChunksPersisted,
	}
}
