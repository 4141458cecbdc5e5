package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// Retriever performs similarity search over the knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]knowledge.SearchResult, error)
}

// SearchHandler serves direct knowledge retrieval.
type SearchHandler struct {
	retriever Retriever
	logger    log.Logger
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(retriever Retriever, logger log.Logger) *SearchHandler {
	return &SearchHandler{retriever: retriever, logger: logger.With("handler", "search")}
}

// RegisterRoutes registers the search endpoint on mux.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/search", h.Search)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchHit struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Search embeds the query and returns the nearest chunks.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.retriever.Retrieve(r.Context(), req.Query, req.TopK)
	if err != nil {
		h.logger.Error("retrieval failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			DocumentID: res.DocumentID.String(),
			Source:     res.Source,
			Content:    res.Content,
			Similarity: res.Similarity,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}
