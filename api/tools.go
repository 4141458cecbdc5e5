package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

// maxBodyBytes caps request bodies. Document uploads carry base64 content and
// need headroom; everything else is small JSON.
const maxBodyBytes = 16 << 20

// ToolRouter validates and executes tool invocations.
type ToolRouter interface {
	Invoke(ctx context.Context, name string, params map[string]any) (*tools.Result, error)
}

// ToolLister enumerates registered tools for discovery.
type ToolLister interface {
	Definitions() []tools.Definition
}

// ToolsHandler serves tool invocation and discovery.
type ToolsHandler struct {
	router ToolRouter
	lister ToolLister
	logger log.Logger
}

// NewToolsHandler creates a tools handler.
func NewToolsHandler(router ToolRouter, lister ToolLister, logger log.Logger) *ToolsHandler {
	return &ToolsHandler{router: router, lister: lister, logger: logger.With("handler", "tools")}
}

// RegisterRoutes registers the tool endpoints on mux.
func (h *ToolsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tools/invoke", h.Invoke)
	mux.HandleFunc("GET /api/tools", h.List)
}

type invokeRequest struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type invokeResponse struct {
	Success  bool   `json:"success"`
	ToolName string `json:"tool_name"`
	Result   string `json:"result"`
}

// Invoke executes a single tool call. Validation failures map to 400,
// handler failures to 500, and the unknown-tool response carries the list
// of registered tools so callers can self-correct.
func (h *ToolsHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.router.Invoke(r.Context(), req.ToolName, req.Parameters)
	if err != nil {
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":           result.Err,
				"available_tools": result.AvailableTools,
			})
		case errors.Is(err, tools.ErrValidation):
			writeError(w, http.StatusBadRequest, result.Err)
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":     result.Err,
				"tool_name": result.ToolName,
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, invokeResponse{
		Success:  true,
		ToolName: result.ToolName,
		Result:   result.Payload,
	})
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List returns the registered tools.
func (h *ToolsHandler) List(w http.ResponseWriter, r *http.Request) {
	defs := h.lister.Definitions()
	summaries := make([]toolSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, toolSummary{Name: def.Name, Description: def.Description})
	}
	writeJSON(w, http.StatusOK, map[string]any{"available_tools": summaries})
}

// decodeJSON decodes a JSON request body, capped at maxBodyBytes.
func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	return json.NewDecoder(body).Decode(dst)
}
