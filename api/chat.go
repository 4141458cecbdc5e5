package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

// Converser answers a user message, running tool rounds as needed.
type Converser interface {
	Converse(ctx context.Context, message string) (string, error)
}

// ChatHandler serves the conversation endpoint.
type ChatHandler struct {
	conv   Converser
	logger log.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(conv Converser, logger log.Logger) *ChatHandler {
	return &ChatHandler{conv: conv, logger: logger.With("handler", "chat")}
}

// RegisterRoutes registers the chat endpoint on mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.Chat)
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

// Chat runs one conversation turn.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	answer, err := h.conv.Converse(r.Context(), req.Message)
	if err != nil {
		h.logger.Error("conversation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "conversation failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: answer})
}
