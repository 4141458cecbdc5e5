package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()

	registry, err := tools.NewRegistry(tools.Definition{
		Name:        "echo",
		Description: "Echoes a message back.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"message": {Type: "string"},
			},
			Required: []string{"message"},
		},
		Handler: func(ctx context.Context, params map[string]any) (any, error) {
			msg := params["message"].(string)
			if msg == "boom" {
				return nil, errors.New("echo exploded")
			}
			return map[string]any{"echoed": msg}, nil
		},
	})
	require.NoError(t, err)
	return registry
}

func newToolsHandler(t *testing.T) *ToolsHandler {
	t.Helper()
	registry := newTestRegistry(t)
	router := tools.NewRouter(registry, log.NewNop())
	return NewToolsHandler(router, registry, log.NewNop())
}

func postInvoke(t *testing.T, h *ToolsHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/tools/invoke", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.Invoke(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestToolsHandler_Invoke(t *testing.T) {
	t.Parallel()

	t.Run("success envelope", func(t *testing.T) {
		t.Parallel()

		h := newToolsHandler(t)
		w := postInvoke(t, h, `{"tool_name":"echo","parameters":{"message":"hi"}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "echo", body["tool_name"])

		payload, ok := body["result"].(string)
		require.True(t, ok, "result must be a JSON string")
		var inner map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &inner))
		assert.Equal(t, "hi", inner["echoed"])
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		h := newToolsHandler(t)
		w := postInvoke(t, h, "not json")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "invalid request body", body["error"])
	})

	t.Run("unknown tool lists available tools", func(t *testing.T) {
		t.Parallel()

		h := newToolsHandler(t)
		w := postInvoke(t, h, `{"tool_name":"nope","parameters":{}}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Contains(t, body["error"], "unknown tool")
		avail, ok := body["available_tools"].([]any)
		require.True(t, ok)
		assert.Contains(t, avail, "echo")
	})

	t.Run("missing required field", func(t *testing.T) {
		t.Parallel()

		h := newToolsHandler(t)
		w := postInvoke(t, h, `{"tool_name":"echo","parameters":{}}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "missing field: message", body["error"])
		assert.NotContains(t, body, "available_tools")
	})

	t.Run("handler failure", func(t *testing.T) {
		t.Parallel()

		h := newToolsHandler(t)
		w := postInvoke(t, h, `{"tool_name":"echo","parameters":{"message":"boom"}}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "echo exploded", body["error"])
		assert.Equal(t, "echo", body["tool_name"])
	})
}

func TestToolsHandler_List(t *testing.T) {
	t.Parallel()

	h := newToolsHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	avail, ok := body["available_tools"].([]any)
	require.True(t, ok)
	require.Len(t, avail, 1)
	entry := avail[0].(map[string]any)
	assert.Equal(t, "echo", entry["name"])
	assert.Equal(t, "Echoes a message back.", entry["description"])
}

func TestToolsHandler_Routes(t *testing.T) {
	t.Parallel()

	h := newToolsHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/tools/invoke",
		bytes.NewReader([]byte(`{"tool_name":"echo","parameters":{"message":"routed"}}`)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tools/invoke", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
