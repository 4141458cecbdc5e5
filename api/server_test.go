package api

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/tools"
)

type fakeRetriever struct {
	results []knowledge.SearchResult
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]knowledge.SearchResult, error) {
	return f.results, f.err
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry := newTestRegistry(t)
	return NewServer(
		&fakeConverser{answer: "ok"},
		tools.NewRouter(registry, log.NewNop()),
		registry,
		&fakeIngestor{},
		newFakeDocStore(),
		&fakeRetriever{},
		nil,
		log.NewNop(),
	)
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	handler := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"ready without pool", http.MethodGet, "/ready", "", http.StatusOK},
		{"tool discovery", http.MethodGet, "/api/tools", "", http.StatusOK},
		{"chat", http.MethodPost, "/api/chat", `{"message":"hi"}`, http.StatusOK},
		{"search empty query", http.MethodPost, "/api/search", `{"query":""}`, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/chat", "", http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestServer_RecoversPanic(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})
	handler := chain(mux, recoveryMiddleware, loggingMiddleware)

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "internal server error", body["error"])
}

func TestServer_RunShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, addr)
	}()

	// Wait for the server to accept connections before cancelling.
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)
	defer http.DefaultClient.CloseIdleConnections()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestSearchHandler(t *testing.T) {
	t.Parallel()

	retriever := &fakeRetriever{results: []knowledge.SearchResult{
		{Source: "plan.pdf", Content: "week one intervals", Similarity: 0.91},
	}}
	h := NewSearchHandler(retriever, log.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/search",
		strings.NewReader(`{"query":"intervals","top_k":3}`))
	w := httptest.NewRecorder()
	h.Search(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	results, ok := body["results"].([]any)
	require.True(t, ok)
	require.Len(t, results, 1)
	hit := results[0].(map[string]any)
	assert.Equal(t, "plan.pdf", hit["source"])
	assert.Equal(t, "week one intervals", hit["content"])
	assert.InDelta(t, 0.91, hit["similarity"], 1e-9)
}
