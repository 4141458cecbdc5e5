package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/chunker"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/extract"
	"github.com/ellttdave/athlete-performance-platform-showcase/internal/knowledge"
)

type fakeExtractor struct {
	text      string
	err       error
	oversized bool
}

func (f *fakeExtractor) Extract(context.Context, []byte, string) (*extract.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &extract.Result{Text: f.text, Method: extract.MethodPlainText}, nil
}

func (f *fakeExtractor) Oversized([]byte, string) bool { return f.oversized }

type fakeEmbedder struct {
	batches [][]string
	failAt  int // fail on the Nth call (1-based), 0 = never
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches = append(f.batches, texts)
	if f.failAt > 0 && len(f.batches) == f.failAt {
		return nil, errors.New("embedding service: quota exceeded")
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i)}
	}
	return vecs, nil
}

// memStore keeps document and chunk state in memory with the same
// generation semantics as the real store.
type memStore struct {
	doc      knowledge.Document
	chunks   map[int64]map[int]string // generation -> sequence index -> content
	statuses []string
	// visibleAt records, for each status write, how many chunks
	// retrieval would serve at that moment.
	visibleAt []int
}

func newMemStore(id uuid.UUID, mime string) *memStore {
	return &memStore{
		doc: knowledge.Document{
			ID: id, MimeType: mime,
			Status: knowledge.StatusUploaded, LastChunkIndex: -1,
		},
		chunks: map[int64]map[int]string{},
	}
}

func (m *memStore) Document(_ context.Context, id uuid.UUID) (*knowledge.Document, error) {
	if id != m.doc.ID {
		return nil, knowledge.ErrNotFound
	}
	d := m.doc
	return &d, nil
}

func (m *memStore) SetStatus(_ context.Context, _ uuid.UUID, status string) error {
	m.doc.Status = status
	m.statuses = append(m.statuses, status)
	m.visibleAt = append(m.visibleAt, m.visible())
	return nil
}

// visible counts the chunks retrieval serves: the promoted generation
// only, regardless of the document's lifecycle status.
func (m *memStore) visible() int {
	if m.doc.Generation == 0 {
		return 0
	}
	return len(m.chunks[m.doc.Generation])
}

func (m *memStore) SetExtraction(_ context.Context, _ uuid.UUID, method string, pages int) error {
	m.doc.ExtractionMethod = method
	m.doc.PageCount = pages
	return m.SetStatus(context.Background(), m.doc.ID, knowledge.StatusExtracted)
}

func (m *memStore) MarkFailed(_ context.Context, _ uuid.UUID, reason string) error {
	m.doc.FailureReason = reason
	return m.SetStatus(context.Background(), m.doc.ID, knowledge.StatusFailed)
}

func (m *memStore) BeginGeneration(context.Context, uuid.UUID) (int64, error) {
	gen := max(m.doc.Generation, m.doc.PendingGeneration) + 1
	m.doc.PendingGeneration = gen
	m.doc.LastChunkIndex = -1
	return gen, nil
}

func (m *memStore) Checkpoint(_ context.Context, _ uuid.UUID, gen int64, last int) error {
	m.doc.PendingGeneration = gen
	m.doc.LastChunkIndex = last
	return nil
}

func (m *memStore) InsertChunks(_ context.Context, _ uuid.UUID, gen int64, start int, contents []string, embeddings [][]float32) error {
	if len(contents) != len(embeddings) {
		return fmt.Errorf("%d contents, %d embeddings", len(contents), len(embeddings))
	}
	if m.chunks[gen] == nil {
		m.chunks[gen] = map[int]string{}
	}
	for i, c := range contents {
		m.chunks[gen][start+i] = c
	}
	return nil
}

func (m *memStore) Promote(_ context.Context, _ uuid.UUID, gen int64) error {
	for g := range m.chunks {
		if g != gen {
			delete(m.chunks, g)
		}
	}
	m.doc.Generation = gen
	m.doc.PendingGeneration = 0
	m.doc.LastChunkIndex = -1
	return m.SetStatus(context.Background(), m.doc.ID, knowledge.StatusEmbedded)
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func newPipeline(t *testing.T, ex *fakeExtractor, em *fakeEmbedder, st *memStore, batch int, budget time.Duration) *Pipeline {
	t.Helper()
	ch, err := chunker.New(1, 0) // one word per chunk
	if err != nil {
		t.Fatal(err)
	}
	return New(ex, ch, em, st, batch, budget, nil)
}

func TestRun_CompleteIngestion(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "text/plain")
	embedder := &fakeEmbedder{}
	p := newPipeline(t, &fakeExtractor{text: words(12)}, embedder, store, 5, time.Hour)

	res, err := p.Run(context.Background(), id, []byte("ignored"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Partial || res.Status != knowledge.StatusEmbedded {
		t.Errorf("result = %+v", res)
	}
	if res.ChunksTotal != 12 || res.ChunksPersisted != 12 {
		t.Errorf("chunk counts = %+v", res)
	}
	if len(embedder.batches) != 3 { // 5 + 5 + 2
		t.Errorf("embed batches = %d, want 3", len(embedder.batches))
	}
	if len(store.chunks[res.Generation]) != 12 {
		t.Errorf("persisted chunks = %d", len(store.chunks[res.Generation]))
	}
	wantStatuses := []string{
		knowledge.StatusExtracted, knowledge.StatusChunked, knowledge.StatusEmbedded,
	}
	if len(store.statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v", store.statuses)
	}
	for i, s := range wantStatuses {
		if store.statuses[i] != s {
			t.Errorf("status[%d] = %q, want %q", i, store.statuses[i], s)
		}
	}
}

func TestRun_BudgetCheckpointAndResume(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "text/plain")
	embedder := &fakeEmbedder{}

	// Zero budget: the first batch completes, then the run checkpoints.
	p := newPipeline(t, &fakeExtractor{text: words(12)}, embedder, store, 5, 0)
	res, err := p.Run(context.Background(), id, []byte("x"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Partial {
		t.Fatalf("result = %+v, want partial", res)
	}
	if res.ChunksPersisted != 5 || res.ChunksTotal != 12 {
		t.Errorf("partial counts = %+v", res)
	}
	if store.doc.LastChunkIndex != 4 || store.doc.PendingGeneration != res.Generation {
		t.Errorf("checkpoint = %+v", store.doc)
	}
	if store.doc.Status == knowledge.StatusEmbedded {
		t.Error("partial run must not promote")
	}

	// Retry with a real budget resumes from chunk 5, not from scratch.
	embedder.batches = nil
	p = newPipeline(t, &fakeExtractor{text: words(12)}, embedder, store, 5, time.Hour)
	res, err = p.Run(context.Background(), id, []byte("x"))
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if res.Partial || res.Status != knowledge.StatusEmbedded {
		t.Fatalf("resumed result = %+v", res)
	}
	for _, batch := range embedder.batches {
		for _, w := range batch {
			if w == "w0" || w == "w4" {
				t.Errorf("resumed run re-embedded chunk %q", w)
			}
		}
	}
	if len(store.chunks[res.Generation]) != 12 {
		t.Errorf("final chunks = %d, want 12", len(store.chunks[res.Generation]))
	}
	if store.chunks[res.Generation][0] != "w0" || store.chunks[res.Generation][11] != "w11" {
		t.Errorf("sequence ordering broken: %v", store.chunks[res.Generation])
	}
}

func TestRun_EmbeddingFailureKeepsCheckpoint(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "text/plain")
	p := newPipeline(t, &fakeExtractor{text: words(12)}, &fakeEmbedder{failAt: 2}, store, 5, time.Hour)

	_, err := p.Run(context.Background(), id, []byte("x"))
	if err == nil {
		t.Fatal("Run succeeded, want embedding error")
	}
	if store.doc.Status != knowledge.StatusFailed {
		t.Errorf("status = %q, want failed", store.doc.Status)
	}
	if store.doc.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
	// The first batch's checkpoint survives for a later retry.
	if store.doc.LastChunkIndex != 4 || store.doc.PendingGeneration == 0 {
		t.Errorf("checkpoint lost: %+v", store.doc)
	}
}

func TestRun_ExtractionFailure(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "application/pdf")
	p := newPipeline(t, &fakeExtractor{err: extract.ErrUnavailable}, &fakeEmbedder{}, store, 5, time.Hour)

	_, err := p.Run(context.Background(), id, []byte("x"))
	if !errors.Is(err, extract.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if store.doc.Status != knowledge.StatusFailed {
		t.Errorf("status = %q, want failed", store.doc.Status)
	}
}

func TestRun_EmptyDocument(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "text/plain")
	p := newPipeline(t, &fakeExtractor{text: "   "}, &fakeEmbedder{}, store, 5, time.Hour)

	res, err := p.Run(context.Background(), id, []byte("x"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ChunksTotal != 0 || res.Status != knowledge.StatusEmbedded {
		t.Errorf("result = %+v", res)
	}
}

func TestRun_OversizedMarksSplitting(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "application/pdf")
	p := newPipeline(t, &fakeExtractor{text: words(3), oversized: true}, &fakeEmbedder{}, store, 5, time.Hour)

	if _, err := p.Run(context.Background(), id, []byte("x")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.statuses[0] != knowledge.StatusSplitting {
		t.Errorf("statuses = %v, want splitting first", store.statuses)
	}
}

func TestRun_ReingestReplacesGeneration(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "text/plain")
	p := newPipeline(t, &fakeExtractor{text: words(3)}, &fakeEmbedder{}, store, 5, time.Hour)

	res1, err := p.Run(context.Background(), id, []byte("x"))
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res2, err := p.Run(context.Background(), id, []byte("x"))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res2.Generation <= res1.Generation {
		t.Errorf("generations = %d then %d, want increase", res1.Generation, res2.Generation)
	}
	if len(store.chunks) != 1 {
		t.Errorf("old generation not discarded: %v", store.chunks)
	}
}

func TestRun_ReingestKeepsOldGenerationServable(t *testing.T) {
	id := uuid.New()
	store := newMemStore(id, "text/plain")

	p := newPipeline(t, &fakeExtractor{text: words(4)}, &fakeEmbedder{}, store, 2, time.Hour)
	if _, err := p.Run(context.Background(), id, []byte("x")); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if store.visible() != 4 {
		t.Fatalf("visible after first run = %d, want 4", store.visible())
	}

	// A re-ingest that dies mid-embedding rewrites the status several
	// times before failing. None of those writes may take the promoted
	// chunks out of service.
	store.visibleAt = nil
	failing := newPipeline(t, &fakeExtractor{text: words(6)}, &fakeEmbedder{failAt: 2}, store, 2, time.Hour)
	if _, err := failing.Run(context.Background(), id, []byte("x")); err == nil {
		t.Fatal("failing Run succeeded")
	}
	for i, n := range store.visibleAt {
		if n != 4 {
			t.Errorf("visible chunks at %q = %d, want 4",
				store.statuses[len(store.statuses)-len(store.visibleAt)+i], n)
		}
	}
	if store.visible() != 4 {
		t.Errorf("visible after failed re-ingest = %d, want 4", store.visible())
	}

	// The retry completes and promotes. The served set swaps only at
	// that final write.
	store.visibleAt = nil
	retry := newPipeline(t, &fakeExtractor{text: words(6)}, &fakeEmbedder{}, store, 2, time.Hour)
	res, err := retry.Run(context.Background(), id, []byte("x"))
	if err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if res.Status != knowledge.StatusEmbedded {
		t.Fatalf("retry result = %+v", res)
	}
	last := len(store.visibleAt) - 1
	for _, n := range store.visibleAt[:last] {
		if n != 4 {
			t.Errorf("visible before promote = %d, want 4", n)
		}
	}
	if store.visibleAt[last] != 6 {
		t.Errorf("visible after promote = %d, want 6", store.visibleAt[last])
	}
}

func TestRun_UnknownDocument(t *testing.T) {
	store := newMemStore(uuid.New(), "text/plain")
	p := newPipeline(t, &fakeExtractor{text: "x"}, &fakeEmbedder{}, store, 5, time.Hour)

	if _, err := p.Run(context.Background(), uuid.New(), []byte("x")); !errors.Is(err, knowledge.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
