package rag

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/quillvault/quill/internal/log"
	"github.com/quillvault/quill/internal/store"
)

type fakeSearchStore struct {
	searchHits []store.ChunkHit
	searchErr  error

	scanRows []store.ChunkHit
	scanErr  error

	searchCalls int
	scanCalls   int
}

func (f *fakeSearchStore) Search(ctx context.Context, vaultID uuid.UUID, embedding []float32, topK int, threshold float64) ([]store.ChunkHit, error) {
	f.searchCalls++
	return f.searchHits, f.searchErr
}

func (f *fakeSearchStore) ScanEmbeddings(ctx context.Context, vaultID uuid.UUID, limit int) ([]store.ChunkHit, error) {
	f.scanCalls++
	return f.scanRows, f.scanErr
}

func hitWithEmbedding(content string, embedding []float32) store.ChunkHit {
	return store.ChunkHit{ChunkRecord: store.ChunkRecord{
		ID:        uuid.New(),
		SourceID:  uuid.New(),
		Content:   content,
		Embedding: embedding,
	}}
}

func TestRetrieveUsesPrimarySearch(t *testing.T) {
	searchStore := &fakeSearchStore{
		searchHits: []store.ChunkHit{hitWithEmbedding("from pgvector", nil)},
	}
	r := NewRetriever(&fakeEmbedder{}, searchStore, 200, log.NewNop())

	hits, err := r.Retrieve(context.Background(), uuid.New(), "query", 5, 0.35)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != "from pgvector" {
		t.Errorf("hits = %+v", hits)
	}
	if searchStore.scanCalls != 0 {
		t.Errorf("fallback ran %d times, primary succeeded", searchStore.scanCalls)
	}
}

func TestRetrieveEmptyResultIsNotAFallbackTrigger(t *testing.T) {
	searchStore := &fakeSearchStore{searchHits: []store.ChunkHit{}}
	r := NewRetriever(&fakeEmbedder{}, searchStore, 200, log.NewNop())

	hits, err := r.Retrieve(context.Background(), uuid.New(), "query", 5, 0.35)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want none", hits)
	}
	if searchStore.scanCalls != 0 {
		t.Error("an empty result set must pass through, not trigger the fallback")
	}
}

func TestRetrieveFallsBackOnSearchError(t *testing.T) {
	searchStore := &fakeSearchStore{
		searchErr: errors.New("operator does not exist: vector <=> vector"),
		scanRows: []store.ChunkHit{
			hitWithEmbedding("close match", []float32{1, 0, 0}),
			hitWithEmbedding("far match", []float32{0, 1, 0}),
			hitWithEmbedding("middling match", []float32{1, 1, 0}),
		},
	}
	// fakeEmbedder returns {1,0,0} for every text.
	r := NewRetriever(&fakeEmbedder{}, searchStore, 200, log.NewNop())

	hits, err := r.Retrieve(context.Background(), uuid.New(), "query", 5, 0.35)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if searchStore.scanCalls != 1 {
		t.Fatalf("fallback ran %d times, want 1", searchStore.scanCalls)
	}

	// cos({1,0,0},{1,0,0}) = 1, cos with {1,1,0} ≈ 0.707, {0,1,0} = 0.
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 above threshold", len(hits))
	}
	if hits[0].Content != "close match" || hits[1].Content != "middling match" {
		t.Errorf("order = %q, %q", hits[0].Content, hits[1].Content)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("hits must be ordered by similarity descending")
	}
}

func TestRetrieveFallbackHonorsTopK(t *testing.T) {
	rows := make([]store.ChunkHit, 10)
	for i := range rows {
		rows[i] = hitWithEmbedding("row", []float32{1, 0, 0})
	}
	searchStore := &fakeSearchStore{searchErr: errors.New("down"), scanRows: rows}
	r := NewRetriever(&fakeEmbedder{}, searchStore, 200, log.NewNop())

	hits, err := r.Retrieve(context.Background(), uuid.New(), "query", 3, 0.1)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(hits) != 3 {
		t.Errorf("got %d hits, want topK=3", len(hits))
	}
}

func TestRetrieveFallbackScanErrorSurfaces(t *testing.T) {
	searchStore := &fakeSearchStore{
		searchErr: errors.New("primary down"),
		scanErr:   errors.New("scan down too"),
	}
	r := NewRetriever(&fakeEmbedder{}, searchStore, 200, log.NewNop())

	if _, err := r.Retrieve(context.Background(), uuid.New(), "query", 5, 0.35); err == nil {
		t.Fatal("expected error when both paths fail")
	}
}

func TestRetrieveEmbeddingErrorSurfaces(t *testing.T) {
	embedder := &fakeEmbedder{failCalls: map[int]error{1: errors.New("quota")}}
	searchStore := &fakeSearchStore{}
	r := NewRetriever(embedder, searchStore, 200, log.NewNop())

	if _, err := r.Retrieve(context.Background(), uuid.New(), "query", 5, 0.35); err == nil {
		t.Fatal("expected error when the query cannot be embedded")
	}
	if searchStore.searchCalls != 0 {
		t.Error("search must not run without a query embedding")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 0}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
