package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/quillvault/quill/internal/store"
)

// SearchStore is the slice of the chunk store the retriever needs: a
// delegated similarity search for the primary path and a bounded bulk
// read for the fallback.
type SearchStore interface {
	Search(ctx context.Context, vaultID uuid.UUID, embedding []float32, topK int, threshold float64) ([]store.ChunkHit, error)
	ScanEmbeddings(ctx context.Context, vaultID uuid.UUID, limit int) ([]store.ChunkHit, error)
}

// Retriever embeds queries and returns ranked, thresholded chunks.
type Retriever struct {
	embedder  Embedder
	store     SearchStore
	scanLimit int
	logger    *slog.Logger
}

// NewRetriever creates a retriever. scanLimit caps how many stored
// vectors the in-process fallback will ever load.
func NewRetriever(embedder Embedder, searchStore SearchStore, scanLimit int, logger *slog.Logger) *Retriever {
	if scanLimit <= 0 {
		scanLimit = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder:  embedder,
		store:     searchStore,
		scanLimit: scanLimit,
		logger:    logger,
	}
}

// Retrieve returns at most topK chunks with similarity >= threshold,
// ordered by similarity descending. The primary path delegates to the
// store's similarity search; only a genuine error there triggers the
// in-process fallback. A legitimately empty result set passes through
// unchanged.
func (r *Retriever) Retrieve(ctx context.Context, vaultID uuid.UUID, query string, topK int, threshold float64) ([]store.ChunkHit, error) {
	embedding, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := r.store.Search(ctx, vaultID, embedding, topK, threshold)
	if err == nil {
		return hits, nil
	}

	r.logger.Warn("primary similarity search failed, using in-process fallback",
		"vault_id", vaultID, "error", err)
	return r.fallback(ctx, vaultID, embedding, topK, threshold)
}

// fallback scans a bounded window of the vault's stored vectors and
// ranks them by cosine similarity in-process.
func (r *Retriever) fallback(ctx context.Context, vaultID uuid.UUID, embedding []float32, topK int, threshold float64) ([]store.ChunkHit, error) {
	rows, err := r.store.ScanEmbeddings(ctx, vaultID, r.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("fallback scan: %w", err)
	}

	hits := make([]store.ChunkHit, 0, len(rows))
	for _, row := range rows {
		row.Similarity = CosineSimilarity(embedding, row.Embedding)
		if row.Similarity >= threshold {
			hits = append(hits, row)
		}
	}

	// Stable sort keeps storage order on equal similarity.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// CosineSimilarity computes dot(a,b)/(‖a‖·‖b‖). It is 0 when either
// norm is 0 or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
