// Package rag implements the retrieval-augmented-generation pipeline:
// the bounded-memory incremental indexer, the vector retriever with its
// in-process fallback, and the context/citation formatter.
package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quillvault/quill/internal/chunk"
	"github.com/quillvault/quill/internal/store"
	"github.com/quillvault/quill/internal/vault"
)

// ContentProvider is the read-only source of indexable items.
// Implementations return metadata fields only, never large payloads.
type ContentProvider interface {
	Sources(ctx context.Context, vaultID uuid.UUID) ([]vault.Source, error)
	Annotations(ctx context.Context, vaultID uuid.UUID) ([]vault.Annotation, error)
	Files(ctx context.Context, vaultID uuid.UUID) ([]vault.File, error)

	Source(ctx context.Context, id uuid.UUID) (vault.Source, error)
	Annotation(ctx context.Context, id uuid.UUID) (vault.Annotation, error)
	File(ctx context.Context, id uuid.UUID) (vault.File, error)
}

// Extractor produces best-effort plain text for an uploaded file.
type Extractor interface {
	Text(ctx context.Context, location, name string, size int64) (string, error)
}

// ChunkWriter is the slice of the chunk store the indexer needs.
type ChunkWriter interface {
	InsertBatch(ctx context.Context, records []store.ChunkRecord) error
	DeleteItem(ctx context.Context, vaultID uuid.UUID, sourceType string, sourceID uuid.UUID) error
	IndexedKeys(ctx context.Context, vaultID uuid.UUID) (map[store.ItemKey]struct{}, error)
}

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Stats reports the outcome of one indexing run. A partially failed run
// still reports accurate partial counts.
type Stats struct {
	IndexedSources     int `json:"indexed_sources"`
	IndexedAnnotations int `json:"indexed_annotations"`
	IndexedFiles       int `json:"indexed_files"`
	Skipped            int `json:"skipped"`
	TotalChunks        int `json:"total_chunks"`
}

// Indexer rebuilds a vault's chunk store incrementally. It is
// deliberately sequential per item: chunks accumulate in a pending
// buffer that is embedded and persisted one batch at a time, so peak
// memory stays capped at one batch regardless of corpus size.
type Indexer struct {
	provider  ContentProvider
	extractor Extractor
	chunks    ChunkWriter
	embedder  Embedder
	opts      chunk.Options
	batchSize int
	logger    *slog.Logger
}

// IndexerConfig wires the indexer's collaborators.
type IndexerConfig struct {
	Provider  ContentProvider
	Extractor Extractor
	Chunks    ChunkWriter
	Embedder  Embedder
	ChunkOpts chunk.Options
	BatchSize int
	Logger    *slog.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(cfg IndexerConfig) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Indexer{
		provider:  cfg.Provider,
		extractor: cfg.Extractor,
		chunks:    cfg.Chunks,
		embedder:  cfg.Embedder,
		opts:      cfg.ChunkOpts,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}
}

// pendingBatch buffers chunks until they are embedded and persisted.
type pendingBatch struct {
	vaultID uuid.UUID
	chunks  []chunk.Chunk
}

// IndexVault chunks and embeds every item in the vault that is not
// already indexed. Per-item failures are logged and skipped; the run
// never aborts on a single bad item.
func (ix *Indexer) IndexVault(ctx context.Context, vaultID uuid.UUID) (Stats, error) {
	var stats Stats

	indexed, err := ix.chunks.IndexedKeys(ctx, vaultID)
	if err != nil {
		return stats, fmt.Errorf("loading indexed keys: %w", err)
	}

	pending := &pendingBatch{vaultID: vaultID}

	sources, err := ix.provider.Sources(ctx, vaultID)
	if err != nil {
		return stats, fmt.Errorf("listing sources: %w", err)
	}
	for _, src := range sources {
		if _, ok := indexed[store.ItemKey{SourceType: vault.SourceTypeSource, SourceID: src.ID}]; ok {
			stats.Skipped++
			continue
		}
		if err := ix.add(ctx, pending, &stats, chunk.FromSource(src, ix.opts)); err != nil {
			ix.logger.Warn("indexing source failed", "source_id", src.ID, "error", err)
			continue
		}
		stats.IndexedSources++
	}

	annotations, err := ix.provider.Annotations(ctx, vaultID)
	if err != nil {
		return stats, fmt.Errorf("listing annotations: %w", err)
	}
	for _, a := range annotations {
		if _, ok := indexed[store.ItemKey{SourceType: vault.SourceTypeAnnotation, SourceID: a.ID}]; ok {
			stats.Skipped++
			continue
		}
		if err := ix.add(ctx, pending, &stats, chunk.FromAnnotation(a, ix.opts)); err != nil {
			ix.logger.Warn("indexing annotation failed", "annotation_id", a.ID, "error", err)
			continue
		}
		stats.IndexedAnnotations++
	}

	files, err := ix.provider.Files(ctx, vaultID)
	if err != nil {
		return stats, fmt.Errorf("listing files: %w", err)
	}
	for _, f := range files {
		if _, ok := indexed[store.ItemKey{SourceType: vault.SourceTypeFile, SourceID: f.ID}]; ok {
			stats.Skipped++
			continue
		}
		if err := ix.add(ctx, pending, &stats, ix.fileChunks(ctx, f)); err != nil {
			ix.logger.Warn("indexing file failed", "file_id", f.ID, "error", err)
			continue
		}
		stats.IndexedFiles++
	}

	if err := ix.flush(ctx, pending, &stats); err != nil {
		return stats, fmt.Errorf("flushing final batch: %w", err)
	}

	ix.logger.Info("vault indexed",
		"vault_id", vaultID,
		"sources", stats.IndexedSources,
		"annotations", stats.IndexedAnnotations,
		"files", stats.IndexedFiles,
		"skipped", stats.Skipped,
		"chunks", stats.TotalChunks,
	)
	return stats, nil
}

// fileChunks derives chunks for a file via best-effort extraction.
// Extraction degrades to a filename placeholder rather than failing.
func (ix *Indexer) fileChunks(ctx context.Context, f vault.File) []chunk.Chunk {
	text, err := ix.extractor.Text(ctx, f.Location, f.Name, f.Size)
	if err != nil {
		ix.logger.Debug("file extraction failed", "file_id", f.ID, "error", err)
		text = fmt.Sprintf("Uploaded file %q (%d bytes).", f.Name, f.Size)
	}
	return chunk.FromFile(f, text, ix.opts)
}

// add buffers an item's chunks and flushes full batches as they form.
func (ix *Indexer) add(ctx context.Context, pending *pendingBatch, stats *Stats, chunks []chunk.Chunk) error {
	pending.chunks = append(pending.chunks, chunks...)
	for len(pending.chunks) >= ix.batchSize {
		batch := pending.chunks[:ix.batchSize]
		// Drop the batch win or lose so the buffer never outgrows one
		// batch; a failed batch is this run's loss, not a crash.
		pending.chunks = pending.chunks[ix.batchSize:]
		if err := ix.persist(ctx, pending.vaultID, batch); err != nil {
			return err
		}
		stats.TotalChunks += len(batch)
	}
	return nil
}

// flush persists whatever remains in the pending buffer.
func (ix *Indexer) flush(ctx context.Context, pending *pendingBatch, stats *Stats) error {
	if len(pending.chunks) == 0 {
		return nil
	}
	if err := ix.persist(ctx, pending.vaultID, pending.chunks); err != nil {
		return err
	}
	stats.TotalChunks += len(pending.chunks)
	pending.chunks = nil
	return nil
}

// persist embeds one batch in a single provider call and writes it.
func (ix *Indexer) persist(ctx context.Context, vaultID uuid.UUID, chunks []chunk.Chunk) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding batch of %d: %w", len(chunks), err)
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, ch := range chunks {
		sourceID, err := uuid.Parse(ch.Metadata[chunk.MetaSourceID])
		if err != nil {
			return fmt.Errorf("chunk %d has invalid source id: %w", i, err)
		}
		records[i] = store.ChunkRecord{
			VaultID:    vaultID,
			SourceType: ch.Metadata[chunk.MetaSourceType],
			SourceID:   sourceID,
			ChunkIndex: ch.Index,
			Content:    ch.Content,
			Embedding:  vectors[i],
			Metadata:   ch.Metadata,
		}
	}

	return ix.chunks.InsertBatch(ctx, records)
}

// ReindexItem synchronously replaces the chunks of one content item:
// delete existing, recompute, embed, insert. Safe to run from a
// fire-and-forget job.
func (ix *Indexer) ReindexItem(ctx context.Context, sourceType string, sourceID, vaultID uuid.UUID) error {
	var chunks []chunk.Chunk
	switch sourceType {
	case vault.SourceTypeSource:
		src, err := ix.provider.Source(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("fetching source: %w", err)
		}
		chunks = chunk.FromSource(src, ix.opts)
	case vault.SourceTypeAnnotation:
		a, err := ix.provider.Annotation(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("fetching annotation: %w", err)
		}
		chunks = chunk.FromAnnotation(a, ix.opts)
	case vault.SourceTypeFile:
		f, err := ix.provider.File(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("fetching file: %w", err)
		}
		chunks = ix.fileChunks(ctx, f)
	default:
		return fmt.Errorf("unknown source type %q", sourceType)
	}

	if err := ix.chunks.DeleteItem(ctx, vaultID, sourceType, sourceID); err != nil {
		return fmt.Errorf("deleting stale chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	if err := ix.persist(ctx, vaultID, chunks); err != nil {
		return fmt.Errorf("reindexing %s/%s: %w", sourceType, sourceID, err)
	}

	ix.logger.Debug("reindexed item", "source_type", sourceType, "source_id", sourceID, "chunks", len(chunks))
	return nil
}
