package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/quillvault/quill/internal/chunk"
	"github.com/quillvault/quill/internal/log"
	"github.com/quillvault/quill/internal/store"
	"github.com/quillvault/quill/internal/vault"
)

type fakeProvider struct {
	sources     []vault.Source
	annotations []vault.Annotation
	files       []vault.File
}

func (f *fakeProvider) Sources(ctx context.Context, vaultID uuid.UUID) ([]vault.Source, error) {
	return f.sources, nil
}

func (f *fakeProvider) Annotations(ctx context.Context, vaultID uuid.UUID) ([]vault.Annotation, error) {
	return f.annotations, nil
}

func (f *fakeProvider) Files(ctx context.Context, vaultID uuid.UUID) ([]vault.File, error) {
	return f.files, nil
}

func (f *fakeProvider) Source(ctx context.Context, id uuid.UUID) (vault.Source, error) {
	for _, s := range f.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return vault.Source{}, store.ErrNotFound
}

func (f *fakeProvider) Annotation(ctx context.Context, id uuid.UUID) (vault.Annotation, error) {
	for _, a := range f.annotations {
		if a.ID == id {
			return a, nil
		}
	}
	return vault.Annotation{}, store.ErrNotFound
}

func (f *fakeProvider) File(ctx context.Context, id uuid.UUID) (vault.File, error) {
	for _, fl := range f.files {
		if fl.ID == id {
			return fl, nil
		}
	}
	return vault.File{}, store.ErrNotFound
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Text(ctx context.Context, location, name string, size int64) (string, error) {
	return f.text, f.err
}

type fakeChunkWriter struct {
	indexed  map[store.ItemKey]struct{}
	inserted [][]store.ChunkRecord
	deleted  []store.ItemKey
}

func (f *fakeChunkWriter) InsertBatch(ctx context.Context, records []store.ChunkRecord) error {
	batch := make([]store.ChunkRecord, len(records))
	copy(batch, records)
	f.inserted = append(f.inserted, batch)
	return nil
}

func (f *fakeChunkWriter) DeleteItem(ctx context.Context, vaultID uuid.UUID, sourceType string, sourceID uuid.UUID) error {
	f.deleted = append(f.deleted, store.ItemKey{SourceType: sourceType, SourceID: sourceID})
	return nil
}

func (f *fakeChunkWriter) IndexedKeys(ctx context.Context, vaultID uuid.UUID) (map[store.ItemKey]struct{}, error) {
	if f.indexed == nil {
		return map[store.ItemKey]struct{}{}, nil
	}
	return f.indexed, nil
}

type fakeEmbedder struct {
	batchSizes []int
	calls      int
	failCalls  map[int]error // 1-based call number -> error
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if err := f.failCalls[f.calls]; err != nil {
		return nil, err
	}
	f.batchSizes = append(f.batchSizes, len(texts))
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func testVaultContent() *fakeProvider {
	return &fakeProvider{
		sources: []vault.Source{
			{ID: uuid.New(), Title: "Paper A", Author: "alice", Notes: "Key findings on caching."},
			{ID: uuid.New(), Title: "Paper B", Author: "bob", Notes: "Replication strategies."},
		},
		annotations: []vault.Annotation{
			{ID: uuid.New(), SourceTitle: "Paper A", Author: "carol", Comment: "Compare with Paper B."},
		},
		files: []vault.File{
			{ID: uuid.New(), Name: "summary.txt", Size: 42, UploadedBy: "dave"},
		},
	}
}

func newTestIndexer(provider *fakeProvider, writer *fakeChunkWriter, embedder *fakeEmbedder, batchSize int) *Indexer {
	return NewIndexer(IndexerConfig{
		Provider:  provider,
		Extractor: &fakeExtractor{text: "Extracted file text."},
		Chunks:    writer,
		Embedder:  embedder,
		ChunkOpts: chunk.Options{Size: 1500, Overlap: 200},
		BatchSize: batchSize,
		Logger:    log.NewNop(),
	})
}

func TestIndexVaultIndexesAllContent(t *testing.T) {
	provider := testVaultContent()
	writer := &fakeChunkWriter{}
	embedder := &fakeEmbedder{}
	ix := newTestIndexer(provider, writer, embedder, 10)

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}

	if stats.IndexedSources != 2 || stats.IndexedAnnotations != 1 || stats.IndexedFiles != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Skipped != 0 {
		t.Errorf("skipped = %d, want 0", stats.Skipped)
	}
	if stats.TotalChunks != 4 {
		t.Errorf("total chunks = %d, want 4", stats.TotalChunks)
	}

	var persisted int
	for _, batch := range writer.inserted {
		persisted += len(batch)
	}
	if persisted != stats.TotalChunks {
		t.Errorf("persisted %d chunks, stats say %d", persisted, stats.TotalChunks)
	}
}

func TestIndexVaultSkipsAlreadyIndexed(t *testing.T) {
	provider := testVaultContent()
	writer := &fakeChunkWriter{
		indexed: map[store.ItemKey]struct{}{
			{SourceType: vault.SourceTypeSource, SourceID: provider.sources[0].ID}:        {},
			{SourceType: vault.SourceTypeAnnotation, SourceID: provider.annotations[0].ID}: {},
		},
	}
	embedder := &fakeEmbedder{}
	ix := newTestIndexer(provider, writer, embedder, 10)

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}

	if stats.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", stats.Skipped)
	}
	if stats.IndexedSources != 1 || stats.IndexedAnnotations != 0 || stats.IndexedFiles != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestIndexVaultCountsNewChunks(t *testing.T) {
	// Three sources, two already indexed, one new that splits into two
	// chunks at this window size.
	provider := &fakeProvider{
		sources: []vault.Source{
			{ID: uuid.New(), Title: "Paper A", Notes: "old"},
			{ID: uuid.New(), Title: "Paper B", Notes: "old"},
			{ID: uuid.New(), Title: "Paper C", Notes: strings.Repeat("x", 150)},
		},
	}
	writer := &fakeChunkWriter{
		indexed: map[store.ItemKey]struct{}{
			{SourceType: vault.SourceTypeSource, SourceID: provider.sources[0].ID}: {},
			{SourceType: vault.SourceTypeSource, SourceID: provider.sources[1].ID}: {},
		},
	}
	ix := NewIndexer(IndexerConfig{
		Provider:  provider,
		Extractor: &fakeExtractor{},
		Chunks:    writer,
		Embedder:  &fakeEmbedder{},
		ChunkOpts: chunk.Options{Size: 100, Overlap: 10},
		Logger:    log.NewNop(),
	})

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}
	if stats.TotalChunks != 2 || stats.IndexedSources != 1 || stats.Skipped != 2 {
		t.Errorf("stats = %+v, want 2 chunks / 1 source / 2 skipped", stats)
	}
}

func TestIndexVaultRerunIndexesNothing(t *testing.T) {
	provider := testVaultContent()
	indexed := map[store.ItemKey]struct{}{
		{SourceType: vault.SourceTypeSource, SourceID: provider.sources[0].ID}:        {},
		{SourceType: vault.SourceTypeSource, SourceID: provider.sources[1].ID}:        {},
		{SourceType: vault.SourceTypeAnnotation, SourceID: provider.annotations[0].ID}: {},
		{SourceType: vault.SourceTypeFile, SourceID: provider.files[0].ID}:            {},
	}
	writer := &fakeChunkWriter{indexed: indexed}
	embedder := &fakeEmbedder{}
	ix := newTestIndexer(provider, writer, embedder, 10)

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}

	if stats.Skipped != 4 || stats.TotalChunks != 0 {
		t.Errorf("stats = %+v, want everything skipped", stats)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder called %d times on a fully indexed vault", embedder.calls)
	}
	if len(writer.inserted) != 0 {
		t.Errorf("inserted %d batches on a fully indexed vault", len(writer.inserted))
	}
}

func TestIndexVaultFlushesInBoundedBatches(t *testing.T) {
	// Long notes force multiple chunks per source so the pending buffer
	// fills past the batch size mid-run.
	long := strings.Repeat("All caches are eventually inconsistent. ", 200)
	provider := &fakeProvider{
		sources: []vault.Source{
			{ID: uuid.New(), Title: "Paper A", Notes: long},
			{ID: uuid.New(), Title: "Paper B", Notes: long},
		},
	}
	writer := &fakeChunkWriter{}
	embedder := &fakeEmbedder{}
	ix := newTestIndexer(provider, writer, embedder, 3)

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}
	if stats.TotalChunks <= 3 {
		t.Fatalf("test needs more chunks than one batch, got %d", stats.TotalChunks)
	}

	for i, size := range embedder.batchSizes {
		if size > 3 {
			t.Errorf("embed call %d had batch size %d, cap is 3", i, size)
		}
	}
	if len(embedder.batchSizes) < 2 {
		t.Errorf("expected multiple embed batches, got %d", len(embedder.batchSizes))
	}
}

func TestIndexVaultToleratesPerItemFailure(t *testing.T) {
	provider := testVaultContent()
	writer := &fakeChunkWriter{}
	// First embed call fails; batch size 1 ties each call to one item.
	embedder := &fakeEmbedder{failCalls: map[int]error{1: errors.New("quota blip")}}
	ix := newTestIndexer(provider, writer, embedder, 1)

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault should tolerate item failures: %v", err)
	}

	if stats.IndexedSources != 1 {
		t.Errorf("indexed sources = %d, want 1 (first failed)", stats.IndexedSources)
	}
	if stats.IndexedAnnotations != 1 || stats.IndexedFiles != 1 {
		t.Errorf("stats = %+v, later items should still index", stats)
	}
}

func TestIndexVaultFileExtractionDegradesToPlaceholder(t *testing.T) {
	provider := &fakeProvider{
		files: []vault.File{{ID: uuid.New(), Name: "scan.pdf", Size: 9000}},
	}
	writer := &fakeChunkWriter{}
	ix := NewIndexer(IndexerConfig{
		Provider:  provider,
		Extractor: &fakeExtractor{err: errors.New("binary file")},
		Chunks:    writer,
		Embedder:  &fakeEmbedder{},
		Logger:    log.NewNop(),
	})

	stats, err := ix.IndexVault(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("IndexVault: %v", err)
	}
	if stats.IndexedFiles != 1 {
		t.Fatalf("file should index via placeholder, stats = %+v", stats)
	}

	var found bool
	for _, batch := range writer.inserted {
		for _, rec := range batch {
			if strings.Contains(rec.Content, "scan.pdf") {
				found = true
			}
		}
	}
	if !found {
		t.Error("placeholder chunk should mention the filename")
	}
}

func TestReindexItemReplacesChunks(t *testing.T) {
	provider := testVaultContent()
	writer := &fakeChunkWriter{}
	embedder := &fakeEmbedder{}
	ix := newTestIndexer(provider, writer, embedder, 10)

	vaultID := uuid.New()
	src := provider.sources[0]
	if err := ix.ReindexItem(context.Background(), vault.SourceTypeSource, src.ID, vaultID); err != nil {
		t.Fatalf("ReindexItem: %v", err)
	}

	if len(writer.deleted) != 1 || writer.deleted[0].SourceID != src.ID {
		t.Errorf("deleted = %+v, want the reindexed item", writer.deleted)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("inserted %d batches, want 1", len(writer.inserted))
	}
	for _, rec := range writer.inserted[0] {
		if rec.SourceID != src.ID || rec.VaultID != vaultID {
			t.Errorf("record %+v does not match reindexed item", rec)
		}
	}
}

func TestReindexItemUnknownType(t *testing.T) {
	ix := newTestIndexer(testVaultContent(), &fakeChunkWriter{}, &fakeEmbedder{}, 10)

	err := ix.ReindexItem(context.Background(), "bookmark", uuid.New(), uuid.New())
	if err == nil {
		t.Fatal("expected error for unknown source type")
	}
	if want := fmt.Sprintf("unknown source type %q", "bookmark"); !strings.Contains(err.Error(), want) {
		t.Errorf("error = %v", err)
	}
}
