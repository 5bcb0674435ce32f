package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Chunks manages the document chunk table, including the pgvector
// similarity search used as the retriever's primary path.
type Chunks struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewChunks creates a chunk store.
func NewChunks(pool *pgxpool.Pool, logger *slog.Logger) *Chunks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunks{pool: pool, logger: logger}
}

// InsertBatch persists records in one round trip.
func (c *Chunks) InsertBatch(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		batch.Queue(`
			INSERT INTO document_chunks (vault_id, source_type, source_id, chunk_index, content, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.VaultID, rec.SourceType, rec.SourceID, rec.ChunkIndex,
			rec.Content, pgvector.NewVector(rec.Embedding), meta,
		)
	}

	results := c.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting chunk batch: %w", err)
		}
	}

	c.logger.Debug("inserted chunks", "count", len(records))
	return nil
}

// DeleteItem removes every chunk derived from one content item.
// Re-indexing always deletes before inserting; there is no merge path.
func (c *Chunks) DeleteItem(ctx context.Context, vaultID uuid.UUID, sourceType string, sourceID uuid.UUID) error {
	_, err := c.pool.Exec(ctx, `
		DELETE FROM document_chunks
		WHERE vault_id = $1 AND source_type = $2 AND source_id = $3`,
		vaultID, sourceType, sourceID)
	if err != nil {
		return fmt.Errorf("deleting chunks for %s/%s: %w", sourceType, sourceID, err)
	}
	return nil
}

// IndexedKeys returns the set of (source_type, source_id) pairs that
// already have chunks in the vault. The indexer skips these.
func (c *Chunks) IndexedKeys(ctx context.Context, vaultID uuid.UUID) (map[ItemKey]struct{}, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT DISTINCT source_type, source_id
		FROM document_chunks
		WHERE vault_id = $1`,
		vaultID)
	if err != nil {
		return nil, fmt.Errorf("listing indexed keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[ItemKey]struct{})
	for rows.Next() {
		var key ItemKey
		if err := rows.Scan(&key.SourceType, &key.SourceID); err != nil {
			return nil, fmt.Errorf("scanning indexed key: %w", err)
		}
		keys[key] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating indexed keys: %w", err)
	}
	return keys, nil
}

// Search runs the vault-scoped cosine similarity search. Results are
// capped at topK, filtered by threshold and ordered by similarity
// descending with storage order breaking ties.
func (c *Chunks) Search(ctx context.Context, vaultID uuid.UUID, embedding []float32, topK int, threshold float64) ([]ChunkHit, error) {
	vec := pgvector.NewVector(embedding)
	rows, err := c.pool.Query(ctx, `
		SELECT id, vault_id, source_type, source_id, chunk_index, content, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM document_chunks
		WHERE vault_id = $2 AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1, created_at, id
		LIMIT $4`,
		vec, vaultID, threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	return c.scanHits(rows, false)
}

// ScanEmbeddings loads up to limit chunks with their stored vectors, in
// storage order. This feeds the retriever's in-process fallback; the
// cap bounds worst-case latency and memory when the primary search
// path is down.
func (c *Chunks) ScanEmbeddings(ctx context.Context, vaultID uuid.UUID, limit int) ([]ChunkHit, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, vault_id, source_type, source_id, chunk_index, content, metadata, created_at, embedding
		FROM document_chunks
		WHERE vault_id = $1
		ORDER BY created_at, id
		LIMIT $2`,
		vaultID, limit)
	if err != nil {
		return nil, fmt.Errorf("scanning embeddings: %w", err)
	}
	defer rows.Close()

	return c.scanHits(rows, true)
}

// scanHits decodes rows into hits. When withEmbedding is set, the last
// column is the stored vector; otherwise it is the similarity score.
func (c *Chunks) scanHits(rows pgx.Rows, withEmbedding bool) ([]ChunkHit, error) {
	var hits []ChunkHit
	for rows.Next() {
		var hit ChunkHit
		var meta []byte

		dest := []any{
			&hit.ID, &hit.VaultID, &hit.SourceType, &hit.SourceID,
			&hit.ChunkIndex, &hit.Content, &meta, &hit.CreatedAt,
		}
		var vec pgvector.Vector
		if withEmbedding {
			dest = append(dest, &vec)
		} else {
			dest = append(dest, &hit.Similarity)
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		if withEmbedding {
			hit.Embedding = vec.Slice()
		}

		if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
			c.logger.Warn("unparsable chunk metadata", "chunk_id", hit.ID, "error", err)
			hit.Metadata = map[string]string{}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk rows: %w", err)
	}
	return hits, nil
}
