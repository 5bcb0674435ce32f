// Package store persists vault content, document chunks and
// conversations in PostgreSQL. Vector search relies on pgvector's
// cosine distance operator; the stores issue parameterized SQL through
// pgx and are safe for concurrent use.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no row matched. Callers usually treat it as
// "create new", not as a hard failure.
var ErrNotFound = errors.New("not found")

// ItemKey identifies one indexable content item inside a vault.
type ItemKey struct {
	SourceType string
	SourceID   uuid.UUID
}

// ChunkRecord is one persisted, embedded chunk.
// (vault_id, source_type, source_id, chunk_index) is unique; re-indexing
// an item replaces all of its chunks, never merges.
type ChunkRecord struct {
	ID         uuid.UUID
	VaultID    uuid.UUID
	SourceType string
	SourceID   uuid.UUID
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   map[string]string
	CreatedAt  time.Time
}

// ChunkHit is a chunk with its similarity to a query embedding.
type ChunkHit struct {
	ChunkRecord
	Similarity float64
}
