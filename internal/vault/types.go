// Package vault defines the domain model shared across the indexing,
// retrieval and conversation components.
package vault

import (
	"time"

	"github.com/google/uuid"
)

// Source type constants for indexed content.
const (
	// SourceTypeSource represents a saved link or reference.
	SourceTypeSource = "source"

	// SourceTypeAnnotation represents a member's note on a source.
	SourceTypeAnnotation = "annotation"

	// SourceTypeFile represents an uploaded file.
	SourceTypeFile = "file"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Vault is the collaboration boundary. All indexing and retrieval is
// scoped to a single vault.
type Vault struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Source is a saved link or reference inside a vault.
type Source struct {
	ID          uuid.UUID
	VaultID     uuid.UUID
	Title       string
	URL         string
	Author      string
	Description string
	Notes       string
	AddedBy     string
	CreatedAt   time.Time
}

// Annotation is a member's note attached to a source.
// SourceTitle is denormalized so citations never need a join.
type Annotation struct {
	ID          uuid.UUID
	VaultID     uuid.UUID
	SourceID    uuid.UUID
	SourceTitle string
	Author      string
	Quote       string
	Comment     string
	CreatedAt   time.Time
}

// File is an uploaded file's metadata. The binary payload lives at
// Location and is never loaded into the domain model.
type File struct {
	ID         uuid.UUID
	VaultID    uuid.UUID
	Name       string
	Location   string
	Size       int64
	UploadedBy string
	CreatedAt  time.Time
}

// Conversation is the per-user-per-vault chat thread.
// At most one conversation exists per (vault, user) pair.
type Conversation struct {
	ID        uuid.UUID
	VaultID   uuid.UUID
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one chat turn. Messages are append-only and ordered by
// CreatedAt ascending.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Citations      []Citation
	CreatedAt      time.Time
}

// Citation is a display-ready reference back to a grounding chunk.
type Citation struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}
