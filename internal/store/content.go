package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillvault/quill/internal/vault"
)

// Content is the read-only content-item provider consumed by the
// indexer. Queries return metadata fields only; file payloads stay on
// disk.
type Content struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewContent creates a content provider.
func NewContent(pool *pgxpool.Pool, logger *slog.Logger) *Content {
	if logger == nil {
		logger = slog.Default()
	}
	return &Content{pool: pool, logger: logger}
}

// VaultName returns the vault's display name.
func (c *Content) VaultName(ctx context.Context, vaultID uuid.UUID) (string, error) {
	var name string
	err := c.pool.QueryRow(ctx, `SELECT name FROM vaults WHERE id = $1`, vaultID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching vault: %w", err)
	}
	return name, nil
}

// IsMember reports whether the user belongs to the vault.
func (c *Content) IsMember(ctx context.Context, vaultID uuid.UUID, userID string) (bool, error) {
	var ok bool
	err := c.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM vault_members WHERE vault_id = $1 AND user_id = $2)`,
		vaultID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return ok, nil
}

// Sources lists a vault's saved sources.
func (c *Content) Sources(ctx context.Context, vaultID uuid.UUID) ([]vault.Source, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, vault_id, title, url, author, description, notes, added_by, created_at
		FROM sources WHERE vault_id = $1 ORDER BY created_at`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var items []vault.Source
	for rows.Next() {
		var s vault.Source
		if err := rows.Scan(&s.ID, &s.VaultID, &s.Title, &s.URL, &s.Author, &s.Description, &s.Notes, &s.AddedBy, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// Annotations lists a vault's annotations with the source title
// denormalized for citations.
func (c *Content) Annotations(ctx context.Context, vaultID uuid.UUID) ([]vault.Annotation, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT a.id, a.vault_id, a.source_id, s.title, a.author, a.quote, a.comment, a.created_at
		FROM annotations a
		JOIN sources s ON s.id = a.source_id
		WHERE a.vault_id = $1 ORDER BY a.created_at`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("listing annotations: %w", err)
	}
	defer rows.Close()

	var items []vault.Annotation
	for rows.Next() {
		var a vault.Annotation
		if err := rows.Scan(&a.ID, &a.VaultID, &a.SourceID, &a.SourceTitle, &a.Author, &a.Quote, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning annotation: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// Files lists a vault's uploaded file metadata.
func (c *Content) Files(ctx context.Context, vaultID uuid.UUID) ([]vault.File, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT id, vault_id, name, location, size, uploaded_by, created_at
		FROM vault_files WHERE vault_id = $1 ORDER BY created_at`, vaultID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	defer rows.Close()

	var items []vault.File
	for rows.Next() {
		var f vault.File
		if err := rows.Scan(&f.ID, &f.VaultID, &f.Name, &f.Location, &f.Size, &f.UploadedBy, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning file: %w", err)
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

// Source fetches one source by id for single-item re-indexing.
func (c *Content) Source(ctx context.Context, id uuid.UUID) (vault.Source, error) {
	var s vault.Source
	err := c.pool.QueryRow(ctx, `
		SELECT id, vault_id, title, url, author, description, notes, added_by, created_at
		FROM sources WHERE id = $1`, id).
		Scan(&s.ID, &s.VaultID, &s.Title, &s.URL, &s.Author, &s.Description, &s.Notes, &s.AddedBy, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.Source{}, ErrNotFound
	}
	if err != nil {
		return vault.Source{}, fmt.Errorf("fetching source: %w", err)
	}
	return s, nil
}

// Annotation fetches one annotation by id.
func (c *Content) Annotation(ctx context.Context, id uuid.UUID) (vault.Annotation, error) {
	var a vault.Annotation
	err := c.pool.QueryRow(ctx, `
		SELECT a.id, a.vault_id, a.source_id, s.title, a.author, a.quote, a.comment, a.created_at
		FROM annotations a
		JOIN sources s ON s.id = a.source_id
		WHERE a.id = $1`, id).
		Scan(&a.ID, &a.VaultID, &a.SourceID, &a.SourceTitle, &a.Author, &a.Quote, &a.Comment, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.Annotation{}, ErrNotFound
	}
	if err != nil {
		return vault.Annotation{}, fmt.Errorf("fetching annotation: %w", err)
	}
	return a, nil
}

// File fetches one file's metadata by id.
func (c *Content) File(ctx context.Context, id uuid.UUID) (vault.File, error) {
	var f vault.File
	err := c.pool.QueryRow(ctx, `
		SELECT id, vault_id, name, location, size, uploaded_by, created_at
		FROM vault_files WHERE id = $1`, id).
		Scan(&f.ID, &f.VaultID, &f.Name, &f.Location, &f.Size, &f.UploadedBy, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.File{}, ErrNotFound
	}
	if err != nil {
		return vault.File{}, fmt.Errorf("fetching file: %w", err)
	}
	return f, nil
}
