package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillvault/quill/internal/vault"
)

// Conversations manages the per-user-per-vault chat threads and their
// append-only message log.
type Conversations struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewConversations creates a conversation store.
func NewConversations(pool *pgxpool.Pool, logger *slog.Logger) *Conversations {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversations{pool: pool, logger: logger}
}

// ForUser returns the user's conversation in a vault. ErrNotFound means
// none exists yet; the orchestrator creates one lazily.
func (s *Conversations) ForUser(ctx context.Context, vaultID uuid.UUID, userID string) (vault.Conversation, error) {
	var conv vault.Conversation
	err := s.pool.QueryRow(ctx, `
		SELECT id, vault_id, user_id, title, created_at, updated_at
		FROM conversations
		WHERE vault_id = $1 AND user_id = $2`,
		vaultID, userID).Scan(&conv.ID, &conv.VaultID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return vault.Conversation{}, ErrNotFound
	}
	if err != nil {
		return vault.Conversation{}, fmt.Errorf("fetching conversation: %w", err)
	}
	return conv, nil
}

// Create inserts a conversation. The unique (vault_id, user_id) index
// enforces at-most-one per pair.
func (s *Conversations) Create(ctx context.Context, vaultID uuid.UUID, userID, title string) (vault.Conversation, error) {
	var conv vault.Conversation
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (vault_id, user_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, vault_id, user_id, title, created_at, updated_at`,
		vaultID, userID, title).Scan(&conv.ID, &conv.VaultID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return vault.Conversation{}, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("created conversation", "vault_id", vaultID, "user_id", userID)
	return conv, nil
}

// Messages returns the most recent limit messages in ascending
// created_at order.
func (s *Conversations) Messages(ctx context.Context, conversationID uuid.UUID, limit int) ([]vault.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content, citations, created_at FROM (
			SELECT id, conversation_id, role, content, citations, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer rows.Close()

	var msgs []vault.Message
	for rows.Next() {
		var m vault.Message
		var citations []byte
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &citations, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if err := json.Unmarshal(citations, &m.Citations); err != nil {
			s.logger.Warn("unparsable message citations", "message_id", m.ID, "error", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// Append adds one message and bumps the conversation's updated_at.
// Messages are never edited or deleted individually.
func (s *Conversations) Append(ctx context.Context, conversationID uuid.UUID, role, content string, citations []vault.Citation) (vault.Message, error) {
	if citations == nil {
		citations = []vault.Citation{}
	}
	data, err := json.Marshal(citations)
	if err != nil {
		return vault.Message{}, fmt.Errorf("marshal citations: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return vault.Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var m vault.Message
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, citations)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, role, content, created_at`,
		conversationID, role, content, data).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return vault.Message{}, fmt.Errorf("inserting message: %w", err)
	}
	m.Citations = citations

	if _, err := tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID); err != nil {
		return vault.Message{}, fmt.Errorf("touching conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return vault.Message{}, fmt.Errorf("commit append: %w", err)
	}
	return m, nil
}

// Clear removes every message in a conversation. Whole-thread reset is
// the only supported deletion.
func (s *Conversations) Clear(ctx context.Context, conversationID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	return nil
}
