package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/quillvault/quill/internal/task"
	"github.com/quillvault/quill/internal/vault"
)

// handleIndex runs a full incremental index of the vault and returns
// the resulting counts. Already-indexed items are skipped by the
// indexer, so repeated triggers are harmless.
func (s *Server) handleIndex(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	vaultID, err := vaultParam(c)
	if err != nil {
		return err
	}
	if err := s.authorize(c, vaultID, userID); err != nil {
		return err
	}

	stats, err := s.indexer.IndexVault(c.Request().Context(), vaultID)
	if err != nil {
		s.logger.Error("indexing vault failed", "vault_id", vaultID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "indexing failed")
	}
	return c.JSON(http.StatusOK, stats)
}

type reindexRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// handleReindex queues the replacement of one item's chunks.
func (s *Server) handleReindex(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	vaultID, err := vaultParam(c)
	if err != nil {
		return err
	}

	var req reindexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	switch req.SourceType {
	case vault.SourceTypeSource, vault.SourceTypeAnnotation, vault.SourceTypeFile:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid source_type")
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid source_id")
	}

	if err := s.authorize(c, vaultID, userID); err != nil {
		return err
	}

	sourceType := req.SourceType
	queued := s.queue.Enqueue(task.Job{
		Name: fmt.Sprintf("reindex %s/%s", sourceType, sourceID),
		Run: func(ctx context.Context) error {
			return s.indexer.ReindexItem(ctx, sourceType, sourceID, vaultID)
		},
	})
	if !queued {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "indexing backlog full, try again later")
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}
