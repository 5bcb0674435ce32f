package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/quillvault/quill/internal/chat"
	"github.com/quillvault/quill/internal/store"
	"github.com/quillvault/quill/internal/vault"
)

type chatRequest struct {
	Question string `json:"question"`
}

// handleChat streams one chat turn as Server-Sent Events: chunk events
// carrying answer fragments, one citations event, then done. Failures
// before the first event return plain JSON errors; failures after it
// are delivered as an SSE error event because the status line is
// already on the wire.
func (s *Server) handleChat(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}
	vaultID, err := vaultParam(c)
	if err != nil {
		return err
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}

	if err := s.authorize(c, vaultID, userID); err != nil {
		return err
	}

	sink := &sseSink{resp: c.Response()}
	err = s.chat.Answer(c.Request().Context(), vaultID, userID, req.Question, sink)
	if err == nil {
		return nil
	}

	if sink.started {
		s.logger.Warn("chat turn failed mid-stream", "vault_id", vaultID, "error", err)
		_ = sink.writeError(err)
		return nil
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "vault not found")
	case errors.Is(err, chat.ErrServiceUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no generation model available")
	default:
		s.logger.Error("chat turn failed", "vault_id", vaultID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "chat turn failed")
	}
}

// handleClearConversation wipes the caller's chat history in a vault.
func (s *Server) handleClearConversation(c echo.Context) error {
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

	if err := s.chat.Clear(c.Request().Context(), vaultID, userID); err != nil {
		s.logger.Error("clearing conversation failed", "vault_id", vaultID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "clearing conversation failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// sseSink adapts the response writer to the chat.Sink interface. The
// SSE writer is created lazily on the first event so pre-stream
// failures can still return ordinary JSON errors.
type sseSink struct {
	resp    *echo.Response
	w       *sseWriter
	started bool
}

func (s *sseSink) writer() (*sseWriter, error) {
	if s.w == nil {
		w, err := newSSEWriter(s.resp)
		if err != nil {
			return nil, err
		}
		s.w = w
		s.started = true
	}
	return s.w, nil
}

func (s *sseSink) Fragment(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := s.writer()
	if err != nil {
		return err
	}
	return w.WriteEvent("chunk", map[string]string{"text": text})
}

func (s *sseSink) Citations(ctx context.Context, citations []vault.Citation, conversationID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := s.writer()
	if err != nil {
		return err
	}
	return w.WriteEvent("citations", map[string]any{
		"conversation_id": conversationID,
		"citations":       citations,
	})
}

func (s *sseSink) Done(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := s.writer()
	if err != nil {
		return err
	}
	return w.WriteEvent("done", map[string]string{"status": "complete"})
}

func (s *sseSink) writeError(err error) error {
	w, werr := s.writer()
	if werr != nil {
		return werr
	}
	code := "internal"
	if errors.Is(err, chat.ErrServiceUnavailable) {
		code = "service_unavailable"
	}
	return w.WriteError(code, "chat turn failed")
}
