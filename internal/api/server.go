// Package api exposes the HTTP surface: the streaming chat endpoint,
// indexing triggers, and health checks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/quillvault/quill/internal/chat"
	"github.com/quillvault/quill/internal/rag"
	"github.com/quillvault/quill/internal/task"
)

// ChatService runs streamed chat turns and thread maintenance.
type ChatService interface {
	Answer(ctx context.Context, vaultID uuid.UUID, userID, question string, sink chat.Sink) error
	Clear(ctx context.Context, vaultID uuid.UUID, userID string) error
}

// IndexService rebuilds vault indexes.
type IndexService interface {
	IndexVault(ctx context.Context, vaultID uuid.UUID) (rag.Stats, error)
	ReindexItem(ctx context.Context, sourceType string, sourceID, vaultID uuid.UUID) error
}

// Memberships answers vault access checks.
type Memberships interface {
	IsMember(ctx context.Context, vaultID uuid.UUID, userID string) (bool, error)
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the service.
type Server struct {
	echo    *echo.Echo
	chat    ChatService
	indexer IndexService
	members Memberships
	queue   *task.Queue
	db      Pinger
	logger  *slog.Logger
}

// Config wires the server's collaborators.
type Config struct {
	Chat    ChatService
	Indexer IndexService
	Members Memberships
	Queue   *task.Queue
	DB      Pinger
	Logger  *slog.Logger
}

// NewServer builds the router with all routes registered.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:    e,
		chat:    cfg.Chat,
		indexer: cfg.Indexer,
		members: cfg.Members,
		queue:   cfg.Queue,
		db:      cfg.DB,
		logger:  cfg.Logger,
	}
	s.useRequestLogging()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.handleHealth)

	api := s.echo.Group("/api")
	api.POST("/vaults/:vault/chat", s.handleChat)
	api.DELETE("/vaults/:vault/conversation", s.handleClearConversation)
	api.POST("/vaults/:vault/index", s.handleIndex)
	api.POST("/vaults/:vault/reindex", s.handleReindex)
}

// useRequestLogging logs one structured line per request.
func (s *Server) useRequestLogging() {
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				s.logger.Warn("request failed", attrs...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	}))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requireUser resolves the caller identity from the X-User-ID header.
func requireUser(c echo.Context) (string, error) {
	userID := c.Request().Header.Get("X-User-ID")
	if userID == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing X-User-ID header")
	}
	return userID, nil
}

// vaultParam parses the :vault path parameter.
func vaultParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("vault"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid vault id")
	}
	return id, nil
}

// authorize confirms vault membership.
func (s *Server) authorize(c echo.Context, vaultID uuid.UUID, userID string) error {
	ok, err := s.members.IsMember(c.Request().Context(), vaultID, userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "membership check failed")
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of this vault")
	}
	return nil
}
