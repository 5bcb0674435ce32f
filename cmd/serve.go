package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillvault/quill/internal/api"
	"github.com/quillvault/quill/internal/chat"
	"github.com/quillvault/quill/internal/chunk"
	"github.com/quillvault/quill/internal/extract"
	"github.com/quillvault/quill/internal/gemini"
	"github.com/quillvault/quill/internal/postgres"
	"github.com/quillvault/quill/internal/rag"
	"github.com/quillvault/quill/internal/store"
	"github.com/quillvault/quill/internal/task"
)

// executeServe wires the full service and runs it until SIGINT/SIGTERM.
func executeServe() error {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := postgres.Migrate(cfg.PostgresDSN()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	pool, err := postgres.Open(ctx, cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	provider, err := gemini.NewClient(ctx, gemini.Config{
		APIKey:         cfg.AI.APIKey,
		EmbedModel:     cfg.AI.EmbedModel,
		EmbedDimension: cfg.AI.EmbedDimension,
		Timeout:        cfg.AI.RequestTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating provider client: %w", err)
	}

	chunks := store.NewChunks(pool, logger)
	conversations := store.NewConversations(pool, logger)
	content := store.NewContent(pool, logger)

	indexer := rag.NewIndexer(rag.IndexerConfig{
		Provider:  content,
		Extractor: extract.NewLocal(cfg.RAG.MaxFileBytes, logger),
		Chunks:    chunks,
		Embedder:  provider,
		ChunkOpts: chunk.Options{Size: cfg.RAG.ChunkSize, Overlap: cfg.RAG.ChunkOverlap},
		BatchSize: cfg.RAG.EmbedBatchSize,
		Logger:    logger,
	})

	retriever := rag.NewRetriever(provider, chunks, cfg.RAG.FallbackScanLimit, logger)

	orchestrator := chat.New(conversations, content, retriever, chat.GeminiGenerator{Client: provider}, chat.Config{
		Models:         cfg.AI.Models,
		MaxAttempts:    cfg.AI.MaxAttempts,
		RetryBaseDelay: cfg.AI.RetryBaseDelay,
		HistoryLimit:   cfg.RAG.HistoryLimit,
		TopK:           cfg.RAG.TopK,
		Threshold:      cfg.RAG.Threshold,
	}, logger)

	queue := task.NewQueue(32, 10*time.Minute, logger)
	defer queue.Close()

	if cfg.Redis.Addr != "" {
		redisClient, err := task.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() {
			_ = redisClient.Close()
		}()

		listener := task.NewListener(redisClient, cfg.Redis.Channel, queue, indexer, logger)
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("invalidation listener stopped", "error", err)
			}
		}()
	} else {
		logger.Info("redis not configured, invalidation listener disabled")
	}

	server := api.NewServer(api.Config{
		Chat:    orchestrator,
		Indexer: indexer,
		Members: content,
		Queue:   queue,
		DB:      pool,
		Logger:  logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
