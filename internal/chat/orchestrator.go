// Package chat implements the chat-turn state machine: conversation
// and message persistence, prompt assembly, multi-model generation with
// retry and fallback, and streamed delivery to the caller.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quillvault/quill/internal/gemini"
	"github.com/quillvault/quill/internal/rag"
	"github.com/quillvault/quill/internal/store"
	"github.com/quillvault/quill/internal/vault"
)

// ErrServiceUnavailable indicates every model and attempt was
// exhausted. Nothing is persisted for the assistant side of the turn.
var ErrServiceUnavailable = errors.New("all generation models unavailable")

// titleMaxRunes caps the lazily created conversation title.
const titleMaxRunes = 80

// Conversations is the persistence surface for chat threads.
type Conversations interface {
	ForUser(ctx context.Context, vaultID uuid.UUID, userID string) (vault.Conversation, error)
	Create(ctx context.Context, vaultID uuid.UUID, userID, title string) (vault.Conversation, error)
	Messages(ctx context.Context, conversationID uuid.UUID, limit int) ([]vault.Message, error)
	Append(ctx context.Context, conversationID uuid.UUID, role, content string, citations []vault.Citation) (vault.Message, error)
	Clear(ctx context.Context, conversationID uuid.UUID) error
}

// Vaults resolves vault display names for the system prompt.
type Vaults interface {
	VaultName(ctx context.Context, vaultID uuid.UUID) (string, error)
}

// Retriever returns ranked grounding chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, vaultID uuid.UUID, query string, topK int, threshold float64) ([]store.ChunkHit, error)
}

// TextStream delivers decoded fragments of one model response.
type TextStream interface {
	Next() (string, error)
	Close() error
}

// Generator starts a streamed generation call against a named model.
type Generator interface {
	GenerateStream(ctx context.Context, model string, req gemini.GenerateRequest) (TextStream, error)
}

// Sink receives the events of one chat turn, in order: zero or more
// fragments, then citations, then done. A Sink error aborts the turn.
type Sink interface {
	Fragment(ctx context.Context, text string) error
	Citations(ctx context.Context, citations []vault.Citation, conversationID uuid.UUID) error
	Done(ctx context.Context) error
}

// Config holds the orchestrator tunables.
type Config struct {
	// Models is the ordered fallback list.
	Models []string
	// MaxAttempts is the number of tries per model on rate limiting.
	MaxAttempts int
	// RetryBaseDelay is multiplied by the attempt index for backoff.
	RetryBaseDelay time.Duration
	// HistoryLimit bounds the prompt's conversation window.
	HistoryLimit int
	TopK         int
	Threshold    float64
	// RateLimiter proactively paces generation attempts (nil = default).
	RateLimiter *rate.Limiter
}

// Orchestrator runs one chat turn end to end. It is stateless across
// turns; the stores are the system of record.
type Orchestrator struct {
	conversations Conversations
	vaults        Vaults
	retriever     Retriever
	generator     Generator
	cfg           Config
	logger        *slog.Logger

	// sleep is the backoff wait, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator.
func New(conversations Conversations, vaults Vaults, retriever Retriever, generator Generator, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		conversations: conversations,
		vaults:        vaults,
		retriever:     retriever,
		generator:     generator,
		cfg:           cfg,
		logger:        logger,
		sleep:         ctxSleep,
	}
}

// Answer runs one chat turn: resolve the conversation, persist the
// user message, retrieve grounding context, stream a generated answer
// into sink, then persist exactly one assistant message. If the caller
// disconnects mid-stream the partial answer is abandoned, never
// written.
func (o *Orchestrator) Answer(ctx context.Context, vaultID uuid.UUID, userID, question string, sink Sink) error {
	vaultName, err := o.vaults.VaultName(ctx, vaultID)
	if err != nil {
		return fmt.Errorf("resolving vault: %w", err)
	}

	conv, err := o.conversations.ForUser(ctx, vaultID, userID)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = o.conversations.Create(ctx, vaultID, userID, titleFromQuestion(question))
	}
	if err != nil {
		return fmt.Errorf("resolving conversation: %w", err)
	}

	// History is loaded before appending so the prompt window never
	// contains the question twice.
	history, err := o.conversations.Messages(ctx, conv.ID, o.cfg.HistoryLimit)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	if _, err := o.conversations.Append(ctx, conv.ID, vault.RoleUser, question, nil); err != nil {
		return fmt.Errorf("persisting question: %w", err)
	}

	hits, err := o.retriever.Retrieve(ctx, vaultID, question, o.cfg.TopK, o.cfg.Threshold)
	if err != nil {
		return fmt.Errorf("retrieving context: %w", err)
	}
	contextText, citations := rag.FormatContext(hits)

	req := buildRequest(vaultName, contextText, history, question)

	stream, model, err := o.generate(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		_ = stream.Close()
	}()

	var answer strings.Builder
	for {
		frag, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("consuming stream from %s: %w", model, err)
		}
		if frag == "" {
			continue
		}
		answer.WriteString(frag)
		if err := sink.Fragment(ctx, frag); err != nil {
			o.logger.Debug("caller gone mid-stream, abandoning turn", "error", err)
			return fmt.Errorf("delivering fragment: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := sink.Citations(ctx, citations, conv.ID); err != nil {
		return fmt.Errorf("delivering citations: %w", err)
	}
	if err := sink.Done(ctx); err != nil {
		return fmt.Errorf("delivering completion: %w", err)
	}

	if _, err := o.conversations.Append(ctx, conv.ID, vault.RoleAssistant, answer.String(), citations); err != nil {
		return fmt.Errorf("persisting answer: %w", err)
	}

	o.logger.Info("chat turn completed",
		"vault_id", vaultID,
		"conversation_id", conv.ID,
		"model", model,
		"answer_length", answer.Len(),
		"citations", len(citations),
	)
	return nil
}

// Clear wipes the user's conversation history in a vault. A missing
// conversation is already clear.
func (o *Orchestrator) Clear(ctx context.Context, vaultID uuid.UUID, userID string) error {
	conv, err := o.conversations.ForUser(ctx, vaultID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving conversation: %w", err)
	}
	if err := o.conversations.Clear(ctx, conv.ID); err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}
	o.logger.Info("conversation cleared", "vault_id", vaultID, "conversation_id", conv.ID)
	return nil
}

// generate walks the model fallback list. Per model: retry on rate
// limiting with linearly increasing backoff, give up immediately on an
// unknown model, advance on anything else. The first model that
// returns a stream wins the turn.
func (o *Orchestrator) generate(ctx context.Context, req gemini.GenerateRequest) (TextStream, string, error) {
	for _, model := range o.cfg.Models {
		for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
			if err := o.cfg.RateLimiter.Wait(ctx); err != nil {
				return nil, "", fmt.Errorf("rate limit wait: %w", err)
			}

			stream, err := o.generator.GenerateStream(ctx, model, req)
			if err == nil {
				return stream, model, nil
			}

			var perr *gemini.ProviderError
			switch {
			case errors.As(err, &perr) && perr.RateLimited():
				delay := time.Duration(attempt) * o.cfg.RetryBaseDelay
				o.logger.Debug("model rate limited, backing off",
					"model", model, "attempt", attempt, "delay", delay)
				if err := o.sleep(ctx, delay); err != nil {
					return nil, "", err
				}
				continue

			case errors.As(err, &perr) && perr.ModelNotFound():
				o.logger.Warn("model not available, advancing", "model", model)

			default:
				o.logger.Warn("generation failed, advancing", "model", model, "error", err)
			}
			break
		}
	}
	return nil, "", ErrServiceUnavailable
}

// titleFromQuestion derives the lazy conversation title.
func titleFromQuestion(question string) string {
	title := strings.TrimSpace(question)
	runes := []rune(title)
	if len(runes) > titleMaxRunes {
		title = string(runes[:titleMaxRunes-3]) + "..."
	}
	return title
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}
