package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Invalidation announces that one content item changed and its chunks
// are stale.
type Invalidation struct {
	VaultID    uuid.UUID `json:"vault_id"`
	SourceType string    `json:"source_type"`
	SourceID   uuid.UUID `json:"source_id"`
}

// Reindexer replaces the stored chunks of one content item.
type Reindexer interface {
	ReindexItem(ctx context.Context, sourceType string, sourceID, vaultID uuid.UUID) error
}

// Listener subscribes to the invalidation channel and enqueues a
// re-index job per message. Malformed messages are logged and dropped;
// a bad publisher must not wedge the subscription.
type Listener struct {
	client    *redis.Client
	channel   string
	queue     *Queue
	reindexer Reindexer
	logger    *slog.Logger
}

// NewListener creates a listener. It does not subscribe until Run.
func NewListener(client *redis.Client, channel string, queue *Queue, reindexer Reindexer, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		client:    client,
		channel:   channel,
		queue:     queue,
		reindexer: reindexer,
		logger:    logger,
	}
}

// Run consumes invalidation messages until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	sub := l.client.Subscribe(ctx, l.channel)
	defer func() {
		_ = sub.Close()
	}()

	// Fail fast if the subscription itself cannot be established.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.channel, err)
	}

	l.logger.Info("invalidation listener started", "channel", l.channel)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(msg.Payload)
		}
	}
}

func (l *Listener) handle(payload string) {
	var inv Invalidation
	if err := json.Unmarshal([]byte(payload), &inv); err != nil {
		l.logger.Warn("dropping malformed invalidation", "payload", payload, "error", err)
		return
	}
	if inv.VaultID == uuid.Nil || inv.SourceID == uuid.Nil || inv.SourceType == "" {
		l.logger.Warn("dropping incomplete invalidation", "payload", payload)
		return
	}

	l.queue.Enqueue(Job{
		Name: fmt.Sprintf("reindex %s/%s", inv.SourceType, inv.SourceID),
		Run: func(ctx context.Context) error {
			return l.reindexer.ReindexItem(ctx, inv.SourceType, inv.SourceID, inv.VaultID)
		},
	})
}
