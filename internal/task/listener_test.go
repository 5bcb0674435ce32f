package task

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quillvault/quill/internal/log"
)

type fakeReindexer struct {
	mu    sync.Mutex
	calls []Invalidation
}

func (f *fakeReindexer) ReindexItem(ctx context.Context, sourceType string, sourceID, vaultID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Invalidation{VaultID: vaultID, SourceType: sourceType, SourceID: sourceID})
	return nil
}

func (f *fakeReindexer) snapshot() []Invalidation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invalidation(nil), f.calls...)
}

func newTestListener(reindexer Reindexer, queue *Queue) *Listener {
	return NewListener(nil, "test.invalidations", queue, reindexer, log.NewNop())
}

func TestHandleEnqueuesReindexJob(t *testing.T) {
	queue := NewQueue(4, time.Second, log.NewNop())
	reindexer := &fakeReindexer{}
	l := newTestListener(reindexer, queue)

	inv := Invalidation{VaultID: uuid.New(), SourceType: "source", SourceID: uuid.New()}
	payload, err := json.Marshal(inv)
	if err != nil {
		t.Fatal(err)
	}

	l.handle(string(payload))
	queue.Close()

	calls := reindexer.snapshot()
	if len(calls) != 1 {
		t.Fatalf("reindex called %d times, want 1", len(calls))
	}
	if calls[0] != inv {
		t.Errorf("reindex call = %+v, want %+v", calls[0], inv)
	}
}

func TestHandleDropsMalformedPayloads(t *testing.T) {
	queue := NewQueue(4, time.Second, log.NewNop())
	reindexer := &fakeReindexer{}
	l := newTestListener(reindexer, queue)

	for _, payload := range []string{
		"not json",
		"{}",
		`{"vault_id":"not-a-uuid"}`,
		`{"vault_id":"` + uuid.New().String() + `","source_type":"","source_id":"` + uuid.New().String() + `"}`,
	} {
		l.handle(payload)
	}
	queue.Close()

	if calls := reindexer.snapshot(); len(calls) != 0 {
		t.Errorf("reindex called for malformed payloads: %+v", calls)
	}
}
