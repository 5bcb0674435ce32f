// Package task runs fire-and-forget background jobs: full vault
// indexing and single-item re-indexing triggered over Redis pub/sub.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one unit of background work.
type Job struct {
	// Name identifies the job in logs.
	Name string
	// Run does the work. The context carries the per-job deadline.
	Run func(ctx context.Context) error
}

// Queue executes jobs sequentially on a single worker goroutine.
// Enqueue never blocks the caller; a full queue drops the job and
// reports it, which suits idempotent indexing work that the next
// trigger will redo anyway.
type Queue struct {
	jobs    chan Job
	timeout time.Duration
	logger  *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a queue and starts its worker. depth bounds the
// backlog; timeout bounds each job's runtime.
func NewQueue(depth int, timeout time.Duration, logger *slog.Logger) *Queue {
	if depth <= 0 {
		depth = 32
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		jobs:    make(chan Job, depth),
		timeout: timeout,
		logger:  logger,
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue submits a job. It reports false when the backlog is full.
func (q *Queue) Enqueue(job Job) bool {
	select {
	case q.jobs <- job:
		return true
	default:
		q.logger.Warn("job queue full, dropping job", "job", job.Name)
		return false
	}
}

// Close stops accepting jobs and waits for the backlog to drain.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		q.logger.Error("background job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return
	}
	q.logger.Debug("background job finished", "job", job.Name, "duration", time.Since(start))
}
