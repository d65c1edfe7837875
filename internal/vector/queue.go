package vector

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WritebackQueue decouples the latency-sensitive matching path from index
// persistence. Producers enqueue file-vector records and return
// immediately; a single drain loop batches them into the file collection.
//
// Each applied record fully replaces any prior vector and metadata for its
// id (last write wins). If the index is offline at flush time the batch is
// re-queued at the front and retried after a fixed delay; nothing is
// dropped.
type WritebackQueue struct {
	svc    *Service
	logger *slog.Logger

	mu       sync.Mutex
	pending  []Record
	draining bool

	batchSize  int
	interval   time.Duration
	retryDelay time.Duration

	kick chan struct{}

	// onFlush is a test hook observing each applied batch.
	onFlush func(n int)
}

// NewWritebackQueue creates a queue flushing into svc's file collection.
// batchSize and interval have sensible defaults when <= 0.
func NewWritebackQueue(svc *Service, batchSize int, interval time.Duration, logger *slog.Logger) *WritebackQueue {
	if batchSize <= 0 {
		batchSize = 32
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WritebackQueue{
		svc:        svc,
		logger:     logger.With("component", "writeback"),
		batchSize:  batchSize,
		interval:   interval,
		retryDelay: 5 * time.Second,
		kick:       make(chan struct{}, 1),
	}
}

// Enqueue adds a record for eventual persistence. When the backlog reaches
// the batch size the drain loop is woken early.
func (q *WritebackQueue) Enqueue(r Record) {
	q.mu.Lock()
	q.pending = append(q.pending, r)
	full := len(q.pending) >= q.batchSize
	q.mu.Unlock()

	if full {
		select {
		case q.kick <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of queued records.
func (q *WritebackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run drains the queue until ctx is cancelled, flushing on the timer or
// when woken by a full batch. A final best-effort flush runs on shutdown.
func (q *WritebackQueue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			q.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
		case <-q.kick:
		}
		if err := q.Flush(ctx); err != nil {
			q.logger.Warn("write-back flush failed, batch re-queued", "error", err)
			select {
			case <-time.After(q.retryDelay):
			case <-ctx.Done():
			}
		}
	}
}

// Flush writes one batch. The draining flag keeps a timer-triggered and a
// size-triggered flush from overlapping; the loser returns immediately.
func (q *WritebackQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.draining || len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	q.draining = true
	n := len(q.pending)
	if n > q.batchSize {
		n = q.batchSize
	}
	batch := make([]Record, n)
	copy(batch, q.pending[:n])
	q.pending = q.pending[n:]
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	if err := q.svc.Ready(ctx); err != nil {
		q.requeueFront(batch)
		return err
	}

	skipped, err := q.svc.Client().Upsert(ctx, FileCollection, batch)
	if err != nil {
		q.requeueFront(batch)
		return err
	}
	if len(skipped) > 0 {
		q.logger.Warn("write-back skipped malformed records", "skipped", skipped)
	}
	q.logger.Debug("write-back flushed", "records", len(batch)-len(skipped))
	if q.onFlush != nil {
		q.onFlush(len(batch))
	}
	return nil
}

// requeueFront puts a failed batch back at the head so ordering and
// last-write-wins semantics are preserved across retries.
func (q *WritebackQueue) requeueFront(batch []Record) {
	q.mu.Lock()
	q.pending = append(batch, q.pending...)
	q.mu.Unlock()
}
