// Package writebehind implements C6: the bounded single-consumer queue
// that persists mutations to the durable store asynchronously (spec.md
// §4.7). Adapted from adred-codev-ws_poc/src/worker_pool.go's WorkerPool —
// same buffered-channel-plus-atomic-counters shape — narrowed from "N
// workers pulling generic closures" to "one worker pulling typed
// repository mutations", per spec.md §4.7's "single-threaded;
// serialization keeps repository contention low".
package writebehind

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/model"
	"github.com/collabtodo/collabd/internal/repository"
)

// Kind names the repository call an Op resolves to.
type Kind int

const (
	KindAddItem Kind = iota
	KindUpdateItem
	KindDeleteItem
	KindAddMember
	KindSoftDeleteList
)

// Op is one pending durable write. The write worker treats every Op as an
// upsert (or idempotent soft-delete), so replaying it after a crash is
// always safe (spec.md §9 "Retry / idempotence").
type Op struct {
	Kind   Kind
	Item   model.TodoItem
	Member model.Membership
	ListID string
	ItemID string
}

// Worker is the single consumer task described in spec.md §4.7.
type Worker struct {
	repo   repository.Repository
	logger zerolog.Logger
	queue  chan Op

	drainTimeout time.Duration

	processed     int64
	failed        int64
	overflow      int64
	droppedOnStop int64

	wg sync.WaitGroup
}

func New(repo repository.Repository, queueSize int, drainTimeout time.Duration, logger zerolog.Logger) *Worker {
	return &Worker{
		repo:         repo,
		logger:       logger,
		queue:        make(chan Op, queueSize),
		drainTimeout: drainTimeout,
	}
}

// Start launches the single consumer goroutine. Must be called once,
// before any Enqueue* call relies on the queue draining.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case op, ok := <-w.queue:
			if !ok {
				return
			}
			w.apply(ctx, op)
		case <-ctx.Done():
			w.drain(ctx)
			return
		}
	}
}

// drain empties whatever is already queued, bounded by drainTimeout, then
// counts the rest as dropped — spec.md §4.7 "On shutdown" and §7 "Shutdown
// drains the write queue for WRITER_SHUTDOWN_DRAIN_SECONDS, then exits."
func (w *Worker) drain(ctx context.Context) {
	deadline := time.Now().Add(w.drainTimeout)
	for {
		select {
		case op := <-w.queue:
			if time.Now().After(deadline) {
				atomic.AddInt64(&w.droppedOnStop, 1)
				continue
			}
			w.apply(context.Background(), op)
		default:
			remaining := len(w.queue)
			if remaining > 0 {
				atomic.AddInt64(&w.droppedOnStop, int64(remaining))
			}
			return
		}
	}
}

func (w *Worker) apply(ctx context.Context, op Op) {
	ctx, cancel := context.WithTimeout(ctx, repository.Timeout)
	defer cancel()

	var err error
	switch op.Kind {
	case KindAddItem:
		err = w.repo.AddItem(ctx, op.Item)
	case KindUpdateItem:
		err = w.repo.UpdateItem(ctx, op.Item)
	case KindDeleteItem:
		err = w.repo.SoftDeleteItem(ctx, op.ListID, op.ItemID)
	case KindAddMember:
		err = w.repo.AddMember(ctx, op.Member)
	case KindSoftDeleteList:
		err = w.repo.SoftDeleteList(ctx, op.ListID)
	}

	if err != nil {
		atomic.AddInt64(&w.failed, 1)
		w.logger.Error().Err(err).Interface("op", op).Msg("write-behind operation failed")
		return
	}
	atomic.AddInt64(&w.processed, 1)
}

func (w *Worker) enqueue(op Op) bool {
	select {
	case w.queue <- op:
		return true
	default:
		atomic.AddInt64(&w.overflow, 1)
		w.logger.Warn().Interface("op", op).Msg("write-behind queue full, durability sacrificed for liveness")
		return false
	}
}

func (w *Worker) EnqueueAddItem(item model.TodoItem) {
	w.enqueue(Op{Kind: KindAddItem, Item: item})
}

func (w *Worker) EnqueueUpdateItem(item model.TodoItem) {
	w.enqueue(Op{Kind: KindUpdateItem, Item: item})
}

func (w *Worker) EnqueueDeleteItem(listID, itemID string) {
	w.enqueue(Op{Kind: KindDeleteItem, ListID: listID, ItemID: itemID})
}

func (w *Worker) EnqueueAddMember(m model.Membership) {
	w.enqueue(Op{Kind: KindAddMember, Member: m})
}

func (w *Worker) EnqueueSoftDeleteList(listID string) {
	w.enqueue(Op{Kind: KindSoftDeleteList, ListID: listID})
}

// Stats is the shape served under "writer" by GET /health (spec.md
// §4.12).
type Stats struct {
	QueueSize           int   `json:"queue_size"`
	WritesProcessed     int64 `json:"writes_processed"`
	WritesFailed        int64 `json:"writes_failed"`
	QueueOverflow       int64 `json:"queue_overflow"`
	WritesDroppedOnStop int64 `json:"writes_dropped_on_shutdown"`
}

func (w *Worker) Stats() Stats {
	return Stats{
		QueueSize:           len(w.queue),
		WritesProcessed:     atomic.LoadInt64(&w.processed),
		WritesFailed:        atomic.LoadInt64(&w.failed),
		QueueOverflow:       atomic.LoadInt64(&w.overflow),
		WritesDroppedOnStop: atomic.LoadInt64(&w.droppedOnStop),
	}
}

// Wait blocks until the consumer goroutine has exited (after Start's
// context is cancelled and drain completes).
func (w *Worker) Wait() { w.wg.Wait() }
