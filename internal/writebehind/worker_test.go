package writebehind

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/collabtodo/collabd/internal/model"
	"github.com/collabtodo/collabd/internal/repository"
)

// fakeRepo implements repository.Repository with counting hooks; only the
// methods the worker calls need real behavior.
type fakeRepo struct {
	mu       sync.Mutex
	added    []model.TodoItem
	failNext bool
}

func (f *fakeRepo) AddItem(ctx context.Context, item model.TodoItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("boom")
	}
	f.added = append(f.added, item)
	return nil
}
func (f *fakeRepo) UpdateItem(ctx context.Context, item model.TodoItem) error { return nil }
func (f *fakeRepo) SoftDeleteItem(ctx context.Context, listID, itemID string) error { return nil }
func (f *fakeRepo) AddMember(ctx context.Context, m model.Membership) error   { return nil }
func (f *fakeRepo) SoftDeleteList(ctx context.Context, listID string) error   { return nil }
func (f *fakeRepo) GetList(ctx context.Context, listID string) (model.TodoList, error) {
	return model.TodoList{}, nil
}
func (f *fakeRepo) GetListsForUser(ctx context.Context, userID string) ([]model.TodoList, error) {
	return nil, nil
}
func (f *fakeRepo) CreateList(ctx context.Context, ownerID, name string) (model.TodoList, error) {
	return model.TodoList{}, nil
}
func (f *fakeRepo) GetItems(ctx context.Context, listID string) ([]model.TodoItem, error) {
	return nil, nil
}
func (f *fakeRepo) ListMembers(ctx context.Context, listID string) ([]model.Membership, error) {
	return nil, nil
}

var _ repository.Repository = (*fakeRepo)(nil)

func waitForStat(t *testing.T, w *Worker, check func(Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if check(w.Stats()) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("stat condition never satisfied")
}

func TestWorker_ProcessesSuccessfulWrite(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, 10, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.EnqueueAddItem(model.TodoItem{ItemID: "I1"})
	waitForStat(t, w, func(s Stats) bool { return s.WritesProcessed == 1 })
}

func TestWorker_CountsFailures(t *testing.T) {
	repo := &fakeRepo{failNext: true}
	w := New(repo, 10, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	w.EnqueueAddItem(model.TodoItem{ItemID: "I1"})
	waitForStat(t, w, func(s Stats) bool { return s.WritesFailed == 1 })
}

func TestWorker_OverflowWhenQueueFull(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, 1, time.Second, zerolog.Nop())
	// no Start(): nothing drains the queue, so the second enqueue overflows.

	require.True(t, w.enqueue(Op{Kind: KindAddItem}))
	require.False(t, w.enqueue(Op{Kind: KindAddItem}))
	require.EqualValues(t, 1, w.Stats().QueueOverflow)
}

func TestWorker_DrainsOnShutdown(t *testing.T) {
	repo := &fakeRepo{}
	w := New(repo, 10, 2*time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	w.EnqueueAddItem(model.TodoItem{ItemID: "I1"})
	cancel()
	w.Wait()

	require.EqualValues(t, 1, w.Stats().WritesProcessed)
}
