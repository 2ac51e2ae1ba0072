// Package coordinator implements C3: the façade owning L1 <-> L2 <-> L3
// read-through and write-through logic (spec.md §4.3). It invokes C2
// (internal/store) for atomic mutations, reads and writes C4's L1 cache
// (internal/cache), publishes fan-out events through C5's bus
// (internal/pubsub), and hands durable writes to C6 (internal/writebehind).
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/cache"
	"github.com/collabtodo/collabd/internal/model"
	"github.com/collabtodo/collabd/internal/pubsub"
	"github.com/collabtodo/collabd/internal/repository"
	"github.com/collabtodo/collabd/internal/store"
)

// ErrRevisionConflict is returned by UpdateItem when the caller's rev is
// behind the list's current rev (spec.md §4.5).
var ErrRevisionConflict = errors.New("revision_conflict")

// ErrNotFound surfaces a missing list or item the same way across every
// coordinator op, spec.md §7.
var ErrNotFound = repository.ErrNotFound

// SharedStore is satisfied by *store.Store (C2). Declared as an interface
// here so tests can swap in a fake without standing up miniredis for every
// coordinator scenario.
type SharedStore interface {
	Get(ctx context.Context, listID string) (model.ListCacheEntry, bool, error)
	Seed(ctx context.Context, entry model.ListCacheEntry) error
	Drop(ctx context.Context, listID string) error
	AddItem(ctx context.Context, listID string, item model.TodoItem) (model.Revision, error)
	UpdateItem(ctx context.Context, listID string, item model.TodoItem) (model.Revision, error)
	DeleteItem(ctx context.Context, listID, itemID string) (model.Revision, error)
}

// Bus is satisfied by *pubsub.Bus (C5's publish side).
type Bus interface {
	Publish(ev pubsub.MutationEvent) error
}

// Writer is satisfied by *writebehind.Worker; declared here to avoid an
// import cycle (writebehind imports repository, not coordinator).
type Writer interface {
	EnqueueAddItem(item model.TodoItem)
	EnqueueUpdateItem(item model.TodoItem)
	EnqueueDeleteItem(listID, itemID string)
	EnqueueAddMember(m model.Membership)
	EnqueueSoftDeleteList(listID string)
}

// Coordinator is the single façade instance constructed once per process
// and passed to every handler (spec.md §9 "Global mutable state").
type Coordinator struct {
	l1     *cache.Store
	l2     SharedStore
	l3     repository.Repository
	bus    Bus
	writer Writer
	logger zerolog.Logger
}

func New(l1 *cache.Store, l2 SharedStore, l3 repository.Repository, bus Bus, writer Writer, logger zerolog.Logger) *Coordinator {
	return &Coordinator{l1: l1, l2: l2, l3: l3, bus: bus, writer: writer, logger: logger}
}

// CheckAndLoadListCache implements spec.md §4.3's three-tier read-through,
// including the self-heal branch when the client has seen a newer
// revision than the shared store currently holds.
func (c *Coordinator) CheckAndLoadListCache(ctx context.Context, listID string, clientRev model.Revision) (model.ListCacheEntry, error) {
	if entry, ok := c.l1.Get(listID); ok {
		return entry, nil
	}

	entry, ok, err := c.l2.Get(ctx, listID)
	if err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("load L2: %w", err)
	}
	if ok && clientRev <= entry.Rev {
		c.l1.Put(entry)
		return entry, nil
	}

	return c.rebuildFromDurable(ctx, listID)
}

// rebuildFromDurable forces a read-through from L3, assigns a fresh rev
// from the current wall clock (the store clock is unavailable here since
// no script runs; spec.md invariant 1 only requires non-decrease within a
// node, which a wall-clock read satisfies), and seeds L2 and L1.
func (c *Coordinator) rebuildFromDurable(ctx context.Context, listID string) (model.ListCacheEntry, error) {
	list, err := c.l3.GetList(ctx, listID)
	if err != nil {
		return model.ListCacheEntry{}, err
	}
	items, err := c.l3.GetItems(ctx, listID)
	if err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("load items: %w", err)
	}

	itemMap := make(map[string]model.TodoItem, len(items))
	for _, it := range items {
		itemMap[it.ItemID] = it
	}

	entry := model.ListCacheEntry{
		ListID:    listID,
		ListName:  list.ListName,
		Items:     itemMap,
		Rev:       model.Revision(float64(time.Now().UnixMicro()) / 1e6),
		UpdatedAt: time.Now().UTC(),
	}

	if err := c.l2.Seed(ctx, entry); err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("seed L2: %w", err)
	}
	c.l1.Put(entry)
	return entry, nil
}

// SnapshotList returns the current L1 entry for listID, loading it first
// if necessary.
func (c *Coordinator) SnapshotList(ctx context.Context, listID string) (model.ListCacheEntry, error) {
	if entry, ok := c.l1.Get(listID); ok {
		return entry, nil
	}
	return c.CheckAndLoadListCache(ctx, listID, 0)
}

// CreateList performs the synchronous durable write spec.md §4.3 requires
// (the new list_id is the call's return value), then seeds L2 and L1.
func (c *Coordinator) CreateList(ctx context.Context, ownerID, name string) (model.ListCacheEntry, error) {
	list, err := c.l3.CreateList(ctx, ownerID, name)
	if err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("create list: %w", err)
	}

	entry := model.ListCacheEntry{
		ListID:    list.ListID,
		ListName:  list.ListName,
		Items:     map[string]model.TodoItem{},
		Rev:       model.Revision(float64(time.Now().UnixMicro()) / 1e6),
		UpdatedAt: list.CreatedAt,
	}
	if err := c.l2.Seed(ctx, entry); err != nil {
		return model.ListCacheEntry{}, fmt.Errorf("seed L2: %w", err)
	}
	c.l1.Put(entry)
	return entry, nil
}

// AddItem invokes C2's add_item script, applies the result to L1, enqueues
// the durable write, and fans out the mutation over the bus.
func (c *Coordinator) AddItem(ctx context.Context, listID string, item model.TodoItem) (model.TodoItem, model.Revision, error) {
	rev, err := c.l2.AddItem(ctx, listID, item)
	if err != nil {
		return model.TodoItem{}, 0, fmt.Errorf("add item: %w", err)
	}
	item.UpdatedAt = time.Now().UTC()

	c.applyToL1(listID, item, rev)
	c.writer.EnqueueAddItem(item)
	c.publishItem(pubsub.EventItemAdded, listID, item, rev)
	return item, rev, nil
}

// UpdateItem merges patch over the current snapshot, enforces the revision
// check (spec.md §4.5), then invokes C2's update_item script.
func (c *Coordinator) UpdateItem(ctx context.Context, listID, itemID string, patch model.ItemPatch, clientRev *model.Revision) (model.TodoItem, model.Revision, error) {
	seenRev := model.Revision(0)
	if clientRev != nil {
		seenRev = *clientRev
	}
	entry, err := c.CheckAndLoadListCache(ctx, listID, seenRev)
	if err != nil {
		return model.TodoItem{}, 0, err
	}

	current, ok := entry.Items[itemID]
	if !ok {
		return model.TodoItem{}, 0, ErrNotFound
	}

	if clientRev != nil && *clientRev < entry.Rev {
		return model.TodoItem{}, entry.Rev, ErrRevisionConflict
	}

	next := model.Merge(current, patch)

	rev, err := c.l2.UpdateItem(ctx, listID, next)
	if err != nil {
		if errors.Is(err, store.ErrScriptNotFound) {
			return model.TodoItem{}, 0, ErrNotFound
		}
		return model.TodoItem{}, 0, fmt.Errorf("update item: %w", err)
	}
	next.UpdatedAt = time.Now().UTC()

	c.applyToL1(listID, next, rev)
	c.writer.EnqueueUpdateItem(next)
	c.publishItem(pubsub.EventItemUpdated, listID, next, rev)
	return next, rev, nil
}

// DeleteItem soft-deletes itemID via C2's delete_item script (tombstone,
// never a hard removal).
func (c *Coordinator) DeleteItem(ctx context.Context, listID, itemID string) (model.Revision, error) {
	rev, err := c.l2.DeleteItem(ctx, listID, itemID)
	if err != nil {
		if errors.Is(err, store.ErrScriptNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("delete item: %w", err)
	}

	tombstone := model.TodoItem{ItemID: itemID, ListID: listID, IsDeleted: true, UpdatedAt: time.Now().UTC()}
	c.applyToL1(listID, tombstone, rev)
	c.writer.EnqueueDeleteItem(listID, itemID)

	ev := pubsub.MutationEvent{Type: pubsub.EventItemDeleted, ListID: listID, ItemID: itemID, Rev: rev}
	if err := c.bus.Publish(ev); err != nil {
		c.logger.Warn().Err(err).Str("list_id", listID).Msg("fan-out publish failed")
	}
	return rev, nil
}

// ShareList performs the synchronous membership upsert and publishes a
// list_shared event so the target user's node(s) seed their own caches
// (spec.md §4.3).
func (c *Coordinator) ShareList(ctx context.Context, listID, userID string, role model.Role) error {
	if err := c.l3.AddMember(ctx, model.Membership{ListID: listID, UserID: userID, Role: role}); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	c.writer.EnqueueAddMember(model.Membership{ListID: listID, UserID: userID, Role: role})

	entry, err := c.SnapshotList(ctx, listID)
	if err != nil {
		return fmt.Errorf("snapshot for share: %w", err)
	}
	itemsJSON, err := json.Marshal(entry.VisibleItems())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	ev := pubsub.MutationEvent{
		Type:    pubsub.EventListShared,
		ListID:  listID,
		Item:    itemsJSON,
		Rev:     entry.Rev,
		UserID:  userID,
		Message: fmt.Sprintf("%q was shared with you", entry.ListName),
	}
	if err := c.bus.Publish(ev); err != nil {
		c.logger.Warn().Err(err).Str("list_id", listID).Msg("fan-out publish failed")
	}
	return nil
}

// DeleteList is the Open Question resolution from spec.md §9: soft-delete
// on the durable row, drop the list's L1 and L2 cache entries, and tell
// every node to drop its subscribers.
func (c *Coordinator) DeleteList(ctx context.Context, listID string) error {
	if err := c.l3.SoftDeleteList(ctx, listID); err != nil {
		return fmt.Errorf("soft delete list: %w", err)
	}
	c.writer.EnqueueSoftDeleteList(listID)

	c.l1.Drop(listID)
	if err := c.l2.Drop(ctx, listID); err != nil {
		c.logger.Warn().Err(err).Str("list_id", listID).Msg("drop L2 entry failed")
	}

	ev := pubsub.MutationEvent{Type: pubsub.EventListDeleted, ListID: listID}
	if err := c.bus.Publish(ev); err != nil {
		c.logger.Warn().Err(err).Str("list_id", listID).Msg("fan-out publish failed")
	}
	return nil
}

// applyToL1 writes item into the cached entry for listID, idempotently —
// if this process's own write races the pub/sub echo of the same
// mutation, whichever rev is not-lower wins (spec.md §4.3).
func (c *Coordinator) applyToL1(listID string, item model.TodoItem, rev model.Revision) {
	entry, ok := c.l1.Get(listID)
	if !ok {
		entry = model.ListCacheEntry{ListID: listID, Items: map[string]model.TodoItem{}}
	}
	if rev.Less(entry.Rev) {
		return
	}
	entry.Items[item.ItemID] = item
	entry.Rev = rev
	entry.UpdatedAt = item.UpdatedAt
	c.l1.Put(entry)
}

func (c *Coordinator) publishItem(eventType, listID string, item model.TodoItem, rev model.Revision) {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode item for publish")
		return
	}
	ev := pubsub.MutationEvent{Type: eventType, ListID: listID, Item: itemJSON, ItemID: item.ItemID, Rev: rev}
	if err := c.bus.Publish(ev); err != nil {
		c.logger.Warn().Err(err).Str("list_id", listID).Msg("fan-out publish failed")
	}
}
