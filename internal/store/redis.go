// Package store implements C2 (atomic mutation scripts) and the L2 shared
// store described in spec.md §4.2/§6. It is built on
// github.com/redis/go-redis/v9 (the dependency the retrieval pack's
// evalgo-org-eve manifest pins for the same role) with
// github.com/alicebob/miniredis/v2 standing in for Redis in tests, the way
// adred-codev-ws_poc/pkg/nats.Client wraps its connection: one struct, a
// handful of typed methods, scripts cached by SHA and invoked with EvalSha.
//
// The fan-out publish is deliberately not part of these scripts — see
// internal/pubsub for why the cross-node bus is NATS rather than Redis
// Pub/Sub, and the atomicity trade-off that decision accepts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/collabtodo/collabd/internal/model"
)

// ErrScriptNotFound mirrors a missing list_key or item_id inside a script,
// matching the "fails if list_key or item_id absent" rule in spec.md §4.2.
var ErrScriptNotFound = errors.New("not_found")

// ListKey is the shared store key for a list's cached hash, spec.md §6.
func ListKey(listID string) string { return fmt.Sprintf("todo:state:%s", listID) }

// Store is the shared (L2) store: a cached hash per list plus three
// preloaded Lua scripts that mutate it atomically.
type Store struct {
	rdb *redis.Client

	addItem    *redis.Script
	updateItem *redis.Script
	deleteItem *redis.Script
}

// Open connects to url (a redis:// URL) and preloads the mutation scripts.
func Open(ctx context.Context, url string) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse shared store url: %w", err)
	}
	return NewWithClient(ctx, redis.NewClient(opt))
}

// NewWithClient wraps an already-constructed client — used by tests against
// a miniredis instance and by Open above.
func NewWithClient(ctx context.Context, rdb *redis.Client) (*Store, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping shared store: %w", err)
	}

	s := &Store{
		rdb:        rdb,
		addItem:    redis.NewScript(addItemScript),
		updateItem: redis.NewScript(updateItemScript),
		deleteItem: redis.NewScript(deleteItemScript),
	}

	for _, sc := range []*redis.Script{s.addItem, s.updateItem, s.deleteItem} {
		if err := sc.Load(ctx, rdb).Err(); err != nil {
			return nil, fmt.Errorf("load script: %w", err)
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

// Get loads the cached entry for listID from L2, or reports it absent.
func (s *Store) Get(ctx context.Context, listID string) (model.ListCacheEntry, bool, error) {
	res, err := s.rdb.HGetAll(ctx, ListKey(listID)).Result()
	if err != nil {
		return model.ListCacheEntry{}, false, fmt.Errorf("get shared entry: %w", err)
	}
	if len(res) == 0 {
		return model.ListCacheEntry{}, false, nil
	}

	items := make(map[string]model.TodoItem)
	if raw, ok := res["items"]; ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return model.ListCacheEntry{}, false, fmt.Errorf("decode items: %w", err)
		}
	}

	rev, err := parseRev(res["rev"])
	if err != nil {
		return model.ListCacheEntry{}, false, err
	}

	return model.ListCacheEntry{
		ListID:   listID,
		ListName: res["list_name"],
		Items:    items,
		Rev:      rev,
	}, true, nil
}

// Seed installs entry in L2 verbatim, used by the coordinator's
// read-through rebuild path and by create_list.
func (s *Store) Seed(ctx context.Context, entry model.ListCacheEntry) error {
	itemsJSON, err := json.Marshal(entry.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}
	err = s.rdb.HSet(ctx, ListKey(entry.ListID),
		"list_name", entry.ListName,
		"items", itemsJSON,
		"rev", entry.Rev.String(),
	).Err()
	if err != nil {
		return fmt.Errorf("seed shared entry: %w", err)
	}
	return nil
}

// Drop removes a list's L2 entry entirely, used by delete_list.
func (s *Store) Drop(ctx context.Context, listID string) error {
	if err := s.rdb.Del(ctx, ListKey(listID)).Err(); err != nil {
		return fmt.Errorf("drop shared entry: %w", err)
	}
	return nil
}

// AddItem runs the add_item script: atomically stamps a fresh rev and
// stores item under item_id. The list key is created if absent.
func (s *Store) AddItem(ctx context.Context, listID string, item model.TodoItem) (model.Revision, error) {
	return s.runItemScript(ctx, s.addItem, listID, item.ItemID, item)
}

// UpdateItem runs the update_item script against an already-merged item.
// Fails with ErrScriptNotFound if listID or item.ItemID is absent.
func (s *Store) UpdateItem(ctx context.Context, listID string, item model.TodoItem) (model.Revision, error) {
	return s.runItemScript(ctx, s.updateItem, listID, item.ItemID, item)
}

// DeleteItem runs the delete_item script, replacing the item with a
// tombstone rather than removing the key. Fails with ErrScriptNotFound if
// listID or itemID is absent.
func (s *Store) DeleteItem(ctx context.Context, listID, itemID string) (model.Revision, error) {
	tombstone := model.TodoItem{ItemID: itemID, ListID: listID, IsDeleted: true, UpdatedAt: time.Now().UTC()}
	return s.runItemScript(ctx, s.deleteItem, listID, itemID, tombstone)
}

func (s *Store) runItemScript(ctx context.Context, script *redis.Script, listID, itemID string, item model.TodoItem) (model.Revision, error) {
	itemJSON, err := json.Marshal(item)
	if err != nil {
		return 0, fmt.Errorf("encode item: %w", err)
	}

	res, err := script.Run(ctx, s.rdb, []string{ListKey(listID)}, itemID, itemJSON).Result()
	if err != nil {
		if strings.Contains(err.Error(), scriptErrNotFound) {
			return 0, ErrScriptNotFound
		}
		return 0, fmt.Errorf("run script: %w", err)
	}

	revStr, ok := res.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected script result type %T", res)
	}
	return parseRev(revStr)
}

func parseRev(s string) (model.Revision, error) {
	if s == "" {
		return 0, nil
	}
	var r model.Revision
	if err := r.UnmarshalJSON([]byte(`"` + s + `"`)); err != nil {
		return 0, fmt.Errorf("parse rev: %w", err)
	}
	return r, nil
}

const scriptErrNotFound = "not_found"
