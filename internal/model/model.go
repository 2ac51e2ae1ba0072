// Package model defines the domain types shared by every tier of the
// collaboration engine: the durable rows in Postgres, the cached list
// entries in Redis and in each process's L1 map, and the values carried on
// the WebSocket wire.
package model

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID mints a globally unique identifier for a list, item, or session —
// every ID type in this system uses the same v4 UUID scheme.
func NewID() string { return uuid.NewString() }

// ItemStatus is the lifecycle state of a TodoItem.
type ItemStatus string

const (
	StatusNotStarted ItemStatus = "not_started"
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
)

// Role is a user's membership level on a list.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Action is an operation a Role may or may not be permitted to perform.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionShare Action = "share"
)

// Revision is the store-clock-derived list revision. It is a float64
// internally (seconds + microsecond fraction, per the shared store's TIME
// command) but marshals to the wire as a decimal string so JavaScript
// clients never lose precision on a float64.
type Revision float64

func (r Revision) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatFloat(float64(r), 'f', -1, 64))
}

func (r *Revision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*r = Revision(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Revision(f)
	return nil
}

func (r Revision) String() string {
	return strconv.FormatFloat(float64(r), 'f', -1, 64)
}

// Less reports whether r is strictly behind other.
func (r Revision) Less(other Revision) bool { return float64(r) < float64(other) }

// TodoList is the parent entity a set of items belongs to.
type TodoList struct {
	ListID    string    `json:"list_id" db:"list_id"`
	ListName  string    `json:"list_name" db:"list_name"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	IsDeleted bool      `json:"is_deleted" db:"is_deleted"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TodoItem is one entry in a list. Deleted items are kept as tombstones
// (IsDeleted=true) so stale replicas can converge instead of silently
// dropping the key.
type TodoItem struct {
	ItemID      string     `json:"item_id" db:"item_id"`
	ListID      string     `json:"list_id" db:"list_id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	DueDate     *time.Time `json:"due_date,omitempty" db:"due_date"`
	Status      ItemStatus `json:"status" db:"status"`
	Done        bool       `json:"done" db:"done"`
	MediaURL    string     `json:"media_url,omitempty" db:"media_url"`
	IsDeleted   bool       `json:"is_deleted" db:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// ApplyCoupling enforces the patch-only half of the done/status coupling
// rule from spec.md §4.5: a patch that sets status=completed forces
// done=true; a patch that sets done=true forces status=completed. The third
// rule (done=false while the current status is completed demotes status to
// in_progress) depends on the current item and is applied by Merge. The
// handler must never duplicate this logic — it lives in this package only.
func ApplyCoupling(patch *ItemPatch) {
	if patch.Status != nil && *patch.Status == StatusCompleted {
		t := true
		patch.Done = &t
	}
	if patch.Done != nil && *patch.Done {
		s := StatusCompleted
		patch.Status = &s
	}
	if patch.Done != nil && !*patch.Done && patch.Status == nil {
		// Caller set done=false without naming a status explicitly; the
		// demotion below only fires if the *resulting* item was completed,
		// which Merge checks against the pre-patch item, not here.
		return
	}
}

// ItemPatch is the set of fields update_item may change. Nil fields are
// left untouched by Merge.
type ItemPatch struct {
	Name        *string     `json:"name,omitempty" validate:"omitempty,min=1,max=500"`
	Description *string     `json:"description,omitempty" validate:"omitempty,max=5000"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	Status      *ItemStatus `json:"status,omitempty" validate:"omitempty,oneof=not_started in_progress completed"`
	Done        *bool       `json:"done,omitempty"`
	MediaURL    *string     `json:"media_url,omitempty" validate:"omitempty,max=2000"`
}

// Merge applies a patch over the current item snapshot, field-level
// last-writer-wins, then re-applies the done/status coupling against the
// resulting item (not just the patch) so that done=false against a
// currently-completed item correctly demotes status.
func Merge(current TodoItem, patch ItemPatch) TodoItem {
	ApplyCoupling(&patch)

	next := current
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.DueDate != nil {
		next.DueDate = patch.DueDate
	}
	if patch.MediaURL != nil {
		next.MediaURL = *patch.MediaURL
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.Done != nil {
		next.Done = *patch.Done
	}

	if patch.Done != nil && !*patch.Done && next.Status == StatusCompleted {
		next.Status = StatusInProgress
	}
	next.Done = next.Status == StatusCompleted

	return next
}

// Membership is a (list_id, user_id) role grant.
type Membership struct {
	ListID string `json:"list_id" db:"list_id"`
	UserID string `json:"user_id" db:"user_id"`
	Role   Role   `json:"role" db:"role"`
}

// ListCacheEntry is the L1/L2 representation of a list: its name, its
// items keyed by item_id (tombstones included), and the revision the store
// clock assigned on the last accepted write.
type ListCacheEntry struct {
	ListID    string              `json:"list_id"`
	ListName  string              `json:"list_name"`
	Items     map[string]TodoItem `json:"items"`
	Rev       Revision            `json:"rev"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Clone returns a deep-enough copy so callers can mutate the result without
// racing the cache's own copy (items is a map; the items themselves are
// value types).
func (e ListCacheEntry) Clone() ListCacheEntry {
	items := make(map[string]TodoItem, len(e.Items))
	for k, v := range e.Items {
		items[k] = v
	}
	return ListCacheEntry{
		ListID:    e.ListID,
		ListName:  e.ListName,
		Items:     items,
		Rev:       e.Rev,
		UpdatedAt: e.UpdatedAt,
	}
}

// VisibleItems returns every non-tombstone item, satisfying the snapshot
// completeness property (spec.md §8 property 7): no extra entries, no
// missing live entries.
func (e ListCacheEntry) VisibleItems() map[string]TodoItem {
	out := make(map[string]TodoItem, len(e.Items))
	for id, item := range e.Items {
		if !item.IsDeleted {
			out[id] = item
		}
	}
	return out
}
