// Package events implements C10: the tagged-union dispatch table for
// inbound event kinds (spec.md §4.11, §9 "avoid string-keyed reflection
// maps" design note). Every inbound frame has a `type` discriminator and a
// JSON object payload (spec.md §6); this package decodes that
// discriminator once and hands the typed payload to a kind-specific
// handler through a switch over Kind (Dispatcher.Dispatch), never
// reflection.
package events

import (
	"time"

	"github.com/collabtodo/collabd/internal/model"
)

// Kind names one inbound or outbound event type (spec.md §4.11, §6).
type Kind string

const (
	KindJoin       Kind = "join"
	KindJoinList   Kind = "join_list"
	KindCreateList Kind = "create_list"
	KindShareList  Kind = "share_list"
	KindAddItem    Kind = "add_item"
	KindUpdateItem Kind = "update_item"
	KindDeleteItem Kind = "delete_item"
	KindDeleteList Kind = "delete_list" // [NEW] Open Question resolution, spec.md §9

	KindListSnapshot      Kind = "list_snapshot"
	KindListCreated       Kind = "list_created"
	KindItemAdded         Kind = "item_added"
	KindItemUpdated       Kind = "item_updated"
	KindItemDeleted       Kind = "item_deleted"
	KindListShareSuccess  Kind = "list_share_success"
	KindListSharedWithYou Kind = "list_shared_with_you"
	KindListDeleted       Kind = "list_deleted" // [NEW]
	KindError             Kind = "error"
	KindAuthError         Kind = "auth_error"
	KindPermissionError   Kind = "permission_error"
	KindValidationError   Kind = "validation_error"
	KindConnected         Kind = "connected"
)

// Envelope is the wire shape of every frame: a discriminator plus a raw
// payload decoded only once the kind is known.
type Envelope struct {
	Type string `json:"type"`
}

// --- inbound payloads, one struct per handler row in spec.md §4.11 ---

type JoinListPayload struct {
	ListID string `json:"list_id" validate:"required"`
}

type CreateListPayload struct {
	ListName string `json:"list_name" validate:"required,min=1,max=200"`
}

type ShareListPayload struct {
	ListID string     `json:"list_id" validate:"required"`
	UserID string     `json:"user_id" validate:"required"`
	Role   model.Role `json:"role" validate:"required,oneof=owner editor viewer"`
}

type AddItemPayload struct {
	ListID      string `json:"list_id" validate:"required"`
	Name        string `json:"name" validate:"required,min=1,max=500"`
	Description string `json:"description" validate:"omitempty,max=5000"`
}

type UpdateItemPayload struct {
	ListID string `json:"list_id" validate:"required"`
	ItemID string `json:"item_id" validate:"required"`
	model.ItemPatch
	Rev *string `json:"rev,omitempty"`
}

type DeleteItemPayload struct {
	ListID string `json:"list_id" validate:"required"`
	ItemID string `json:"item_id" validate:"required"`
}

type DeleteListPayload struct {
	ListID string `json:"list_id" validate:"required"`
}

// --- outbound payloads, spec.md §6 "Wire payload shapes" ---

type ListSnapshot struct {
	Type     Kind                      `json:"type"`
	ListID   string                    `json:"list_id"`
	ListName string                    `json:"list_name"`
	Items    map[string]model.TodoItem `json:"items"`
	Rev      string                    `json:"rev"`
}

func NewListSnapshot(entry model.ListCacheEntry) ListSnapshot {
	return ListSnapshot{
		Type:     KindListSnapshot,
		ListID:   entry.ListID,
		ListName: entry.ListName,
		Items:    entry.VisibleItems(),
		Rev:      entry.Rev.String(),
	}
}

type ItemEvent struct {
	Type   Kind           `json:"type"`
	ListID string         `json:"list_id"`
	Item   model.TodoItem `json:"item"`
	Rev    string         `json:"rev"`
}

type ItemDeletedEvent struct {
	Type   Kind   `json:"type"`
	ListID string `json:"list_id"`
	ItemID string `json:"item_id"`
	Rev    string `json:"rev"`
}

type ListCreatedEvent struct {
	Type     Kind                      `json:"type"`
	ListID   string                    `json:"list_id"`
	ListName string                    `json:"list_name"`
	Items    map[string]model.TodoItem `json:"items"`
	Rev      string                    `json:"rev"`
}

type ListShareSuccessEvent struct {
	Type       Kind   `json:"type"`
	ListID     string `json:"list_id"`
	SharedWith string `json:"shared_with"`
	Message    string `json:"message"`
}

type ListSharedWithYouEvent struct {
	Type    Kind   `json:"type"`
	ListID  string `json:"list_id"`
	Message string `json:"message"`
}

type ListDeletedEvent struct {
	Type   Kind   `json:"type"`
	ListID string `json:"list_id"`
}

type ConnectedEvent struct {
	Type       Kind      `json:"type"`
	SessionID  string    `json:"session_id"`
	ServerTime time.Time `json:"server_time"`
}

// ErrorEvent is the shape for error/auth_error/permission_error/
// validation_error, spec.md §6/§7.
type ErrorEvent struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
	ErrKind string `json:"kind,omitempty"`
}

func NewError(kind Kind, errKind, message string) ErrorEvent {
	return ErrorEvent{Type: kind, Message: message, ErrKind: errKind}
}
