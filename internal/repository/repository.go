// Package repository implements C1: typed CRUD against the durable
// database (spec.md §4.1). It is built on database/sql rather than pgx's
// native pool API so the implementation can be exercised in tests against
// github.com/DATA-DOG/go-sqlmock the way teranos-QNTX/ats/storage/sql_store.go
// tests its SQL layer — jackc/pgx/v5/stdlib registers the "pgx" database/sql
// driver for production use (internal/repository/postgres.go).
//
// Every write is an upsert keyed by primary identifier (list_id, item_id,
// or (list_id,user_id)) so that replaying the write-behind queue after a
// crash is always safe (spec.md §4.1, §9 "Retry / idempotence").
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/collabtodo/collabd/internal/model"
)

// ErrNotFound is returned by GetList when the row does not exist.
// Soft-deleted rows are still returned, with IsDeleted set.
var ErrNotFound = errors.New("not_found")

// Repository is the durable store contract C3/C6 depend on. A single
// implementation (Postgres) satisfies it in production; tests may swap in
// a sqlmock-backed Postgres instance or an in-memory fake.
type Repository interface {
	GetList(ctx context.Context, listID string) (model.TodoList, error)
	GetListsForUser(ctx context.Context, userID string) ([]model.TodoList, error)
	CreateList(ctx context.Context, ownerID, name string) (model.TodoList, error)
	SoftDeleteList(ctx context.Context, listID string) error

	GetItems(ctx context.Context, listID string) ([]model.TodoItem, error)
	AddItem(ctx context.Context, item model.TodoItem) error
	UpdateItem(ctx context.Context, item model.TodoItem) error
	SoftDeleteItem(ctx context.Context, listID, itemID string) error

	ListMembers(ctx context.Context, listID string) ([]model.Membership, error)
	AddMember(ctx context.Context, m model.Membership) error
}

// Timeout is the default context deadline repository callers should apply
// per call, matching spec.md §5's "shared-store operations carry a default
// timeout (e.g. 2s)" — the same budget applies to the durable store.
const Timeout = 2 * time.Second
