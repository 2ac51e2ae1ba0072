package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/rs/zerolog"

	"github.com/collabtodo/collabd/internal/model"
)

// Postgres implements Repository against the todo_lists / todo_items /
// todo_list_members tables sketched in spec.md §6.
type Postgres struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open connects to dsn and verifies it with a ping, matching the "durable
// store unreachable at boot" fatal-init-failure case in spec.md §6 (exit
// code 1).
func Open(dsn string, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping durable store: %w", err)
	}

	return &Postgres{db: db, logger: logger}, nil
}

// NewWithDB wraps an already-open *sql.DB — used by tests to inject a
// sqlmock database.
func NewWithDB(db *sql.DB, logger zerolog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) GetList(ctx context.Context, listID string) (model.TodoList, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT list_id, list_name, owner_id, is_deleted, created_at, updated_at
		FROM todo_lists WHERE list_id = $1`, listID)

	var l model.TodoList
	if err := row.Scan(&l.ListID, &l.ListName, &l.OwnerID, &l.IsDeleted, &l.CreatedAt, &l.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TodoList{}, ErrNotFound
		}
		return model.TodoList{}, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (p *Postgres) GetListsForUser(ctx context.Context, userID string) ([]model.TodoList, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT l.list_id, l.list_name, l.owner_id, l.is_deleted, l.created_at, l.updated_at
		FROM todo_lists l
		JOIN todo_list_members m ON m.list_id = l.list_id
		WHERE m.user_id = $1 AND l.is_deleted = false`, userID)
	if err != nil {
		return nil, fmt.Errorf("get lists for user: %w", err)
	}
	defer rows.Close()

	var out []model.TodoList
	for rows.Next() {
		var l model.TodoList
		if err := rows.Scan(&l.ListID, &l.ListName, &l.OwnerID, &l.IsDeleted, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateList(ctx context.Context, ownerID, name string) (model.TodoList, error) {
	now := time.Now().UTC()
	l := model.TodoList{
		ListID:    model.NewID(),
		ListName:  name,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO todo_lists (list_id, list_name, owner_id, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $4)`,
		l.ListID, l.ListName, l.OwnerID, l.CreatedAt)
	if err != nil {
		return model.TodoList{}, fmt.Errorf("create list: %w", err)
	}

	if err := p.AddMember(ctx, model.Membership{ListID: l.ListID, UserID: ownerID, Role: model.RoleOwner}); err != nil {
		return model.TodoList{}, fmt.Errorf("seed owner membership: %w", err)
	}

	return l, nil
}

func (p *Postgres) SoftDeleteList(ctx context.Context, listID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE todo_lists SET is_deleted = true, updated_at = now() WHERE list_id = $1`, listID)
	if err != nil {
		return fmt.Errorf("soft delete list: %w", err)
	}
	return nil
}

func (p *Postgres) GetItems(ctx context.Context, listID string) ([]model.TodoItem, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT item_id, list_id, name, description, due_date, status, done, media_url, is_deleted, created_at, updated_at
		FROM todo_items WHERE list_id = $1`, listID)
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}
	defer rows.Close()

	var out []model.TodoItem
	for rows.Next() {
		var it model.TodoItem
		if err := rows.Scan(&it.ItemID, &it.ListID, &it.Name, &it.Description, &it.DueDate,
			&it.Status, &it.Done, &it.MediaURL, &it.IsDeleted, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// AddItem and UpdateItem are both upserts keyed by item_id: the write-behind
// queue replays either kind of mutation as the same idempotent statement.
func (p *Postgres) AddItem(ctx context.Context, item model.TodoItem) error {
	return p.upsertItem(ctx, item)
}

func (p *Postgres) UpdateItem(ctx context.Context, item model.TodoItem) error {
	return p.upsertItem(ctx, item)
}

func (p *Postgres) upsertItem(ctx context.Context, item model.TodoItem) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO todo_items (item_id, list_id, name, description, due_date, status, done, media_url, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (item_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			due_date = EXCLUDED.due_date,
			status = EXCLUDED.status,
			done = EXCLUDED.done,
			media_url = EXCLUDED.media_url,
			is_deleted = EXCLUDED.is_deleted,
			updated_at = EXCLUDED.updated_at`,
		item.ItemID, item.ListID, item.Name, item.Description, item.DueDate,
		item.Status, item.Done, item.MediaURL, item.IsDeleted, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (p *Postgres) SoftDeleteItem(ctx context.Context, listID, itemID string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE todo_items SET is_deleted = true, updated_at = now()
		WHERE list_id = $1 AND item_id = $2`, listID, itemID)
	if err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	return nil
}

func (p *Postgres) ListMembers(ctx context.Context, listID string) ([]model.Membership, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT list_id, user_id, role FROM todo_list_members WHERE list_id = $1`, listID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []model.Membership
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ListID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) AddMember(ctx context.Context, m model.Membership) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO todo_list_members (list_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.ListID, m.UserID, m.Role)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}
