package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/collabtodo/collabd/internal/model"
)

func newTestRepo(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db, zerolog.Nop()), mock
}

func TestGetList_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT list_id, list_name, owner_id, is_deleted, created_at, updated_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	_, err := repo.GetList(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetList_Found(t *testing.T) {
	repo, mock := newTestRepo(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"list_id", "list_name", "owner_id", "is_deleted", "created_at", "updated_at"}).
		AddRow("L1", "Groceries", "u1", false, now, now)

	mock.ExpectQuery("SELECT list_id, list_name, owner_id, is_deleted, created_at, updated_at").
		WithArgs("L1").
		WillReturnRows(rows)

	l, err := repo.GetList(context.Background(), "L1")
	require.NoError(t, err)
	require.Equal(t, "Groceries", l.ListName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertItem_IsIdempotent(t *testing.T) {
	repo, mock := newTestRepo(t)

	item := model.TodoItem{
		ItemID: "I1", ListID: "L1", Name: "Milk",
		Status: model.StatusNotStarted, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO todo_items").
		WithArgs(item.ItemID, item.ListID, item.Name, item.Description, item.DueDate,
			item.Status, item.Done, item.MediaURL, item.IsDeleted, item.CreatedAt, item.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO todo_items").
		WithArgs(item.ItemID, item.ListID, item.Name, item.Description, item.DueDate,
			item.Status, item.Done, item.MediaURL, item.IsDeleted, item.CreatedAt, item.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddItem(context.Background(), item))
	require.NoError(t, repo.AddItem(context.Background(), item)) // replay from the write queue
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddMember_UpsertsRole(t *testing.T) {
	repo, mock := newTestRepo(t)

	m := model.Membership{ListID: "L1", UserID: "u2", Role: model.RoleEditor}
	mock.ExpectExec("INSERT INTO todo_list_members").
		WithArgs(m.ListID, m.UserID, m.Role).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.AddMember(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}
