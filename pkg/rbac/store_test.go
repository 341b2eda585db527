package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

func TestSQLStore_SQLite(t *testing.T) {
	store := NewSQLStore(sqldb.OpenTestSQLite(t))
	ctx := context.Background()

	require.NoError(t, store.UpsertRole(ctx, Role{ID: "support", Name: "support", Label: "Support", Level: 2}))
	require.NoError(t, store.UpsertRole(ctx, Role{ID: "support", Name: "support", Label: "Helpdesk", Level: 2, Permissions: []string{"view_content"}}))

	roles, err := store.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "Helpdesk", roles[0].Label)
	assert.Equal(t, []string{"view_content"}, roles[0].Permissions)

	require.NoError(t, store.DeleteRole(ctx, "support"))
	require.NoError(t, store.DeleteRole(ctx, "support"))
	roles, err = store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Empty(t, roles)
}

func TestSQLStore_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(sqldb.Wrap(db, sqldb.Postgres))
	ctx := context.Background()

	mock.ExpectQuery("SELECT id, name, label, level, permissions FROM roles").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "label", "level", "permissions"}).
			AddRow("editor", "editor", "Editor", 3, "not-json"))
	_, err = store.ListRoles(ctx)
	assert.ErrorContains(t, err, "failed to decode permissions of role editor")

	mock.ExpectExec("INSERT INTO roles").WillReturnError(errors.New("read-only transaction"))
	err = store.UpsertRole(ctx, Role{ID: "editor"})
	assert.ErrorContains(t, err, "failed to upsert role editor")

	mock.ExpectExec("DELETE FROM roles").WithArgs("editor").WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, store.DeleteRole(ctx, "editor"))

	assert.NoError(t, mock.ExpectationsWereMet())
}
