package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

type recordingAudit struct {
	events []*audit.Event
}

func (r *recordingAudit) Log(ctx context.Context, e *audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func sessionFor(role string) *auth.Session {
	return &auth.Session{
		State:           auth.StateAuthenticated,
		User:            &auth.Profile{ID: "uid-" + role, Role: role},
		Role:            role,
		IsAuthenticated: true,
	}
}

func TestAdmin_RequiresSuperAdmin(t *testing.T) {
	rec := &recordingAudit{}
	a := NewAdmin(NewRegistry(DefaultRoles()), nil, rec, nil)
	ctx := context.Background()

	for _, caller := range []*auth.Session{nil, auth.Unauthenticated(), sessionFor(RoleAdmin), sessionFor(RoleDev)} {
		_, err := a.CreateRole(ctx, caller, Role{ID: "support", Level: 2})
		assert.ErrorIs(t, err, ErrForbidden)
		_, err = a.UpdateRolePermissions(ctx, caller, RoleEditor, nil)
		assert.ErrorIs(t, err, ErrForbidden)
		assert.ErrorIs(t, a.DeleteRole(ctx, caller, RoleEditor), ErrForbidden)
	}
	_, ok := a.Registry().Get("support")
	assert.False(t, ok)
	require.NotEmpty(t, rec.events)
	assert.Equal(t, audit.EventTypeAccessDenied, rec.events[0].EventType)
}

func TestAdmin_ProtectedRoles(t *testing.T) {
	a := NewAdmin(NewRegistry(DefaultRoles()), nil, nil, nil)
	ctx := context.Background()

	for _, caller := range []*auth.Session{sessionFor(RoleSuperAdmin), sessionFor(RoleAdmin), nil} {
		assert.Error(t, a.DeleteRole(ctx, caller, RoleSuperAdmin))
		assert.Error(t, a.DeleteRole(ctx, caller, RoleUser))
		_, err := a.UpdateRolePermissions(ctx, caller, RoleSuperAdmin, []string{PermViewContent})
		assert.Error(t, err)
	}

	su := sessionFor(RoleSuperAdmin)
	assert.ErrorIs(t, a.DeleteRole(ctx, su, RoleSuperAdmin), ErrProtectedRole)
	assert.ErrorIs(t, a.DeleteRole(ctx, su, RoleUser), ErrProtectedRole)
	_, err := a.UpdateRolePermissions(ctx, su, RoleSuperAdmin, nil)
	assert.ErrorIs(t, err, ErrProtectedRole)

	_, ok := a.Registry().Get(RoleSuperAdmin)
	assert.True(t, ok)
	assert.Equal(t, []string{PermissionAll}, a.Registry().GetPermissionsByRole(RoleSuperAdmin))
}

func TestAdmin_CRUD(t *testing.T) {
	rec := &recordingAudit{}
	a := NewAdmin(NewRegistry(DefaultRoles()), nil, rec, nil)
	ctx := context.Background()
	su := sessionFor(RoleSuperAdmin)

	created, err := a.CreateRole(ctx, su, Role{ID: "support", Level: 2, Permissions: []string{"view_content", "view_content", ""}})
	require.NoError(t, err)
	assert.Equal(t, "support", created.Label)
	assert.Equal(t, []string{"view_content"}, created.Permissions)

	_, err = a.CreateRole(ctx, su, Role{ID: "support", Level: 2})
	assert.ErrorIs(t, err, ErrRoleExists)

	_, err = a.CreateRole(ctx, su, Role{ID: "Bad Id", Level: 2})
	assert.ErrorIs(t, err, ErrInvalidRole)

	updated, err := a.UpdateRolePermissions(ctx, su, "support", []string{PermManageCustomers})
	require.NoError(t, err)
	assert.Equal(t, []string{PermManageCustomers}, updated.Permissions)
	assert.True(t, a.Registry().HasRolePermission("support", PermManageCustomers))

	_, err = a.UpdateRolePermissions(ctx, su, "ghost", nil)
	assert.ErrorIs(t, err, ErrRoleNotFound)

	require.NoError(t, a.DeleteRole(ctx, su, "support"))
	assert.ErrorIs(t, a.DeleteRole(ctx, su, "support"), ErrRoleNotFound)

	var types []audit.EventType
	for _, e := range rec.events {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []audit.EventType{audit.EventTypeRoleCreate, audit.EventTypeRoleUpdate, audit.EventTypeRoleDelete}, types)
	assert.Equal(t, "uid-super_admin", rec.events[0].Actor.UID)
}

func TestAdmin_PermissionNoOps(t *testing.T) {
	a := NewAdmin(NewRegistry(DefaultRoles()), nil, nil, nil)
	before := a.Registry().Version()

	assert.NoError(t, a.CreatePermission(context.Background(), nil, Permission{Code: "new_perm"}))
	assert.NoError(t, a.UpdatePermission(context.Background(), sessionFor(RoleUser), Permission{Code: PermViewContent}))
	assert.Equal(t, before, a.Registry().Version())
}

type failingStore struct{ RoleStore }

func (failingStore) UpsertRole(context.Context, Role) error { return errors.New("db down") }

func TestAdmin_StoreFailureLeavesRegistryUntouched(t *testing.T) {
	a := NewAdmin(NewRegistry(DefaultRoles()), failingStore{}, nil, nil)
	_, err := a.CreateRole(context.Background(), sessionFor(RoleSuperAdmin), Role{ID: "support", Level: 2})
	assert.Error(t, err)
	_, ok := a.Registry().Get("support")
	assert.False(t, ok)
}

func TestAdmin_PersistAndReload(t *testing.T) {
	db := sqldb.OpenTestSQLite(t)
	store := NewSQLStore(db)
	ctx := context.Background()

	first := NewAdmin(NewRegistry(DefaultRoles()), store, nil, nil)
	require.NoError(t, first.Reload(ctx), "empty store is seeded")
	stored, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, len(DefaultRoles()))

	_, err = first.CreateRole(ctx, sessionFor(RoleSuperAdmin), Role{ID: "support", Label: "Support", Level: 2, Permissions: []string{"view_content"}})
	require.NoError(t, err)

	// a second instance picks the change up on reload
	second := NewAdmin(NewRegistry(DefaultRoles()), store, nil, nil)
	_, ok := second.Registry().Get("support")
	require.False(t, ok)
	require.NoError(t, second.Reload(ctx))
	role, ok := second.Registry().Get("support")
	require.True(t, ok)
	assert.Equal(t, "Support", role.Label)
	assert.Equal(t, []string{"view_content"}, role.Permissions)

	v := second.Registry().Version()
	require.NoError(t, second.Reload(ctx))
	assert.Equal(t, v, second.Registry().Version(), "unchanged store does not bump the version")
}
