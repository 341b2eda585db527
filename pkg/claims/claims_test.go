package claims

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/rbac"
	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

type fakeSyncer struct {
	profiles map[string]*auth.Profile
	calls    []string
	err      error
}

func (f *fakeSyncer) GetProfile(_ context.Context, uid string) (*auth.Profile, error) {
	if p, ok := f.profiles[uid]; ok {
		return p, nil
	}
	return nil, auth.ErrProfileNotFound
}

func (f *fakeSyncer) SyncRole(_ context.Context, uid, roleID, displayName string) (*auth.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, uid+":"+roleID+":"+displayName)
	return &auth.Profile{ID: uid, Role: roleID, DisplayName: displayName}, nil
}

func caller(role string) *auth.Session {
	return &auth.Session{
		State:           auth.StateAuthenticated,
		User:            &auth.Profile{ID: "caller"},
		Role:            role,
		IsAuthenticated: true,
	}
}

func newFunction(t *testing.T) (*Function, *SQLStore, *fakeSyncer) {
	t.Helper()
	store := NewSQLStore(sqldb.OpenTestSQLite(t))
	syncer := &fakeSyncer{}
	fn := NewFunction(Options{
		Store: store,
		Roles: rbac.NewRegistry(rbac.DefaultRoles()),
		Users: syncer,
	})
	return fn, store, syncer
}

func TestSQLStore(t *testing.T) {
	store := NewSQLStore(sqldb.OpenTestSQLite(t))
	ctx := context.Background()

	claims, err := store.CustomClaims(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, claims)

	require.NoError(t, store.SetClaims(ctx, "u1", map[string]interface{}{"role": "editor"}, "Ada"))
	require.NoError(t, store.SetClaims(ctx, "u1", map[string]interface{}{"role": "manager", "beta": true}, ""))

	claims, err = store.CustomClaims(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "manager", claims["role"])
	assert.Equal(t, true, claims["beta"])
}

func TestSQLStore_Errors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	store := NewSQLStore(sqldb.Wrap(db, sqldb.Postgres))
	ctx := context.Background()

	mock.ExpectQuery("SELECT claims FROM auth_claims").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"claims"}).AddRow("{broken"))
	_, err = store.CustomClaims(ctx, "u1")
	assert.ErrorContains(t, err, "failed to decode claims of u1")

	mock.ExpectExec("INSERT INTO auth_claims").WillReturnError(errors.New("connection reset"))
	err = store.SetClaims(ctx, "u1", nil, "")
	assert.ErrorContains(t, err, "failed to set claims of u1")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUserRole(t *testing.T) {
	fn, store, syncer := newFunction(t)
	ctx := context.Background()

	resp, err := fn.SetUserRole(ctx, caller(rbac.RoleAdmin), Request{UserID: "u1", Role: rbac.RoleEditor, DisplayName: "Ada"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"u1:editor:Ada"}, syncer.calls)

	claims, err := store.CustomClaims(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, claims["role"])
}

func TestSetUserRole_Kinds(t *testing.T) {
	fn, _, syncer := newFunction(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		caller *auth.Session
		req    Request
		want   Kind
	}{
		{"anonymous", auth.Unauthenticated(), Request{UserID: "u1", Role: "user"}, KindUnauthenticated},
		{"editor caller", caller(rbac.RoleEditor), Request{UserID: "u1", Role: "user"}, KindPermissionDenied},
		{"missing user", caller(rbac.RoleDev), Request{Role: "user"}, KindInvalidArgument},
		{"missing role", caller(rbac.RoleDev), Request{UserID: "u1"}, KindInvalidArgument},
		{"unknown role", caller(rbac.RoleSuperAdmin), Request{UserID: "u1", Role: "pirate"}, KindInvalidArgument},
		{"admin grants super_admin", caller(rbac.RoleAdmin), Request{UserID: "u1", Role: rbac.RoleSuperAdmin}, KindPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fn.SetUserRole(ctx, tt.caller, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
	assert.Empty(t, syncer.calls)

	syncer.err = errors.New("profile store down")
	_, err := fn.SetUserRole(ctx, caller(rbac.RoleDev), Request{UserID: "u1", Role: "user"})
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestSetUserRole_SuperAdminTargets(t *testing.T) {
	fn, store, syncer := newFunction(t)
	ctx := context.Background()
	syncer.profiles = map[string]*auth.Profile{
		"root": {ID: "root", Role: rbac.RoleSuperAdmin},
	}
	require.NoError(t, store.SetClaims(ctx, "boss", map[string]interface{}{"role": rbac.RoleSuperAdmin}, ""))

	for _, uid := range []string{"root", "boss"} {
		for _, role := range []string{rbac.RoleAdmin, rbac.RoleDev} {
			_, err := fn.SetUserRole(ctx, caller(role), Request{UserID: uid, Role: rbac.RoleUser})
			require.Error(t, err, uid)
			assert.Equal(t, KindPermissionDenied, KindOf(err), uid)
		}
	}
	assert.Empty(t, syncer.calls)
	claims, err := store.CustomClaims(ctx, "boss")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleSuperAdmin, claims["role"])

	_, err = fn.SetUserRole(ctx, caller(rbac.RoleSuperAdmin), Request{UserID: "root", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, []string{"root:admin:"}, syncer.calls)
}

func TestHandler(t *testing.T) {
	fn, _, _ := newFunction(t)

	serve := func(s *auth.Session, body string) *httptest.ResponseRecorder {
		r := mux.NewRouter()
		NewHandlers(fn).RegisterRoutes(r)
		req := httptest.NewRequest(http.MethodPost, "/functions/setUserRole", bytes.NewBufferString(body))
		req = req.WithContext(auth.WithSession(req.Context(), s))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := serve(caller(rbac.RoleSuperAdmin), `{"userId":"u2","role":"manager"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ok Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ok))
	assert.True(t, ok.Success)

	w = serve(caller(rbac.RoleUser), `{"userId":"u2","role":"manager"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var failure struct {
		Error Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failure))
	assert.Equal(t, KindPermissionDenied, failure.Error.Kind)

	assert.Equal(t, http.StatusUnauthorized, serve(auth.Unauthenticated(), `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(caller(rbac.RoleAdmin), `not json`).Code)
}
