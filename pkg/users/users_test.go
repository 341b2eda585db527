package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/claims"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/rbac"
	"github.com/platinummonkey/adminboard/pkg/storage"
	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

// flakyBlobs fails deletes under failPrefix
type flakyBlobs struct {
	*storage.MemoryBlobStore
	failPrefix string
}

func (f *flakyBlobs) Delete(ctx context.Context, p string) error {
	if f.failPrefix != "" && strings.HasPrefix(p, f.failPrefix) {
		return errors.New("backend unavailable")
	}
	return f.MemoryBlobStore.Delete(ctx, p)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}
func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.EventType
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type countingCache struct{ invalidated []string }

func (c *countingCache) Invalidate(uid string) { c.invalidated = append(c.invalidated, uid) }

type fixture struct {
	svc     *Service
	blobs   *flakyBlobs
	audit   *recordingAudit
	cache   *countingCache
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		blobs:   &flakyBlobs{MemoryBlobStore: storage.NewMemoryBlobStore("bucket", "http://blobs")},
		audit:   &recordingAudit{},
		cache:   &countingCache{},
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewService(Options{
		Store:    docstore.NewMemoryStore(),
		Registry: rbac.NewRegistry(rbac.DefaultRoles()),
		Blobs:    f.blobs,
		Audit:    f.audit,
		Cache:    f.cache,
		Metrics:  f.metrics,
	})
	return f
}

func session(uid, role string, perms ...string) *auth.Session {
	return &auth.Session{
		State:           auth.StateAuthenticated,
		User:            &auth.Profile{ID: uid},
		Role:            role,
		Permissions:     perms,
		IsAuthenticated: true,
	}
}

var (
	superAdmin = session("root", rbac.RoleSuperAdmin, rbac.PermissionAll)
	admin      = session("adm", rbac.RoleAdmin, rbac.PermManageUsers)
	editor     = session("ed", rbac.RoleEditor, rbac.PermManageContent)
)

func seed(t *testing.T, f *fixture, uid string) *auth.Profile {
	t.Helper()
	p, err := f.svc.EnsureProfile(context.Background(), &auth.Claims{UID: uid, Email: uid + "@example.com", Name: uid})
	require.NoError(t, err)
	return p
}

func TestEnsureProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)

	p := seed(t, f, "u1")
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, rbac.RoleUser, p.Role)
	assert.Equal(t, 1, p.RoleLevel)
	assert.Equal(t, []string{rbac.PermViewContent}, p.Permissions)
	assert.Equal(t, auth.StatusPending, p.Status)

	again, err := f.svc.EnsureProfile(ctx, &auth.Claims{UID: "u1", Name: "changed"})
	require.NoError(t, err)
	assert.Equal(t, "u1", again.DisplayName)
}

func TestEnsureProfile_DefaultStatus(t *testing.T) {
	svc := NewService(Options{
		Store:         docstore.NewMemoryStore(),
		Registry:      rbac.NewRegistry(rbac.DefaultRoles()),
		DefaultStatus: auth.StatusActive,
	})
	p, err := svc.EnsureProfile(context.Background(), &auth.Claims{UID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, auth.StatusActive, p.Status)
}

func TestAssignRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "u1")

	p, err := f.svc.AssignRole(ctx, admin, "u1", rbac.RoleManager)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleManager, p.Role)
	assert.Equal(t, 4, p.RoleLevel)
	assert.Contains(t, p.Permissions, rbac.PermManageInvoices)
	assert.Contains(t, f.cache.invalidated, "u1")

	_, err = f.svc.AssignRole(ctx, editor, "u1", rbac.RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AssignRole(ctx, admin, "u1", rbac.RoleSuperAdmin)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.AssignRole(ctx, admin, "u1", "ghost")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)

	_, err = f.svc.AssignRole(ctx, admin, "nobody", rbac.RoleEditor)
	assert.ErrorIs(t, err, ErrNotFound)

	p, err = f.svc.AssignRole(ctx, superAdmin, "u1", rbac.RoleSuperAdmin)
	require.NoError(t, err)
	assert.Equal(t, []string{rbac.PermissionAll}, p.Permissions)

	_, err = f.svc.AssignRole(ctx, admin, "u1", rbac.RoleUser)
	assert.ErrorIs(t, err, ErrForbidden, "admins cannot demote a super_admin")

	assert.Contains(t, f.audit.types(), audit.EventTypeUserRoleChange)
	assert.Contains(t, f.audit.types(), audit.EventTypeAccessDenied)
}

func TestAssignRole_RewritesStoredClaim(t *testing.T) {
	ctx := context.Background()
	registry := rbac.NewRegistry(rbac.DefaultRoles())
	claimStore := claims.NewSQLStore(sqldb.OpenTestSQLite(t))
	svc := NewService(Options{
		Store:    docstore.NewMemoryStore(),
		Registry: registry,
		Claims:   claimStore,
	})
	resolver := auth.NewResolver(auth.ResolverOptions{Roles: registry, Profiles: svc, Claims: claimStore})
	fn := claims.NewFunction(claims.Options{Store: claimStore, Roles: registry, Users: svc})

	_, err := fn.SetUserRole(ctx, superAdmin, claims.Request{UserID: "u1", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	s, err := resolver.ResolveClaims(ctx, &auth.Claims{UID: "u1"})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleAdmin, s.Role)

	p, err := svc.AssignRole(ctx, superAdmin, "u1", rbac.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, p.Role)

	s, err = resolver.ResolveClaims(ctx, &auth.Claims{UID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleUser, s.Role)
	assert.False(t, s.HasPermission(rbac.PermManageUsers))
}

func TestAssignRole_ClaimSuperAdminIsProtected(t *testing.T) {
	ctx := context.Background()
	claimStore := claims.NewSQLStore(sqldb.OpenTestSQLite(t))
	svc := NewService(Options{
		Store:    docstore.NewMemoryStore(),
		Registry: rbac.NewRegistry(rbac.DefaultRoles()),
		Claims:   claimStore,
	})
	_, err := svc.EnsureProfile(ctx, &auth.Claims{UID: "boss"})
	require.NoError(t, err)
	require.NoError(t, claimStore.SetClaims(ctx, "boss", map[string]interface{}{"role": rbac.RoleSuperAdmin}, ""))

	_, err = svc.AssignRole(ctx, admin, "boss", rbac.RoleUser)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.DeleteUser(ctx, admin, "boss")
	assert.ErrorIs(t, err, ErrForbidden)

	stored, err := claimStore.CustomClaims(ctx, "boss")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleSuperAdmin, stored["role"])
}

func TestSyncRole_CreatesMissingProfile(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.SyncRole(context.Background(), "new", rbac.RoleEditor, "New Person")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleEditor, p.Role)
	assert.Equal(t, "New Person", p.DisplayName)

	_, err = f.svc.SyncRole(context.Background(), "new", "ghost", "")
	assert.ErrorIs(t, err, rbac.ErrRoleNotFound)
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "u1")

	p, err := f.svc.SetStatus(ctx, admin, "u1", auth.StatusBanned)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusBanned, p.Status)

	_, err = f.svc.SetStatus(ctx, admin, "u1", "frozen")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.SetStatus(ctx, editor, "u1", auth.StatusActive)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "u1")
	seed(t, f, "u2")

	bio := "hello"
	self := session("u1", rbac.RoleUser, rbac.PermViewContent)
	p, err := f.svc.UpdateProfile(ctx, self, "u1", ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "hello", p.Bio)
	assert.Equal(t, "u1", p.DisplayName)
	assert.Equal(t, rbac.RoleUser, p.Role)

	_, err = f.svc.UpdateProfile(ctx, self, "u2", ProfileUpdate{Bio: &bio})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.UpdateProfile(ctx, admin, "u2", ProfileUpdate{Bio: &bio})
	assert.NoError(t, err)
}

func TestUploadImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "u1")
	self := session("u1", rbac.RoleUser)

	p, err := f.svc.UploadImage(ctx, self, "u1", KindAvatar, "me.PNG", "image/png", strings.NewReader("png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p.AvatarURL, "http://blobs/bucket/avatars/u1/"), p.AvatarURL)
	assert.True(t, strings.HasSuffix(p.AvatarURL, ".png"))

	p, err = f.svc.UploadImage(ctx, self, "u1", KindCover, "wide.jpg", "image/jpeg", strings.NewReader("jpg"))
	require.NoError(t, err)
	assert.NotEmpty(t, p.CoverURL)
	assert.NotEmpty(t, p.AvatarURL)

	_, err = f.svc.UploadImage(ctx, self, "u1", "banners", "x.jpg", "", strings.NewReader(""))
	assert.Error(t, err)
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "u1")

	for _, p := range []string{"avatars/u1/a.png", "avatars/u1/b.png", "covers/u1/c.jpg", "avatars/u10/keep.png"} {
		_, err := f.blobs.Put(ctx, p, strings.NewReader("x"), "image/png")
		require.NoError(t, err)
	}

	res, err := f.svc.DeleteUser(ctx, admin, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.BlobsDeleted)
	assert.Zero(t, res.BlobFailures)
	assert.True(t, res.AuthAccountRetained)
	assert.Equal(t, []string{"avatars/u10/keep.png"}, f.blobs.Paths())

	_, err = f.svc.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
	assert.Contains(t, f.audit.types(), audit.EventTypeUserDelete)

	_, err = f.svc.DeleteUser(ctx, admin, "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUser_BlobFailuresAreNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "u1")
	_, err := f.blobs.Put(ctx, "covers/u1/c.jpg", strings.NewReader("x"), "image/jpeg")
	require.NoError(t, err)
	f.blobs.failPrefix = "covers/"

	res, err := f.svc.DeleteUser(ctx, admin, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.BlobFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.BlobCleanupFailuresTotal.WithLabelValues("user")))

	_, err = f.svc.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, auth.ErrProfileNotFound)
}

func TestDeleteUser_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "boss")
	_, err := f.svc.AssignRole(ctx, superAdmin, "boss", rbac.RoleSuperAdmin)
	require.NoError(t, err)

	_, err = f.svc.DeleteUser(ctx, editor, "boss")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.DeleteUser(ctx, admin, "boss")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.DeleteUser(ctx, superAdmin, "boss")
	assert.NoError(t, err)
}

func TestListByRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f, "a")
	seed(t, f, "b")
	_, err := f.svc.AssignRole(ctx, admin, "b", rbac.RoleEditor)
	require.NoError(t, err)

	editors, err := f.svc.ListByRole(ctx, rbac.RoleEditor)
	require.NoError(t, err)
	require.Len(t, editors, 1)
	assert.Equal(t, "b", editors[0].ID)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func router(f *fixture, s *auth.Session) *mux.Router {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if s != nil {
				req = req.WithContext(auth.WithSession(req.Context(), s))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandlers(f.svc).RegisterRoutes(r)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	seed(t, f, "u1")

	assert.Equal(t, http.StatusUnauthorized, serve(router(f, nil), http.MethodGet, "/me", "").Code)

	me := session("u9", rbac.RoleUser, rbac.PermViewContent)
	me.User.Email = "u9@example.com"
	rec := serve(router(f, me), http.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got auth.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "u9@example.com", got.User.Email)
	assert.Equal(t, auth.StatusPending, got.User.Status)

	rec = serve(router(f, me), http.MethodPatch, "/me", `{"city":"Oslo"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Oslo")

	assert.Equal(t, http.StatusForbidden, serve(router(f, me), http.MethodGet, "/users", "").Code)
	assert.Equal(t, http.StatusForbidden, serve(router(f, me), http.MethodGet, "/users/u1", "").Code)

	rec = serve(router(f, admin), http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"count":2`)

	rec = serve(router(f, admin), http.MethodPut, "/users/u1/role", `{"role":"editor"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"role":"editor"`)

	assert.Equal(t, http.StatusBadRequest, serve(router(f, admin), http.MethodPut, "/users/u1/role", `{"role":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router(f, admin), http.MethodPut, "/users/u1/role", `{"role":"ghost"}`).Code)
	assert.Equal(t, http.StatusForbidden, serve(router(f, admin), http.MethodPut, "/users/u1/role", `{"role":"super_admin"}`).Code)

	assert.Equal(t, http.StatusOK, serve(router(f, admin), http.MethodPut, "/users/u1/status", `{"status":"active"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router(f, admin), http.MethodPut, "/users/u1/status", `{"status":"gone"}`).Code)

	assert.Equal(t, http.StatusOK, serve(router(f, admin), http.MethodDelete, "/users/u1", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(router(f, admin), http.MethodGet, "/users/u1", "").Code)
}

func TestHandlers_Upload(t *testing.T) {
	f := newFixture(t)
	seed(t, f, "u1")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "face.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("png-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/users/u1/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router(f, session("u1", rbac.RoleUser)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.blobs.Paths(), 1)
	assert.True(t, strings.HasPrefix(f.blobs.Paths()[0], "avatars/u1/"))

	rec = serve(router(f, session("u1", rbac.RoleUser)), http.MethodPost, "/users/u1/cover", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
