package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

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

func (r *recordingAudit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func session(uid, role string) *auth.Session {
	return &auth.Session{
		State:           auth.StateAuthenticated,
		User:            &auth.Profile{ID: uid, DisplayName: strings.ToUpper(uid), Email: uid + "@example.com"},
		Role:            role,
		IsAuthenticated: true,
	}
}

type fixture struct {
	svc   *Service
	store docstore.Store
	blobs *storage.MemoryBlobStore
	audit *recordingAudit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: docstore.NewMemoryStore(),
		blobs: storage.NewMemoryBlobStore("bucket", "http://blobs"),
		audit: &recordingAudit{},
	}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc = NewService(Options{
		Store: f.store,
		Blobs: f.blobs,
		Audit: f.audit,
		Clock: func() time.Time { return now },
	})
	return f
}

func strp(s string) *string { return &s }
func i64(v int64) *int64    { return &v }

func (f *fixture) create(t *testing.T, owner *auth.Session, start, end int64) *Event {
	t.Helper()
	e, err := f.svc.Create(context.Background(), owner, Input{Title: strp("standup"), Start: i64(start), End: i64(end)})
	require.NoError(t, err)
	return e
}

func TestCreateSetsOwner(t *testing.T) {
	f := newFixture(t)
	e := f.create(t, session("alice", "editor"), 1000, 2000)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "alice", e.UserID)
	assert.Equal(t, "ALICE", e.UserDisplayName)
	assert.Equal(t, "alice@example.com", e.UserEmail)
	assert.Equal(t, "editor", e.UserRole)
	assert.NotZero(t, e.CreatedAt)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, session("alice", "user"), Input{Title: strp("x"), Start: i64(2000), End: i64(1000)})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.Create(ctx, session("alice", "user"), Input{Start: i64(1), End: i64(2)})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.svc.Create(ctx, auth.Unauthenticated(), Input{Title: strp("x")})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCanModify(t *testing.T) {
	e := &Event{UserID: "alice"}
	assert.True(t, CanModify(e, auth.Identity{UID: "alice"}, "user"))
	assert.True(t, CanModify(e, auth.Identity{UID: "bob"}, RoleSuperAdmin))
	assert.False(t, CanModify(e, auth.Identity{UID: "bob"}, "admin"))
	assert.False(t, CanModify(&Event{}, auth.Identity{}, "user"))
}

func TestNonOwnerCannotWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, session("alice", "user"), 1000, 2000)
	bob := session("bob", "admin")

	_, err := f.svc.Update(ctx, bob, e.ID, Input{Title: strp("hijacked")})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Move(ctx, bob, e.ID, 5000, 6000)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, bob, e.ID), ErrForbidden)

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "standup", stored.Title)
	assert.Equal(t, int64(1000), stored.Start)
	assert.Equal(t, 3, f.audit.count())
	assert.Equal(t, audit.EventTypeCalendarDenied, f.audit.events[0].EventType)
}

func TestSuperAdminMoveStampsModifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.create(t, session("alice", "user"), 1000, 2000)

	moved, err := f.svc.Move(ctx, session("root", RoleSuperAdmin), e.ID, 3000, 4000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), moved.Start)
	assert.Equal(t, int64(4000), moved.End)
	assert.Equal(t, "alice", moved.UserID)
	assert.Equal(t, "root", moved.LastModifiedBy)
	assert.Equal(t, "ROOT", moved.LastModifiedByName)
	assert.Equal(t, RoleSuperAdmin, moved.LastModifiedByRole)
	assert.NotZero(t, moved.UpdatedAt)

	_, err = f.svc.Move(ctx, session("alice", "user"), e.ID, 4000, 3000)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestListRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := session("alice", "user")
	late := f.create(t, alice, 5000, 6000)
	early := f.create(t, alice, 1000, 2000)

	all, err := f.svc.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early.ID, all[0].ID)

	window, err := f.svc.List(ctx, 4000, 7000)
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, late.ID, window[0].ID)
}

func TestOverlapsHalfOpenWindow(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
		want       bool
	}{
		{"ends at from", 1000, 2000, false},
		{"ends before from", 1000, 1500, false},
		{"spans from", 1000, 2500, true},
		{"instant at from", 2000, 2000, true},
		{"starts at to", 3000, 3500, false},
		{"inside", 2100, 2900, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{Start: tt.start, End: tt.end}
			assert.Equal(t, tt.want, e.Overlaps(2000, 3000))
		})
	}
	assert.True(t, (&Event{Start: 1000, End: 2000}).Overlaps(0, 0))
}

func TestLegacyOwnerField(t *testing.T) {
	var e Event
	require.NoError(t, json.Unmarshal([]byte(`{"title":"old","uid":"carol","start":1,"end":2}`), &e))
	assert.Equal(t, "carol", e.UserID)
	assert.True(t, CanModify(&e, auth.Identity{UID: "carol"}, "user"))
}

func TestAttachmentsAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := session("alice", "user")
	e := f.create(t, alice, 1000, 2000)

	updated, err := f.svc.AddAttachment(ctx, alice, e.ID, "agenda.pdf", "application/pdf", strings.NewReader("pdf"))
	require.NoError(t, err)
	require.Len(t, updated.Attachments, 1)
	att := updated.Attachments[0]
	assert.True(t, strings.HasPrefix(att.Path, "events/"+e.ID+"/"))
	assert.True(t, strings.HasSuffix(att.Path, "_agenda.pdf"))
	assert.Equal(t, int64(3), att.Size)

	_, err = f.svc.AddAttachment(ctx, session("bob", "user"), e.ID, "x.txt", "text/plain", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, []string{att.Path}, f.blobs.Paths())

	require.NoError(t, f.svc.Delete(ctx, alice, e.ID))
	assert.Empty(t, f.blobs.Paths())
	_, err = f.svc.Get(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newRouter(f *fixture, s *auth.Session) http.Handler {
	r := mux.NewRouter()
	NewHandlers(f.svc).RegisterRoutes(r)
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.ServeHTTP(w, req.WithContext(auth.WithSession(req.Context(), s)))
	})
}

func do(h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	alice := newRouter(f, session("alice", "user"))
	bob := newRouter(f, session("bob", "user"))

	w := do(alice, http.MethodPost, "/calendar/events", map[string]interface{}{"title": "review", "start": 100, "end": 200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(bob, http.MethodPut, "/calendar/events/"+created.ID+"/move", map[string]interface{}{"start": 300, "end": 400})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(alice, http.MethodPut, "/calendar/events/"+created.ID+"/move", map[string]interface{}{"start": 300, "end": 400})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(alice, http.MethodPatch, "/calendar/events/"+created.ID, map[string]interface{}{"end": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(bob, http.MethodGet, "/calendar/events?from=250&to=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = do(bob, http.MethodGet, "/calendar/events?from=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/calendar/events/"+created.ID+"/attachments", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	alice.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	w = do(alice, http.MethodDelete, "/calendar/events/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(alice, http.MethodGet, "/calendar/events/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
