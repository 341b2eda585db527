package docstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/realtime"
	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLStore(sqldb.OpenTestSQLite(t), nil),
	}
}

func raw(s string) json.RawMessage { return json.RawMessage(s) }

func TestStores(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := store.Create(ctx, CollectionCustomers, "a", raw(`{"name":"Ada","city":"Paris"}`))
			require.NoError(t, err)
			assert.Equal(t, int64(1), a.Version)

			_, err = store.Create(ctx, CollectionCustomers, "a", raw(`{}`))
			assert.ErrorIs(t, err, ErrConflict)

			_, err = store.Create(ctx, CollectionCustomers, "b", raw(`{"name":"Bob","city":"Lyon"}`))
			require.NoError(t, err)
			_, err = store.Create(ctx, CollectionCustomers, "c", raw(`{"name":"Cy","city":"Paris"}`))
			require.NoError(t, err)

			_, err = store.Create(ctx, CollectionCustomers, "bad", raw(`[1,2]`))
			assert.ErrorIs(t, err, ErrInvalid)

			gen, err := store.Create(ctx, CollectionInvoices, "", raw(`{"total":3}`))
			require.NoError(t, err)
			assert.NotEmpty(t, gen.ID)

			got, err := store.Get(ctx, CollectionCustomers, "a")
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"Ada","city":"Paris"}`, string(got.Data))

			_, err = store.Get(ctx, CollectionInvoices, "a")
			assert.ErrorIs(t, err, ErrNotFound)

			list, err := store.List(ctx, CollectionCustomers)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"a", "b", "c"}, ids(list))

			paris, err := store.Search(ctx, CollectionCustomers, "city", "Paris")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, ids(paris))

			none, err := store.Search(ctx, CollectionCustomers, "missing", "Paris")
			require.NoError(t, err)
			assert.Empty(t, none)

			updated, err := store.Put(ctx, CollectionCustomers, "a", raw(`{"name":"Ada L"}`), 1)
			require.NoError(t, err)
			assert.Equal(t, int64(2), updated.Version)

			_, err = store.Put(ctx, CollectionCustomers, "a", raw(`{"name":"stale"}`), 1)
			assert.ErrorIs(t, err, ErrConflict)

			_, err = store.Put(ctx, CollectionCustomers, "zz", raw(`{}`), 4)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Delete(ctx, CollectionCustomers, "a"))
			assert.ErrorIs(t, store.Delete(ctx, CollectionCustomers, "a"), ErrNotFound)
		})
	}
}

func ids(docs []*Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func TestMerge(t *testing.T) {
	out, err := Merge(raw(`{"a":1,"b":"x","c":true}`), raw(`{"b":"y","c":null,"d":[1],"id":"nope"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":"y","d":[1]}`, string(out))

	_, err = Merge(raw(`{}`), raw(`"str"`))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEncode(t *testing.T) {
	_, err := Encode([]int{1})
	assert.ErrorIs(t, err, ErrInvalid)

	out, err := Encode(map[string]int{"n": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(out))
}

// conflictingStore fails the first n puts with ErrConflict
type conflictingStore struct {
	Store
	n int
}

func (s *conflictingStore) Put(ctx context.Context, c, id string, data json.RawMessage, v int64) (*Document, error) {
	if s.n > 0 {
		s.n--
		return nil, ErrConflict
	}
	return s.Store.Put(ctx, c, id, data, v)
}

func TestUpdateRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	_, err := mem.Create(ctx, CollectionPosts, "p", raw(`{"title":"a"}`))
	require.NoError(t, err)

	doc, err := Update(ctx, &conflictingStore{Store: mem, n: 2}, CollectionPosts, "p", raw(`{"title":"b"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"b"}`, string(doc.Data))

	_, err = Update(ctx, &conflictingStore{Store: mem, n: maxPatchAttempts}, CollectionPosts, "p", raw(`{"title":"c"}`))
	assert.ErrorIs(t, err, ErrConflict)

	_, err = Update(ctx, mem, CollectionPosts, "missing", raw(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetInto(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	_, err := mem.Create(ctx, CollectionSettings, "labels", raw(`{"etiquettes":["urgent"]}`))
	require.NoError(t, err)

	var v struct {
		Etiquettes []string `json:"etiquettes"`
	}
	version, err := GetInto(ctx, mem, CollectionSettings, "labels", &v)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.Equal(t, []string{"urgent"}, v.Etiquettes)
}

func TestCollectionPublishes(t *testing.T) {
	ctx := context.Background()
	hub := realtime.NewHub(nil, nil)
	c := NewCollection(NewMemoryStore(), hub, CollectionEvents)

	events, cancel := hub.Subscribe(Topic(CollectionEvents))
	defer cancel()

	doc, err := c.Create(ctx, "e1", map[string]string{"title": "launch"})
	require.NoError(t, err)
	_, err = c.Update(ctx, doc.ID, map[string]string{"title": "launch v2"})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, doc.ID))

	var types []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
			assert.Equal(t, "e1", ev.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{realtime.TypeCreated, realtime.TypeUpdated, realtime.TypeDeleted}, types)
}

func TestCollectionSubscribe(t *testing.T) {
	hub := realtime.NewHub(nil, nil)
	c := NewCollection(NewMemoryStore(), hub, CollectionPosts)

	got := make(chan realtime.Event, 1)
	cancel := c.Subscribe(func(ev realtime.Event) { got <- ev })
	defer cancel()

	_, err := c.Create(context.Background(), "p1", map[string]string{"title": "hello"})
	require.NoError(t, err)

	select {
	case ev := <-got:
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(ev.Data, &body))
		assert.Equal(t, "hello", body["title"])
		assert.Equal(t, "p1", body["id"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	assert.NotPanics(t, func() { NewCollection(NewMemoryStore(), nil, "x").Subscribe(nil)() })
}

func withSession(s *auth.Session) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s != nil {
				r = r.WithContext(auth.WithSession(r.Context(), s))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRouter(store Store, s *auth.Session) *mux.Router {
	router := mux.NewRouter()
	router.Use(withSession(s))
	NewHandlers(store, realtime.NewHub(nil, nil), DefaultAccess()).RegisterRoutes(router)
	return router
}

func caller(perms ...string) *auth.Session {
	return &auth.Session{
		State:           auth.StateAuthenticated,
		User:            &auth.Profile{ID: "u1"},
		Role:            "editor",
		Permissions:     perms,
		IsAuthenticated: true,
	}
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers_CRUD(t *testing.T) {
	store := NewMemoryStore()
	router := newRouter(store, caller("manage_content"))

	rec := do(router, http.MethodPost, "/collections/posts", `{"id":"p1","title":"Hello","status":"draft"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(router, http.MethodPost, "/collections/posts", `{"title":"World","status":"published"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(router, http.MethodPost, "/collections/posts", `{"id":"p1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(router, http.MethodGet, "/collections/posts?field=status&value=draft", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []map[string]interface{} `json:"items"`
		Count int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "p1", list.Items[0]["id"])

	rec = do(router, http.MethodPatch, "/collections/posts/p1", `{"status":"published"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodGet, "/collections/posts/p1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "published", doc["status"])
	assert.Equal(t, "Hello", doc["title"])

	rec = do(router, http.MethodDelete, "/collections/posts/p1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/collections/posts/p1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_Access(t *testing.T) {
	store := NewMemoryStore()

	rec := do(newRouter(store, nil), http.MethodGet, "/collections/posts", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(newRouter(store, caller("view_content")), http.MethodGet, "/collections/posts", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(newRouter(store, caller("view_content")), http.MethodPost, "/collections/posts", `{"title":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(newRouter(store, caller("view_content")), http.MethodGet, "/collections/invoices", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(newRouter(store, caller("all")), http.MethodGet, "/collections/users", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(newRouter(store, caller("manage_invoices")), http.MethodPost, "/collections/invoices", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
