package docstore

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
	"github.com/platinummonkey/adminboard/pkg/rbac"
	"github.com/platinummonkey/adminboard/pkg/realtime"
)

// Access names the permissions guarding one collection
type Access struct {
	Read  string
	Write string
}

// DefaultAccess exposes the content collections. Collections with their own
// services (users, boards, calendar-events, settings) are not listed.
func DefaultAccess() map[string]Access {
	return map[string]Access{
		CollectionCustomers: {Read: rbac.PermManageCustomers, Write: rbac.PermManageCustomers},
		CollectionInvoices:  {Read: rbac.PermManageInvoices, Write: rbac.PermManageInvoices},
		CollectionPosts:     {Read: rbac.PermViewContent, Write: rbac.PermManageContent},
		CollectionEvents:    {Read: rbac.PermViewContent, Write: rbac.PermManageEvents},
	}
}

// Handlers serves the generic collection API
type Handlers struct {
	store  Store
	hub    *realtime.Hub
	access map[string]Access
}

// NewHandlers creates collection handlers. hub may be nil, which disables
// the stream route.
func NewHandlers(store Store, hub *realtime.Hub, access map[string]Access) *Handlers {
	return &Handlers{store: store, hub: hub, access: access}
}

// RegisterRoutes registers collection routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/collections/{collection}", h.list).Methods(http.MethodGet)
	router.HandleFunc("/collections/{collection}", h.create).Methods(http.MethodPost)
	router.HandleFunc("/collections/{collection}/stream", h.stream).Methods(http.MethodGet)
	router.HandleFunc("/collections/{collection}/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/collections/{collection}/{id}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/collections/{collection}/{id}", h.delete).Methods(http.MethodDelete)
}

// collection resolves the route's collection and checks the caller may use
// it; it writes the error response and returns nil on failure
func (h *Handlers) collection(w http.ResponseWriter, r *http.Request, write bool) *Collection {
	name := mux.Vars(r)["collection"]
	access, ok := h.access[name]
	if !ok {
		httputil.WriteNotFoundError(w, "unknown collection: "+name)
		return nil
	}
	session := auth.FromContext(r.Context())
	if !session.IsAuthenticated {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil
	}
	perm := access.Read
	if write {
		perm = access.Write
	}
	if !session.HasPermission(perm) && !session.HasPermission(access.Write) {
		audit.Record(r.Context(), audit.FromContext(r.Context()), audit.Event{
			EventType:    audit.EventTypeAccessDenied,
			Status:       audit.StatusDenied,
			Actor:        audit.Actor{UID: session.UID(), Role: session.Role},
			ResourceType: audit.ResourceRoute,
			ResourceID:   r.Method + " " + r.URL.Path,
			Message:      "missing permission: " + perm,
		})
		httputil.WriteForbidden(w, "missing permission: "+perm)
		return nil
	}
	return NewCollection(h.store, h.hub, name)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	c := h.collection(w, r, false)
	if c == nil {
		return
	}
	var (
		docs []*Document
		err  error
	)
	if field := r.URL.Query().Get("field"); field != "" {
		docs, err = c.Search(r.Context(), field, r.URL.Query().Get("value"))
	} else {
		docs, err = c.List(r.Context())
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	items := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.Flatten())
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"items": items, "count": len(items)})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	c := h.collection(w, r, false)
	if c == nil {
		return
	}
	doc, err := c.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, doc.Flatten())
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	c := h.collection(w, r, true)
	if c == nil {
		return
	}
	var body map[string]json.RawMessage
	if !httputil.ParseJSONOrError(w, r, &body) {
		return
	}
	var id string
	if raw, ok := body["id"]; ok {
		_ = json.Unmarshal(raw, &id)
		delete(body, "id")
	}
	doc, err := c.Create(r.Context(), id, body)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, doc.Flatten())
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	c := h.collection(w, r, true)
	if c == nil {
		return
	}
	var patch map[string]json.RawMessage
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}
	doc, err := c.Update(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, doc.Flatten())
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	c := h.collection(w, r, true)
	if c == nil {
		return
	}
	if err := c.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	c := h.collection(w, r, false)
	if c == nil {
		return
	}
	if h.hub == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "realtime disabled")
		return
	}
	h.hub.ServeSSE(w, r, Topic(c.Name()))
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrInvalid):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
