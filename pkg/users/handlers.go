package users

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
	"github.com/platinummonkey/adminboard/pkg/rbac"
)

// MaxUploadSize bounds avatar and cover uploads
const MaxUploadSize = 10 << 20

// Handlers serves the users API
type Handlers struct {
	service *Service
}

// NewHandlers creates user handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers user routes. Callers must be authenticated;
// finer checks happen in the service.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/me", h.me).Methods(http.MethodGet)
	router.HandleFunc("/me", h.updateMe).Methods(http.MethodPatch)
	router.HandleFunc("/users", h.list).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/users/{id}", h.delete).Methods(http.MethodDelete)
	router.HandleFunc("/users/{id}/role", h.setRole).Methods(http.MethodPut)
	router.HandleFunc("/users/{id}/status", h.setStatus).Methods(http.MethodPut)
	router.HandleFunc("/users/{id}/avatar", h.upload(KindAvatar)).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}/cover", h.upload(KindCover)).Methods(http.MethodPost)
}

func caller(w http.ResponseWriter, r *http.Request) (*auth.Session, bool) {
	session := auth.FromContext(r.Context())
	if !session.IsAuthenticated {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	return session, true
}

// me returns the caller's session, creating the profile on first sign-in
func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	claims := &auth.Claims{UID: session.UID()}
	if session.User != nil {
		claims.Email = session.User.Email
		claims.Name = session.User.DisplayName
	}
	profile, err := h.service.EnsureProfile(r.Context(), claims)
	if err != nil {
		writeError(w, err)
		return
	}
	resolved := *session
	resolved.User = profile
	_ = httputil.WriteSuccess(w, resolved)
}

func (h *Handlers) updateMe(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	h.applyUpdate(w, r, session, session.UID())
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	if !session.HasPermission(rbac.PermManageUsers) {
		httputil.WriteForbidden(w, "missing permission: "+rbac.PermManageUsers)
		return
	}
	var (
		profiles []*auth.Profile
		err      error
	)
	if role := r.URL.Query().Get("role"); role != "" {
		profiles, err = h.service.ListByRole(r.Context(), role)
	} else {
		profiles, err = h.service.List(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"users": profiles, "count": len(profiles)})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	uid := mux.Vars(r)["id"]
	if uid != session.UID() && !session.HasPermission(rbac.PermManageUsers) {
		httputil.WriteForbidden(w, "missing permission: "+rbac.PermManageUsers)
		return
	}
	profile, err := h.service.GetProfile(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, profile)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	h.applyUpdate(w, r, session, mux.Vars(r)["id"])
}

func (h *Handlers) applyUpdate(w http.ResponseWriter, r *http.Request, session *auth.Session, uid string) {
	var update ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	profile, err := h.service.UpdateProfile(r.Context(), session, uid, update)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, profile)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	result, err := h.service.DeleteUser(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

func (h *Handlers) setRole(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) || !httputil.RequireNonEmpty(w, req.Role, "role") {
		return
	}
	profile, err := h.service.AssignRole(r.Context(), session, mux.Vars(r)["id"], req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, profile)
}

func (h *Handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Status auth.Status `json:"status"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	profile, err := h.service.SetStatus(r.Context(), session, mux.Vars(r)["id"], req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, profile)
}

func (h *Handlers) upload(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := caller(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httputil.WriteBadRequest(w, "missing file: "+err.Error())
			return
		}
		defer file.Close()

		profile, err := h.service.UploadImage(r.Context(), session, mux.Vars(r)["id"], kind,
			header.Filename, header.Header.Get("Content-Type"), file)
		if err != nil {
			writeError(w, err)
			return
		}
		_ = httputil.WriteSuccess(w, profile)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, auth.ErrProfileNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, rbac.ErrRoleNotFound):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
