package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
)

// Handlers provides HTTP handlers for role administration
type Handlers struct {
	admin *Admin
}

// NewHandlers creates new RBAC handlers
func NewHandlers(admin *Admin) *Handlers {
	return &Handlers{admin: admin}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.ListRoles).Methods(http.MethodGet)
	router.HandleFunc("/roles", h.CreateRole).Methods(http.MethodPost)
	router.HandleFunc("/roles/reload", h.ReloadRoles).Methods(http.MethodPost)
	router.HandleFunc("/roles/{id}", h.GetRole).Methods(http.MethodGet)
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods(http.MethodDelete)
	router.HandleFunc("/roles/{id}/permissions", h.UpdateRolePermissions).Methods(http.MethodPut)

	router.HandleFunc("/permissions", h.ListPermissions).Methods(http.MethodGet)
	router.HandleFunc("/permissions", h.CreatePermission).Methods(http.MethodPost)
	router.HandleFunc("/permissions/{code}", h.UpdatePermission).Methods(http.MethodPut)
}

// canView requires an authenticated caller holding view_roles
func canView(w http.ResponseWriter, r *http.Request) bool {
	session := auth.FromContext(r.Context())
	if !session.IsAuthenticated {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	if !session.HasPermission(PermViewRoles) {
		httputil.WriteForbidden(w, "missing permission: "+PermViewRoles)
		return false
	}
	return true
}

func writeAdminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrProtectedRole):
		httputil.WriteError(w, http.StatusForbidden, err)
	case errors.Is(err, ErrRoleNotFound):
		httputil.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrRoleExists):
		httputil.WriteError(w, http.StatusConflict, err)
	case errors.Is(err, ErrInvalidRole):
		httputil.WriteError(w, http.StatusBadRequest, err)
	default:
		httputil.WriteInternalError(w, err)
	}
}

// ListRoles handles GET /roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if !canView(w, r) {
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"roles":   h.admin.Registry().List(),
		"version": h.admin.Registry().Version(),
	})
}

// GetRole handles GET /roles/{id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	if !canView(w, r) {
		return
	}
	id := mux.Vars(r)["id"]
	role, ok := h.admin.Registry().Get(id)
	if !ok {
		httputil.WriteNotFoundError(w, "role not found: "+id)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// CreateRole handles POST /roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var role Role
	if !httputil.ParseJSONOrError(w, r, &role) {
		return
	}
	created, err := h.admin.CreateRole(r.Context(), auth.FromContext(r.Context()), role)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, created)
}

// UpdateRolePermissions handles PUT /roles/{id}/permissions
func (h *Handlers) UpdateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permissions []string `json:"permissions"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, err := h.admin.UpdateRolePermissions(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"], req.Permissions)
	if err != nil {
		writeAdminError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// DeleteRole handles DELETE /roles/{id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteRole(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeAdminError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ReloadRoles handles POST /roles/reload
func (h *Handlers) ReloadRoles(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if err := h.admin.authorize(r.Context(), session, "reload roles", ""); err != nil {
		writeAdminError(w, err)
		return
	}
	if err := h.admin.Reload(r.Context()); err != nil {
		writeAdminError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"version": h.admin.Registry().Version()})
}

// ListPermissions handles GET /permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	if !canView(w, r) {
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"permissions": h.admin.Registry().Permissions()})
}

// CreatePermission handles POST /permissions
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var p Permission
	if !httputil.ParseJSONOrError(w, r, &p) {
		return
	}
	_ = h.admin.CreatePermission(r.Context(), auth.FromContext(r.Context()), p)
	_ = httputil.WriteSuccess(w, map[string]bool{"success": true})
}

// UpdatePermission handles PUT /permissions/{code}
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	var p Permission
	if !httputil.ParseJSONOrError(w, r, &p) {
		return
	}
	p.Code = mux.Vars(r)["code"]
	_ = h.admin.UpdatePermission(r.Context(), auth.FromContext(r.Context()), p)
	_ = httputil.WriteSuccess(w, map[string]bool{"success": true})
}
