package claims

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
)

// Handlers exposes the function over HTTP
type Handlers struct {
	fn *Function
}

// NewHandlers creates claims handlers
func NewHandlers(fn *Function) *Handlers {
	return &Handlers{fn: fn}
}

// RegisterRoutes registers POST /functions/setUserRole
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/functions/setUserRole", h.setUserRole).Methods(http.MethodPost)
}

func (h *Handlers) setUserRole(w http.ResponseWriter, r *http.Request) {
	session := auth.FromContext(r.Context())
	if err := h.fn.Authorize(r.Context(), session, ""); err != nil {
		writeError(w, err)
		return
	}
	var req Request
	if err := httputil.ParseJSON(r, &req); err != nil {
		writeError(w, newError(KindInvalidArgument, "invalid request body", err))
		return
	}
	resp, err := h.fn.SetUserRole(r.Context(), session, req)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, resp)
}

func writeError(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(KindInternal, "internal error", err)
	}
	_ = httputil.WriteJSON(w, e.Kind.Status(), map[string]*Error{"error": e})
}
