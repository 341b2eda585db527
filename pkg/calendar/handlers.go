package calendar

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
)

// MaxUploadSize bounds event attachments
const MaxUploadSize = 25 << 20

// Handlers serves the calendar API
type Handlers struct {
	service *Service
}

// NewHandlers creates calendar handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers calendar routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/calendar/events", h.list).Methods(http.MethodGet)
	router.HandleFunc("/calendar/events", h.create).Methods(http.MethodPost)
	router.HandleFunc("/calendar/events/{id}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/calendar/events/{id}", h.update).Methods(http.MethodPatch)
	router.HandleFunc("/calendar/events/{id}", h.delete).Methods(http.MethodDelete)
	router.HandleFunc("/calendar/events/{id}/move", h.move).Methods(http.MethodPut)
	router.HandleFunc("/calendar/events/{id}/attachments", h.attach).Methods(http.MethodPost)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	from, err := httputil.ParseQueryInt64(r, "from", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	to, err := httputil.ParseQueryInt64(r, "to", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	events, err := h.service.List(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"events": events, "count": len(events)})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	e, err := h.service.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	e, err := h.service.Create(r.Context(), auth.FromContext(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, e)
}

func (h *Handlers) update(w http.ResponseWriter, r *http.Request) {
	var in Input
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	e, err := h.service.Update(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

func (h *Handlers) move(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	e, err := h.service.Move(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"], req.Start, req.End)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) attach(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	e, err := h.service.AddAttachment(r.Context(), auth.FromContext(r.Context()), mux.Vars(r)["id"],
		header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalid):
		httputil.WriteBadRequest(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
