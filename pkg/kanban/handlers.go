package kanban

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/httputil"
)

// MaxUploadSize bounds attachment and comment file uploads
const MaxUploadSize = 25 << 20

// Handlers serves the board API. Routes expect the caller to be
// authenticated and authorized for manage_board already.
type Handlers struct {
	service *Service
}

// NewHandlers creates board handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers board routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/board", h.getBoard).Methods(http.MethodGet)
	router.HandleFunc("/board/stream", h.stream).Methods(http.MethodGet)
	router.HandleFunc("/board/consistency", h.consistency).Methods(http.MethodGet)

	router.HandleFunc("/board/labels", h.listLabels).Methods(http.MethodGet)
	router.HandleFunc("/board/labels", h.addAvailableLabel).Methods(http.MethodPost)
	router.HandleFunc("/board/labels/{label}", h.removeAvailableLabel).Methods(http.MethodDelete)

	router.HandleFunc("/board/columns", h.createColumn).Methods(http.MethodPost)
	router.HandleFunc("/board/columns", h.moveColumn).Methods(http.MethodPut)
	router.HandleFunc("/board/columns/{columnId}", h.updateColumn).Methods(http.MethodPatch)
	router.HandleFunc("/board/columns/{columnId}", h.deleteColumn).Methods(http.MethodDelete)
	router.HandleFunc("/board/columns/{columnId}/clear", h.clearColumn).Methods(http.MethodPost)

	tasks := "/board/columns/{columnId}/tasks"
	router.HandleFunc(tasks, h.createTask).Methods(http.MethodPost)
	router.HandleFunc(tasks, h.moveTask).Methods(http.MethodPut)

	task := tasks + "/{taskId}"
	router.HandleFunc(task, h.getTask).Methods(http.MethodGet)
	router.HandleFunc(task, h.updateTask).Methods(http.MethodPatch)
	router.HandleFunc(task, h.deleteTask).Methods(http.MethodDelete)

	router.HandleFunc(task+"/subtasks", h.addSubtask).Methods(http.MethodPost)
	router.HandleFunc(task+"/subtasks/{subtaskId}", h.updateSubtask).Methods(http.MethodPatch)
	router.HandleFunc(task+"/subtasks/{subtaskId}", h.deleteSubtask).Methods(http.MethodDelete)
	router.HandleFunc(task+"/subtasks/{subtaskId}/toggle", h.toggleSubtask).Methods(http.MethodPost)

	router.HandleFunc(task+"/labels", h.addLabel).Methods(http.MethodPost)
	router.HandleFunc(task+"/labels/{label}", h.removeLabel).Methods(http.MethodDelete)

	router.HandleFunc(task+"/comments", h.addComment).Methods(http.MethodPost)
	router.HandleFunc(task+"/comments/{commentId}", h.updateComment).Methods(http.MethodPatch)
	router.HandleFunc(task+"/comments/{commentId}", h.deleteComment).Methods(http.MethodDelete)
	router.HandleFunc(task+"/comment-files", h.uploadCommentFile).Methods(http.MethodPost)

	router.HandleFunc(task+"/attachments", h.addAttachment).Methods(http.MethodPost)
	router.HandleFunc(task+"/attachments/{attachmentId}", h.deleteAttachment).Methods(http.MethodDelete)
}

func actor(r *http.Request) Actor {
	return ActorFromSession(auth.FromContext(r.Context()))
}

func (h *Handlers) getBoard(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Board(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, b)
}

func (h *Handlers) stream(w http.ResponseWriter, r *http.Request) {
	if h.service.hub == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "realtime disabled")
		return
	}
	h.service.hub.ServeSSE(w, r, Topic(h.service.boardID))
}

func (h *Handlers) consistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.CheckConsistency(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, report)
}

// columns

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handlers) createColumn(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	col, err := h.service.CreateColumn(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, col)
}

func (h *Handlers) updateColumn(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	col, err := h.service.UpdateColumn(r.Context(), mux.Vars(r)["columnId"], req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, col)
}

func (h *Handlers) moveColumn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Columns []Column `json:"columns"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	cols, err := h.service.MoveColumn(r.Context(), req.Columns)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"columns": cols})
}

func (h *Handlers) clearColumn(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearColumn(r.Context(), mux.Vars(r)["columnId"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) deleteColumn(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteColumn(r.Context(), mux.Vars(r)["columnId"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// tasks

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var in TaskInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	t, err := h.service.CreateTask(r.Context(), mux.Vars(r)["columnId"], in, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := h.service.Task(r.Context(), vars["columnId"], vars["taskId"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var in TaskInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	vars := mux.Vars(r)
	in.ID = vars["taskId"]
	t, err := h.service.UpdateTask(r.Context(), vars["columnId"], in, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (h *Handlers) moveTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tasks []Task `json:"tasks"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	tasks, err := h.service.MoveTask(r.Context(), mux.Vars(r)["columnId"], req.Tasks)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"tasks": tasks})
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.DeleteTask(r.Context(), vars["columnId"], vars["taskId"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// subtasks

func (h *Handlers) addSubtask(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	st, err := h.service.AddSubtask(r.Context(), vars["columnId"], vars["taskId"], req.Name, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, st)
}

func (h *Handlers) updateSubtask(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	st, err := h.service.UpdateSubtask(r.Context(), vars["columnId"], vars["taskId"], vars["subtaskId"], req.Name, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

func (h *Handlers) toggleSubtask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	st, err := h.service.ToggleSubtask(r.Context(), vars["columnId"], vars["taskId"], vars["subtaskId"], actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

func (h *Handlers) deleteSubtask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.DeleteSubtask(r.Context(), vars["columnId"], vars["taskId"], vars["subtaskId"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// labels

type labelRequest struct {
	Label string `json:"label"`
}

func (h *Handlers) addLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	t, err := h.service.AddLabel(r.Context(), vars["columnId"], vars["taskId"], req.Label, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (h *Handlers) removeLabel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	t, err := h.service.RemoveLabel(r.Context(), vars["columnId"], vars["taskId"], vars["label"], actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

func (h *Handlers) listLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.service.ListAvailableLabels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"labels": labels})
}

func (h *Handlers) addAvailableLabel(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	labels, err := h.service.AddAvailableLabel(r.Context(), req.Label)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"labels": labels})
}

func (h *Handlers) removeAvailableLabel(w http.ResponseWriter, r *http.Request) {
	labels, err := h.service.RemoveAvailableLabel(r.Context(), mux.Vars(r)["label"])
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, map[string]interface{}{"labels": labels})
}

// comments

func (h *Handlers) addComment(w http.ResponseWriter, r *http.Request) {
	var in CommentInput
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	vars := mux.Vars(r)
	c, err := h.service.AddComment(r.Context(), vars["columnId"], vars["taskId"], in, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, c)
}

func (h *Handlers) updateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	c, err := h.service.UpdateComment(r.Context(), vars["columnId"], vars["taskId"], vars["commentId"], req.Message, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, c)
}

func (h *Handlers) deleteComment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.DeleteComment(r.Context(), vars["columnId"], vars["taskId"], vars["commentId"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// files

func upload(w http.ResponseWriter, r *http.Request) (Upload, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "missing file: "+err.Error())
		return Upload{}, nil, false
	}
	return Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	}, func() { file.Close() }, true
}

func (h *Handlers) addAttachment(w http.ResponseWriter, r *http.Request) {
	up, done, ok := upload(w, r)
	if !ok {
		return
	}
	defer done()
	vars := mux.Vars(r)
	att, err := h.service.AddAttachment(r.Context(), vars["columnId"], vars["taskId"], up, actor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, att)
}

func (h *Handlers) uploadCommentFile(w http.ResponseWriter, r *http.Request) {
	up, done, ok := upload(w, r)
	if !ok {
		return
	}
	defer done()
	vars := mux.Vars(r)
	att, err := h.service.UploadCommentFile(r.Context(), vars["columnId"], vars["taskId"], up)
	if err != nil {
		writeError(w, err)
		return
	}
	_ = httputil.WriteCreated(w, att)
}

func (h *Handlers) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.service.DeleteAttachment(r.Context(), vars["columnId"], vars["taskId"], vars["attachmentId"], actor(r)); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrColumnNotFound), errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrSubtaskNotFound), errors.Is(err, ErrCommentNotFound),
		errors.Is(err, ErrAttachmentNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidInput):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrInvalidBoard), errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
