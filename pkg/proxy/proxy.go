package proxy

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/adminboard/pkg/httputil"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

// Options configures a Proxy. Store is required.
type Options struct {
	Store    storage.BlobStore
	BasePath string
	CacheTTL time.Duration
	Logger   *observability.Logger
}

// Proxy serves GET /storage-proxy
type Proxy struct {
	store    storage.BlobStore
	basePath string
	exists   *expirable.LRU[string, bool]
	logger   *observability.Logger
}

// New creates a storage proxy
func New(opts Options) *Proxy {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Proxy{
		store:    opts.Store,
		basePath: opts.BasePath,
		exists:   expirable.NewLRU[string, bool](1024, nil, ttl),
		logger:   logger.WithField("component", "storage-proxy"),
	}
}

// RegisterRoutes registers the proxy endpoint
func (p *Proxy) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/storage-proxy", p.serve).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/storage-proxy", p.preflight).Methods(http.MethodOptions)
}

func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Range")
}

func (p *Proxy) preflight(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	w.WriteHeader(http.StatusNoContent)
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	raw := r.URL.Query().Get("url")
	if raw == "" {
		httputil.WriteBadRequest(w, "url is required")
		return
	}
	target, err := ParseURL(raw, p.basePath)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if target.Bucket != p.store.Bucket() {
		httputil.WriteBadRequest(w, "bucket "+target.Bucket+" is not served here")
		return
	}
	objectPath, err := storage.CleanPath(target.Path)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	found, err := p.objectExists(r, objectPath)
	if err != nil {
		p.logger.WithError(err).WithField("path", objectPath).Error("existence check failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if !found {
		httputil.WriteNotFoundError(w, "object not found: "+objectPath)
		return
	}

	body, obj, err := p.store.Get(r.Context(), objectPath)
	if errors.Is(err, storage.ErrNotFound) {
		p.exists.Remove(objectPath)
		httputil.WriteNotFoundError(w, "object not found: "+objectPath)
		return
	}
	if err != nil {
		p.logger.WithError(err).WithField("path", objectPath).Error("failed to open object")
		httputil.WriteInternalError(w, err)
		return
	}
	defer body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		p.logger.WithError(err).WithField("path", objectPath).Warn("client went away mid-stream")
	}
}

// objectExists consults the cache before the store. Only hits are cached
// so a freshly uploaded object is visible at once.
func (p *Proxy) objectExists(r *http.Request, objectPath string) (bool, error) {
	if _, ok := p.exists.Get(objectPath); ok {
		return true, nil
	}
	found, err := p.store.Exists(r.Context(), objectPath)
	if err != nil {
		return false, err
	}
	if found {
		p.exists.Add(objectPath, true)
	}
	return found, nil
}
