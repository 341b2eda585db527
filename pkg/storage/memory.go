package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// MemoryBlobStore keeps blobs in a map
type MemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	bucket  string
	baseURL string
}

// NewMemoryBlobStore creates an empty in-memory store
func NewMemoryBlobStore(bucket, baseURL string) *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string]memObject), bucket: bucket, baseURL: baseURL}
}

func (m *MemoryBlobStore) Put(ctx context.Context, p string, content io.Reader, contentType string) (Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Object{}, err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return Object{}, fmt.Errorf("failed to read content: %w", err)
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(p))
	}
	now := time.Now().UTC()

	m.mu.Lock()
	m.objects[p] = memObject{data: data, contentType: contentType, updatedAt: now}
	m.mu.Unlock()

	return Object{Path: p, ContentType: contentType, Size: int64(len(data)), URL: m.URL(p), UpdatedAt: now}, nil
}

func (m *MemoryBlobStore) Get(ctx context.Context, p string) (io.ReadCloser, Object, error) {
	p = strings.TrimLeft(p, "/")
	m.mu.RLock()
	obj, ok := m.objects[p]
	m.mu.RUnlock()
	if !ok {
		return nil, Object{}, ErrNotFound
	}
	meta := Object{Path: p, ContentType: obj.contentType, Size: int64(len(obj.data)), URL: m.URL(p), UpdatedAt: obj.updatedAt}
	return io.NopCloser(bytes.NewReader(obj.data)), meta, nil
}

func (m *MemoryBlobStore) Exists(ctx context.Context, p string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[strings.TrimLeft(p, "/")]
	return ok, nil
}

func (m *MemoryBlobStore) Delete(ctx context.Context, p string) error {
	m.mu.Lock()
	delete(m.objects, strings.TrimLeft(p, "/"))
	m.mu.Unlock()
	return nil
}

func (m *MemoryBlobStore) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix = strings.TrimLeft(prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Object
	for p, obj := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, Object{Path: p, ContentType: obj.contentType, Size: int64(len(obj.data)), URL: m.URL(p), UpdatedAt: obj.updatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Paths returns every stored path, sorted
func (m *MemoryBlobStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryBlobStore) Bucket() string { return m.bucket }

func (m *MemoryBlobStore) URL(p string) string { return PathStyleURL(m.baseURL, m.bucket, p) }

func (m *MemoryBlobStore) HealthCheck(ctx context.Context) error { return nil }
