package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]*Document
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[string]*Document)}
}

func (m *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (m *MemoryStore) List(ctx context.Context, collection string) ([]*Document, error) {
	return m.filter(collection, func(*Document) bool { return true }), nil
}

func (m *MemoryStore) Search(ctx context.Context, collection, field, value string) ([]*Document, error) {
	return m.filter(collection, func(d *Document) bool {
		var body map[string]interface{}
		if err := json.Unmarshal(d.Data, &body); err != nil {
			return false
		}
		v, ok := body[field]
		if !ok || v == nil {
			return false
		}
		return textValue(v) == value
	}), nil
}

func (m *MemoryStore) filter(collection string, keep func(*Document) bool) []*Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Document
	for _, d := range m.docs[collection] {
		if keep(d) {
			out = append(out, copyDocument(d))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) Create(ctx context.Context, collection, id string, data json.RawMessage) (*Document, error) {
	if err := validBody(data); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]*Document)
	}
	if _, exists := m.docs[collection][id]; exists {
		return nil, fmt.Errorf("%w: %s/%s already exists", ErrConflict, collection, id)
	}
	now := time.Now()
	doc := &Document{
		Collection: collection,
		ID:         id,
		Data:       append(json.RawMessage(nil), data...),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.docs[collection][id] = doc
	return copyDocument(doc), nil
}

func (m *MemoryStore) Put(ctx context.Context, collection, id string, data json.RawMessage, expected int64) (*Document, error) {
	if expected == 0 {
		return m.Create(ctx, collection, id, data)
	}
	if err := validBody(data); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	if doc.Version != expected {
		return nil, ErrConflict
	}
	doc.Data = append(json.RawMessage(nil), data...)
	doc.Version++
	doc.UpdatedAt = time.Now()
	return copyDocument(doc), nil
}

func (m *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[collection][id]; !ok {
		return ErrNotFound
	}
	delete(m.docs[collection], id)
	return nil
}

func copyDocument(d *Document) *Document {
	c := *d
	c.Data = append(json.RawMessage(nil), d.Data...)
	return &c
}

// textValue renders a decoded JSON scalar the way PostgreSQL's ->> does
func textValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}
