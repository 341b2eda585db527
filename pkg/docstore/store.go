package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document version conflict")
	ErrInvalid  = errors.New("invalid document")
)

// Well-known collections
const (
	CollectionUsers          = "users"
	CollectionCustomers      = "customers"
	CollectionInvoices       = "invoices"
	CollectionPosts          = "posts"
	CollectionEvents         = "events"
	CollectionCalendarEvents = "calendar-events"
	CollectionBoards         = "boards"
	CollectionSettings       = "settings"
)

// Document is one stored JSON object
type Document struct {
	Collection string          `json:"-"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Decode unmarshals the document body into v
func (d *Document) Decode(v interface{}) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Flatten returns the body fields with id and version merged in, the shape
// list views consume
func (d *Document) Flatten() map[string]interface{} {
	out := map[string]interface{}{}
	_ = json.Unmarshal(d.Data, &out)
	out["id"] = d.ID
	out["_version"] = d.Version
	return out
}

// Store is a versioned document store
type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	// List returns documents oldest first
	List(ctx context.Context, collection string) ([]*Document, error)
	// Search matches a top-level field compared as text
	Search(ctx context.Context, collection, field, value string) ([]*Document, error)
	// Create fails with ErrConflict if id exists. An empty id is generated.
	Create(ctx context.Context, collection, id string, data json.RawMessage) (*Document, error)
	// Put replaces the body when the stored version equals expected; expected
	// 0 creates the document and requires that it does not exist yet.
	Put(ctx context.Context, collection, id string, data json.RawMessage, expected int64) (*Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Encode marshals v for storage; only JSON objects are accepted
func Encode(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalid)
	}
	return raw, nil
}

// Merge applies a top-level patch to body. A null value removes the key.
// id is never stored in the body.
func Merge(body, patch json.RawMessage) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &base); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
	}
	changes := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &changes); err != nil {
		return nil, fmt.Errorf("%w: patch must be a JSON object", ErrInvalid)
	}
	for k, v := range changes {
		if k == "id" {
			continue
		}
		if string(v) == "null" {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	return json.Marshal(base)
}

// maxPatchAttempts bounds Update's read-modify-write retries
const maxPatchAttempts = 3

// Update merges patch into the stored document, retrying on version
// conflicts
func Update(ctx context.Context, s Store, collection, id string, patch json.RawMessage) (*Document, error) {
	var lastErr error
	for attempt := 0; attempt < maxPatchAttempts; attempt++ {
		current, err := s.Get(ctx, collection, id)
		if err != nil {
			return nil, err
		}
		merged, err := Merge(current.Data, patch)
		if err != nil {
			return nil, err
		}
		doc, err := s.Put(ctx, collection, id, merged, current.Version)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// GetInto loads a document and decodes it into v, returning its version
func GetInto(ctx context.Context, s Store, collection, id string, v interface{}) (int64, error) {
	doc, err := s.Get(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	return doc.Version, doc.Decode(v)
}
