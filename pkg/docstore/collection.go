package docstore

import (
	"context"
	"encoding/json"

	"github.com/platinummonkey/adminboard/pkg/realtime"
)

// Topic is the realtime topic carrying changes to a collection
func Topic(collection string) string {
	return "collection:" + collection
}

// Collection is a named view over a Store that publishes its writes
type Collection struct {
	name  string
	store Store
	hub   *realtime.Hub
}

// NewCollection binds name to store. hub may be nil.
func NewCollection(store Store, hub *realtime.Hub, name string) *Collection {
	return &Collection{name: name, store: store, hub: hub}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Get(ctx context.Context, id string) (*Document, error) {
	return c.store.Get(ctx, c.name, id)
}

func (c *Collection) List(ctx context.Context) ([]*Document, error) {
	return c.store.List(ctx, c.name)
}

func (c *Collection) Search(ctx context.Context, field, value string) ([]*Document, error) {
	return c.store.Search(ctx, c.name, field, value)
}

// Create stores body under id, generating one when empty
func (c *Collection) Create(ctx context.Context, id string, body interface{}) (*Document, error) {
	data, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	doc, err := c.store.Create(ctx, c.name, id, data)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, realtime.TypeCreated, doc)
	return doc, nil
}

// Update merges a top-level patch into the document
func (c *Collection) Update(ctx context.Context, id string, patch interface{}) (*Document, error) {
	data, err := encodeBody(patch)
	if err != nil {
		return nil, err
	}
	doc, err := Update(ctx, c.store, c.name, id, data)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, realtime.TypeUpdated, doc)
	return doc, nil
}

// Replace overwrites the body if the stored version is still expected
func (c *Collection) Replace(ctx context.Context, id string, body interface{}, expected int64) (*Document, error) {
	data, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	doc, err := c.store.Put(ctx, c.name, id, data, expected)
	if err != nil {
		return nil, err
	}
	typ := realtime.TypeUpdated
	if expected == 0 {
		typ = realtime.TypeCreated
	}
	c.publish(ctx, typ, doc)
	return doc, nil
}

func (c *Collection) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, c.name, id); err != nil {
		return err
	}
	if c.hub != nil {
		c.hub.Publish(ctx, realtime.Event{Topic: Topic(c.name), Type: realtime.TypeDeleted, ID: id})
	}
	return nil
}

// Subscribe calls fn for every change until the returned cancel is called
func (c *Collection) Subscribe(fn func(realtime.Event)) func() {
	if c.hub == nil {
		return func() {}
	}
	return c.hub.SubscribeFunc(Topic(c.name), fn)
}

func (c *Collection) publish(ctx context.Context, typ string, doc *Document) {
	if c.hub == nil {
		return
	}
	data, _ := json.Marshal(doc.Flatten())
	c.hub.Publish(ctx, realtime.Event{Topic: Topic(c.name), Type: typ, ID: doc.ID, Data: data})
}

func encodeBody(body interface{}) (json.RawMessage, error) {
	if raw, ok := body.(json.RawMessage); ok {
		return raw, validBody(raw)
	}
	return Encode(body)
}
