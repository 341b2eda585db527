package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/storage/sqldb"
)

// SQLStore keeps documents in the documents table
type SQLStore struct {
	db      *sqldb.DB
	metrics *observability.Metrics
}

// NewSQLStore creates a store over a migrated database. metrics may be nil.
func NewSQLStore(db *sqldb.DB, metrics *observability.Metrics) *SQLStore {
	return &SQLStore{db: db, metrics: metrics}
}

const documentColumns = `id, data, version, created_at, updated_at`

func (s *SQLStore) backend() string { return string(s.db.Dialect) }

func (s *SQLStore) observe(operation string, start time.Time, err *error) {
	s.metrics.ObserveStorage(operation, s.backend(), start, *err)
}

// Get loads one document
func (s *SQLStore) Get(ctx context.Context, collection, id string) (doc *Document, err error) {
	defer s.observe("doc_get", time.Now(), &err)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)
	doc, err = scanDocument(collection, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// List returns all documents in a collection, oldest first
func (s *SQLStore) List(ctx context.Context, collection string) ([]*Document, error) {
	start := time.Now()
	docs, err := s.query(ctx, collection,
		`SELECT `+documentColumns+` FROM documents WHERE collection = $1 ORDER BY created_at, id`,
		collection)
	s.metrics.ObserveStorage("doc_list", s.backend(), start, err)
	return docs, err
}

// Search returns documents whose top-level field equals value as text.
// Booleans compare as "true"/"false" on PostgreSQL and "1"/"0" on SQLite.
func (s *SQLStore) Search(ctx context.Context, collection, field, value string) ([]*Document, error) {
	start := time.Now()
	docs, err := s.query(ctx, collection,
		`SELECT `+documentColumns+` FROM documents
		 WHERE collection = $1 AND `+s.db.JSONText("data", 2)+` = $3
		 ORDER BY created_at, id`,
		collection, field, value)
	s.metrics.ObserveStorage("doc_search", s.backend(), start, err)
	return docs, err
}

func (s *SQLStore) query(ctx context.Context, collection, query string, args ...interface{}) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(collection, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Create inserts a new document at version 1
func (s *SQLStore) Create(ctx context.Context, collection, id string, data json.RawMessage) (doc *Document, err error) {
	defer s.observe("doc_create", time.Now(), &err)

	if err := validBody(data); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := sqldb.NowMillis()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, version, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $4)
		 ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(data), now)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s/%s already exists", ErrConflict, collection, id)
	}
	return &Document{
		Collection: collection,
		ID:         id,
		Data:       data,
		Version:    1,
		CreatedAt:  time.UnixMilli(now),
		UpdatedAt:  time.UnixMilli(now),
	}, nil
}

// Put replaces the body if the stored version equals expected
func (s *SQLStore) Put(ctx context.Context, collection, id string, data json.RawMessage, expected int64) (doc *Document, err error) {
	if expected == 0 {
		return s.Create(ctx, collection, id, data)
	}
	defer s.observe("doc_put", time.Now(), &err)

	if err := validBody(data); err != nil {
		return nil, err
	}
	now := sqldb.NowMillis()
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = $1, version = version + 1, updated_at = $2
		 WHERE collection = $3 AND id = $4 AND version = $5`,
		string(data), now, collection, id, expected)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := s.Get(ctx, collection, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	return s.Get(ctx, collection, id)
}

// Delete removes a document
func (s *SQLStore) Delete(ctx context.Context, collection, id string) (err error) {
	defer s.observe("doc_delete", time.Now(), &err)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(collection string, row scanner) (*Document, error) {
	var (
		doc       = &Document{Collection: collection}
		data      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&doc.ID, &data, &doc.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Data = json.RawMessage(data)
	doc.CreatedAt = time.UnixMilli(createdAt)
	doc.UpdatedAt = time.UnixMilli(updatedAt)
	return doc, nil
}

func validBody(data json.RawMessage) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil || probe == nil {
		return fmt.Errorf("%w: body must be a JSON object", ErrInvalid)
	}
	return nil
}
