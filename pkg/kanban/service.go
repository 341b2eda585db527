package kanban

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/adminboard/pkg/async"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/realtime"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

// defaultMaxAttempts bounds the read-modify-write re-runs after a version
// conflict
const defaultMaxAttempts = 3

// Topic is the realtime topic for a board
func Topic(boardID string) string {
	return "board:" + boardID
}

// Options configures a Service. Store is required.
type Options struct {
	Store   docstore.Store
	Hub     *realtime.Hub
	Blobs   storage.BlobStore
	Metrics *observability.Metrics
	Logger  *observability.Logger
	// BoardID defaults to the BoardID constant
	BoardID string
	// MaxAttempts defaults to 3
	MaxAttempts int
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Service mutates the board
type Service struct {
	store    docstore.Store
	settings *docstore.Collection
	hub      *realtime.Hub
	blobs    storage.BlobStore
	metrics  *observability.Metrics
	logger   *observability.Logger
	clock    func() time.Time
	boardID  string
	attempts int

	// mu serializes board writers in this process
	mu sync.Mutex
	// labelsMu serializes vocabulary writers
	labelsMu sync.Mutex
}

// NewService creates a board service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	boardID := opts.BoardID
	if boardID == "" {
		boardID = BoardID
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Service{
		boardID:  boardID,
		attempts: attempts,
		store:    opts.Store,
		settings: docstore.NewCollection(opts.Store, opts.Hub, docstore.CollectionSettings),
		hub:      opts.Hub,
		blobs:    opts.Blobs,
		metrics:  opts.Metrics,
		logger:   logger.WithField("component", "kanban"),
		clock:    clock,
	}
}

// Board returns the stored board, or an empty one if none was written yet
func (s *Service) Board(ctx context.Context) (*Board, error) {
	b, err := s.load(ctx)
	if errors.Is(err, docstore.ErrNotFound) {
		return s.newBoard(), nil
	}
	return b, err
}

func (s *Service) newBoard() *Board {
	b := NewBoard()
	b.ID = s.boardID
	return b
}

func (s *Service) load(ctx context.Context) (*Board, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionBoards, s.boardID)
	if err != nil {
		return nil, err
	}
	b := &Board{}
	if err := doc.Decode(b); err != nil {
		return nil, err
	}
	b.ID = s.boardID
	b.Version = doc.Version
	if b.Columns == nil {
		b.Columns = []Column{}
	}
	return b, nil
}

// change collects side effects of one mutation attempt
type change struct {
	// blobs to delete once the write commits
	blobs []string
}

func (c *change) deleteBlob(path string) {
	if path != "" {
		c.blobs = append(c.blobs, path)
	}
}

func (c *change) deleteTaskBlobs(t Task) {
	for _, a := range t.Attachments {
		c.deleteBlob(a.Path)
	}
	for _, cm := range t.Comments {
		if cm.File != nil {
			c.deleteBlob(cm.File.Path)
		}
	}
}

// mutate runs fn against a fresh copy of the board and writes the result
// with a version check. With create set, a missing board starts empty;
// otherwise a missing board or tasks map is ErrInvalidBoard.
func (s *Service) mutate(ctx context.Context, op string, create bool, fn func(b *Board, c *change) error) (*Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < s.attempts; attempt++ {
		b, err := s.load(ctx)
		switch {
		case errors.Is(err, docstore.ErrNotFound) && create:
			b = s.newBoard()
		case errors.Is(err, docstore.ErrNotFound):
			s.count(op, "error")
			return nil, ErrInvalidBoard
		case err != nil:
			s.count(op, "error")
			return nil, fmt.Errorf("failed to load board: %w", err)
		}
		if b.Tasks == nil {
			if !create {
				s.count(op, "error")
				return nil, ErrInvalidBoard
			}
			b.Tasks = map[string][]Task{}
		}

		c := &change{}
		if err := fn(b, c); err != nil {
			s.count(op, "rejected")
			return nil, err
		}

		expected := b.Version
		b.Version = 0
		body, err := json.Marshal(b)
		if err != nil {
			s.count(op, "error")
			return nil, fmt.Errorf("failed to encode board: %w", err)
		}
		doc, err := s.store.Put(ctx, docstore.CollectionBoards, s.boardID, body, expected)
		if errors.Is(err, docstore.ErrConflict) {
			if s.metrics != nil {
				s.metrics.BoardConflictsTotal.Inc()
			}
			s.logger.WithFields(map[string]interface{}{
				"operation": op,
				"attempt":   attempt + 1,
			}).Debug("board version conflict, retrying")
			continue
		}
		if err != nil {
			s.count(op, "error")
			return nil, fmt.Errorf("failed to save board: %w", err)
		}
		b.Version = doc.Version

		s.count(op, "ok")
		s.cleanup(ctx, "kanban", c.blobs)
		s.publish(ctx, b)
		return b, nil
	}
	s.count(op, "conflict")
	return nil, ErrConflict
}

func (s *Service) count(op, status string) {
	if s.metrics != nil {
		s.metrics.BoardMutationsTotal.WithLabelValues(op, status).Inc()
	}
}

const cleanupWorkers = 4

// cleanup deletes every path with one call each; failures are logged and
// counted
func (s *Service) cleanup(ctx context.Context, source string, paths []string) {
	if s.blobs == nil || len(paths) == 0 {
		return
	}
	errs := async.Batch(ctx, paths, cleanupWorkers, s.blobs.Delete)
	for i, err := range errs {
		if err == nil {
			continue
		}
		s.logger.WithError(err).WithField("path", paths[i]).Warn("failed to delete blob")
		if s.metrics != nil {
			s.metrics.BlobCleanupFailuresTotal.WithLabelValues(source).Inc()
		}
	}
}

func (s *Service) publish(ctx context.Context, b *Board) {
	if s.hub == nil {
		return
	}
	data, err := json.Marshal(b)
	if err != nil {
		return
	}
	s.hub.Publish(ctx, realtime.Event{
		Topic: Topic(b.ID),
		Type:  realtime.TypeBoardUpdated,
		ID:    b.ID,
		Data:  data,
	})
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// lookups

func (b *Board) columnIndex(id string) int {
	for i, c := range b.Columns {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (b *Board) requireColumn(id string) error {
	if b.columnIndex(id) < 0 {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, id)
	}
	return nil
}

// task returns a pointer into columnID's bucket
func (b *Board) task(columnID, taskID string) (*Task, error) {
	bucket, ok := b.Tasks[columnID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
	}
	for i := range bucket {
		if bucket[i].ID == taskID {
			return &bucket[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

func (t *Task) subtask(id string) (*Subtask, error) {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			return &t.Subtasks[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSubtaskNotFound, id)
}

func (t *Task) comment(id string) (*Comment, error) {
	for i := range t.Comments {
		if t.Comments[i].ID == id {
			return &t.Comments[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCommentNotFound, id)
}

// locate finds a task id in any bucket
func (b *Board) locate(taskID string) (columnID string, found bool) {
	for col, bucket := range b.Tasks {
		for _, t := range bucket {
			if t.ID == taskID {
				return col, true
			}
		}
	}
	return "", false
}
