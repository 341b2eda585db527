package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/platinummonkey/adminboard/pkg/async"
	"github.com/platinummonkey/adminboard/pkg/audit"
	"github.com/platinummonkey/adminboard/pkg/auth"
	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/observability"
	"github.com/platinummonkey/adminboard/pkg/realtime"
	"github.com/platinummonkey/adminboard/pkg/storage"
)

var (
	ErrForbidden = errors.New("only the creator or a super_admin may modify this event")
	ErrNotFound  = errors.New("event not found")
	ErrInvalid   = errors.New("invalid event")
)

const maxAttempts = 3

// Input carries the editable fields of an event; nil leaves a field alone
type Input struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	AllDay      *bool   `json:"allDay"`
	Start       *int64  `json:"start"`
	End         *int64  `json:"end"`
}

func (in Input) apply(e *Event) {
	if in.Title != nil {
		e.Title = *in.Title
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Color != nil {
		e.Color = *in.Color
	}
	if in.AllDay != nil {
		e.AllDay = *in.AllDay
	}
	if in.Start != nil {
		e.Start = *in.Start
	}
	if in.End != nil {
		e.End = *in.End
	}
}

func validate(e *Event) error {
	if e.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if e.End < e.Start {
		return fmt.Errorf("%w: end is before start", ErrInvalid)
	}
	return nil
}

// Options configures a Service. Store is required.
type Options struct {
	Store   docstore.Store
	Hub     *realtime.Hub
	Blobs   storage.BlobStore
	Audit   audit.Logger
	Metrics *observability.Metrics
	Logger  *observability.Logger
	Clock   func() time.Time
}

// Service manages calendar events
type Service struct {
	events  *docstore.Collection
	blobs   storage.BlobStore
	audit   audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
	clock   func() time.Time
}

// NewService creates a calendar service
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	auditLogger := opts.Audit
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		events:  docstore.NewCollection(opts.Store, opts.Hub, docstore.CollectionCalendarEvents),
		blobs:   opts.Blobs,
		audit:   auditLogger,
		metrics: opts.Metrics,
		logger:  logger.WithField("component", "calendar"),
		clock:   clock,
	}
}

func (s *Service) nowMillis() int64 {
	return s.clock().UnixMilli()
}

// List returns events overlapping [from, to), ordered by start. Zero bounds
// are open.
func (s *Service) List(ctx context.Context, from, to int64) ([]*Event, error) {
	docs, err := s.events.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, len(docs))
	for _, d := range docs {
		e, err := decode(d)
		if err != nil {
			s.logger.WithError(err).WithField("id", d.ID).Warn("skipping unreadable event")
			continue
		}
		if e.Overlaps(from, to) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// Get loads one event
func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	e, _, err := s.load(ctx, id)
	return e, err
}

// Create stores a new event owned by the caller
func (s *Service) Create(ctx context.Context, caller *auth.Session, in Input) (*Event, error) {
	if caller.Identity().IsZero() {
		return nil, s.deny(ctx, caller, "", "authentication required")
	}
	e := &Event{}
	in.apply(e)
	if err := validate(e); err != nil {
		return nil, err
	}
	if p := caller.User; p != nil {
		e.UserID = p.ID
		e.UserDisplayName = p.DisplayName
		e.PhotoURL = p.AvatarURL
		e.UserEmail = p.Email
	}
	e.UserRole = caller.Role
	e.CreatedAt = s.nowMillis()

	doc, err := s.events.Create(ctx, "", e)
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return decode(doc)
}

// Update edits an event
func (s *Service) Update(ctx context.Context, caller *auth.Session, id string, in Input) (*Event, error) {
	return s.mutate(ctx, caller, id, func(e *Event) error {
		in.apply(e)
		return validate(e)
	})
}

// Move reschedules an event after a drag or resize
func (s *Service) Move(ctx context.Context, caller *auth.Session, id string, start, end int64) (*Event, error) {
	return s.mutate(ctx, caller, id, func(e *Event) error {
		e.Start, e.End = start, end
		return validate(e)
	})
}

// Delete removes an event and its attachments. Blob failures are logged.
func (s *Service) Delete(ctx context.Context, caller *auth.Session, id string) error {
	e, _, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !CanModify(e, caller.Identity(), caller.Role) {
		return s.deny(ctx, caller, id, "delete")
	}
	if err := s.events.Delete(ctx, id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if s.blobs != nil && len(e.Attachments) > 0 {
		errs := async.Batch(ctx, e.Attachments, 4, func(ctx context.Context, a Attachment) error {
			return s.blobs.Delete(ctx, a.Path)
		})
		for i, err := range errs {
			if err != nil {
				s.cleanupFailed(e.Attachments[i].Path, err)
			}
		}
	}
	return nil
}

// AddAttachment stores a file at events/{id}/{millis}_{filename} and appends
// it to the event
func (s *Service) AddAttachment(ctx context.Context, caller *auth.Session, id, filename, contentType string, content io.Reader) (*Event, error) {
	if s.blobs == nil {
		return nil, errors.New("blob storage is not configured")
	}
	e, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanModify(e, caller.Identity(), caller.Role) {
		return nil, s.deny(ctx, caller, id, "add attachment")
	}

	name := path.Base(filename)
	if name == "." || name == "/" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalid)
	}
	p := path.Join("events", id, strconv.FormatInt(s.nowMillis(), 10)+"_"+name)
	obj, err := s.blobs.Put(ctx, p, content, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to upload attachment: %w", err)
	}
	att := Attachment{Name: name, Size: obj.Size, Type: obj.ContentType, Path: obj.Path, URL: obj.URL}

	updated, err := s.mutate(ctx, caller, id, func(e *Event) error {
		e.Attachments = append(e.Attachments, att)
		return nil
	})
	if err != nil {
		s.deleteBlob(ctx, obj.Path)
		return nil, err
	}
	return updated, nil
}

// mutate checks CanModify against every freshly loaded version
func (s *Service) mutate(ctx context.Context, caller *auth.Session, id string, fn func(*Event) error) (*Event, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		e, version, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !CanModify(e, caller.Identity(), caller.Role) {
			return nil, s.deny(ctx, caller, id, "update")
		}
		if err := fn(e); err != nil {
			return nil, err
		}
		e.UpdatedAt = s.nowMillis()
		e.LastModifiedBy = caller.UID()
		e.LastModifiedByRole = caller.Role
		if caller.User != nil {
			e.LastModifiedByName = caller.User.DisplayName
		}

		doc, err := s.events.Replace(ctx, id, e, version)
		if errors.Is(err, docstore.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save event %s: %w", id, err)
		}
		return decode(doc)
	}
	return nil, lastErr
}

func (s *Service) load(ctx context.Context, id string) (*Event, int64, error) {
	doc, err := s.events.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	e, err := decode(doc)
	if err != nil {
		return nil, 0, err
	}
	return e, doc.Version, nil
}

func (s *Service) deleteBlob(ctx context.Context, p string) {
	if s.blobs == nil || p == "" {
		return
	}
	if err := s.blobs.Delete(ctx, p); err != nil {
		s.cleanupFailed(p, err)
	}
}

func (s *Service) cleanupFailed(p string, err error) {
	s.logger.WithError(err).WithField("path", p).Warn("failed to delete event attachment")
	if s.metrics != nil {
		s.metrics.BlobCleanupFailuresTotal.WithLabelValues("calendar").Inc()
	}
}

func (s *Service) deny(ctx context.Context, caller *auth.Session, id, action string) error {
	audit.Record(ctx, s.audit, audit.Event{
		EventType:    audit.EventTypeCalendarDenied,
		Status:       audit.StatusDenied,
		Actor:        audit.Actor{UID: caller.UID(), Role: caller.Role},
		ResourceType: audit.ResourceEvent,
		ResourceID:   id,
		Message:      action,
	})
	return ErrForbidden
}

func decode(doc *docstore.Document) (*Event, error) {
	var e Event
	if err := doc.Decode(&e); err != nil {
		return nil, err
	}
	e.ID = doc.ID
	if e.CreatedAt == 0 {
		e.CreatedAt = doc.CreatedAt.UnixMilli()
	}
	return &e, nil
}
