package kanban

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/adminboard/pkg/docstore"
)

// Task returns one task
func (s *Service) Task(ctx context.Context, columnID, taskID string) (*Task, error) {
	b, err := s.load(ctx)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrInvalidBoard
	}
	if err != nil {
		return nil, err
	}
	t, err := b.task(columnID, taskID)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTask appends a new task to columnID. Missing fields get defaults:
// priority medium, due [now, now+24h], timezone UTC, reporter actor.
// Creating a caller-supplied id again in the same column returns the stored
// task instead of adding a duplicate.
func (s *Service) CreateTask(ctx context.Context, columnID string, in TaskInput, actor Actor) (*Task, error) {
	var created Task
	_, err := s.mutate(ctx, "create_task", false, func(b *Board, _ *change) error {
		if err := b.requireColumn(columnID); err != nil {
			return err
		}
		if in.ID != "" {
			if col, found := b.locate(in.ID); found {
				if col != columnID {
					return fmt.Errorf("%w: task %s already exists in column %s", ErrInvalidInput, in.ID, col)
				}
				t, _ := b.task(col, in.ID)
				created = *t
				return nil
			}
		}

		t := s.newTask(columnID, in, actor)
		b.Tasks[columnID] = append(b.Tasks[columnID], t)
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (s *Service) newTask(columnID string, in TaskInput, actor Actor) Task {
	now := s.now()
	t := Task{
		ID:          in.ID,
		Status:      columnID,
		Priority:    DefaultPriority,
		Attachments: []Attachment{},
		Labels:      dedupe(in.Labels),
		Comments:    []Comment{},
		Assignee:    in.Assignee,
		Due:         []string{now.Format(DueLayout), now.Add(24 * time.Hour).Format(DueLayout)},
		Timezone:    DefaultTimezone,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   actor.ID,
		UpdatedBy:   actor.ID,
		Reporter:    actor,
		Subtasks:    []Subtask{},
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil && *in.Priority != "" {
		t.Priority = *in.Priority
	}
	if t.Assignee == nil {
		t.Assignee = []Assignee{}
	}
	if len(in.Due) > 0 {
		t.Due = normalizeDue(in.Due)
	}
	return t
}

// UpdateTask applies in to the task in columnID. When in.Status names a
// different column the task moves there, appended at the end.
func (s *Service) UpdateTask(ctx context.Context, columnID string, in TaskInput, actor Actor) (*Task, error) {
	var updated Task
	_, err := s.mutate(ctx, "update_task", false, func(b *Board, _ *change) error {
		target := in.Status
		if target == "" {
			target = columnID
		}
		if err := b.requireColumn(target); err != nil {
			return err
		}
		t, err := b.task(columnID, in.ID)
		if err != nil {
			return err
		}

		applyTaskInput(t, in)
		t.UpdatedAt = s.now()
		t.UpdatedBy = actor.ID

		if target != columnID {
			moved := *t
			moved.Status = target
			b.Tasks[columnID] = removeTask(b.Tasks[columnID], moved.ID)
			b.Tasks[target] = append(b.Tasks[target], moved)
			updated = moved
			return nil
		}
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func applyTaskInput(t *Task, in TaskInput) {
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Priority != nil && *in.Priority != "" {
		t.Priority = *in.Priority
	}
	if in.Labels != nil {
		t.Labels = dedupe(in.Labels)
	}
	if in.Assignee != nil {
		t.Assignee = in.Assignee
	}
	if in.Due != nil {
		t.Due = normalizeDue(in.Due)
	}
}

// MoveTask replaces columnID's bucket with tasks as given, setting each
// task's status to columnID. Only id uniqueness within the bucket is
// checked. Tasks already on the board keep their stored attachments and
// comments; new ones may only reference blobs written for their own id.
func (s *Service) MoveTask(ctx context.Context, columnID string, tasks []Task) ([]Task, error) {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task id is required", ErrInvalidInput)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task %s", ErrInvalidInput, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	var bucket []Task
	_, err := s.mutate(ctx, "move_task", false, func(b *Board, _ *change) error {
		bucket = make([]Task, len(tasks))
		for i, t := range tasks {
			if col, found := b.locate(t.ID); found {
				stored, err := b.task(col, t.ID)
				if err != nil {
					return err
				}
				t.Attachments, t.Comments = stored.Attachments, stored.Comments
			} else if err := checkTaskBlobs(t); err != nil {
				return err
			}
			t.Status = columnID
			bucket[i] = t
		}
		b.Tasks[columnID] = bucket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bucket, nil
}

// DeleteTask removes a task and deletes each blob its attachments and file
// comments reference
func (s *Service) DeleteTask(ctx context.Context, columnID, taskID string) error {
	_, err := s.mutate(ctx, "delete_task", false, func(b *Board, c *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		c.deleteTaskBlobs(*t)
		b.Tasks[columnID] = removeTask(b.Tasks[columnID], taskID)
		return nil
	})
	return err
}

func removeTask(bucket []Task, id string) []Task {
	out := make([]Task, 0, len(bucket))
	for _, t := range bucket {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

var dueLayouts = []string{
	time.RFC3339Nano,
	DueLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// normalizeDue rewrites parseable dates in DueLayout. Zoned inputs keep
// their wall clock. Unparseable values pass through unchanged.
func normalizeDue(due []string) []string {
	out := make([]string, len(due))
	for i, d := range due {
		out[i] = d
		for _, layout := range dueLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(d)); err == nil {
				out[i] = t.Format(DueLayout)
				break
			}
		}
	}
	return out
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
