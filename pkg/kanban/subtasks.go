package kanban

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AddSubtask appends a subtask
func (s *Service) AddSubtask(ctx context.Context, columnID, taskID, name string, actor Actor) (*Subtask, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: subtask name is required", ErrInvalidInput)
	}
	var created Subtask
	_, err := s.mutate(ctx, "add_subtask", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		now := s.now()
		created = Subtask{
			ID:        uuid.NewString(),
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
			CreatedBy: actor.ID,
			UpdatedBy: actor.ID,
		}
		t.Subtasks = append(t.Subtasks, created)
		t.UpdatedAt, t.UpdatedBy = now, actor.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateSubtask renames a subtask
func (s *Service) UpdateSubtask(ctx context.Context, columnID, taskID, subtaskID, name string, actor Actor) (*Subtask, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: subtask name is required", ErrInvalidInput)
	}
	return s.editSubtask(ctx, "update_subtask", columnID, taskID, subtaskID, actor, func(st *Subtask) {
		st.Name = name
	})
}

// ToggleSubtask flips a subtask's completed flag
func (s *Service) ToggleSubtask(ctx context.Context, columnID, taskID, subtaskID string, actor Actor) (*Subtask, error) {
	return s.editSubtask(ctx, "toggle_subtask", columnID, taskID, subtaskID, actor, func(st *Subtask) {
		st.Completed = !st.Completed
	})
}

func (s *Service) editSubtask(ctx context.Context, op, columnID, taskID, subtaskID string, actor Actor, edit func(*Subtask)) (*Subtask, error) {
	var updated Subtask
	_, err := s.mutate(ctx, op, false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		st, err := t.subtask(subtaskID)
		if err != nil {
			return err
		}
		edit(st)
		now := s.now()
		st.UpdatedAt, st.UpdatedBy = now, actor.ID
		t.UpdatedAt, t.UpdatedBy = now, actor.ID
		updated = *st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteSubtask removes a subtask
func (s *Service) DeleteSubtask(ctx context.Context, columnID, taskID, subtaskID string) error {
	_, err := s.mutate(ctx, "delete_subtask", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		if _, err := t.subtask(subtaskID); err != nil {
			return err
		}
		kept := make([]Subtask, 0, len(t.Subtasks))
		for _, st := range t.Subtasks {
			if st.ID != subtaskID {
				kept = append(kept, st)
			}
		}
		t.Subtasks = kept
		return nil
	})
	return err
}
