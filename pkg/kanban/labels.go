package kanban

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/platinummonkey/adminboard/pkg/docstore"
)

type labelsDoc struct {
	Labels []string `json:"labels"`
}

// AddLabel appends label to a task and makes sure the global vocabulary
// contains it
func (s *Service) AddLabel(ctx context.Context, columnID, taskID, label string, actor Actor) (*Task, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalidInput)
	}
	var updated Task
	_, err := s.mutate(ctx, "add_label", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		if !slices.Contains(t.Labels, label) {
			t.Labels = append(t.Labels, label)
			t.UpdatedAt, t.UpdatedBy = s.now(), actor.ID
		}
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.AddAvailableLabel(ctx, label); err != nil {
		return nil, fmt.Errorf("label added to task but not to the vocabulary: %w", err)
	}
	return &updated, nil
}

// RemoveLabel removes label from a task. The vocabulary is unchanged.
func (s *Service) RemoveLabel(ctx context.Context, columnID, taskID, label string, actor Actor) (*Task, error) {
	var updated Task
	_, err := s.mutate(ctx, "remove_label", false, func(b *Board, _ *change) error {
		t, err := b.task(columnID, taskID)
		if err != nil {
			return err
		}
		t.Labels = slices.DeleteFunc(t.Labels, func(l string) bool { return l == label })
		t.UpdatedAt, t.UpdatedBy = s.now(), actor.ID
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListAvailableLabels returns the global vocabulary
func (s *Service) ListAvailableLabels(ctx context.Context) ([]string, error) {
	var doc labelsDoc
	_, err := docstore.GetInto(ctx, s.store, docstore.CollectionSettings, LabelsDocID, &doc)
	if errors.Is(err, docstore.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Labels == nil {
		doc.Labels = []string{}
	}
	return doc.Labels, nil
}

// AddAvailableLabel adds label to the vocabulary if absent
func (s *Service) AddAvailableLabel(ctx context.Context, label string) ([]string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: label is required", ErrInvalidInput)
	}
	return s.editLabels(ctx, func(labels []string) []string {
		if slices.Contains(labels, label) {
			return labels
		}
		return append(labels, label)
	})
}

// RemoveAvailableLabel drops label from the vocabulary. Tasks keep it.
func (s *Service) RemoveAvailableLabel(ctx context.Context, label string) ([]string, error) {
	return s.editLabels(ctx, func(labels []string) []string {
		return slices.DeleteFunc(labels, func(l string) bool { return l == label })
	})
}

func (s *Service) editLabels(ctx context.Context, edit func([]string) []string) ([]string, error) {
	s.labelsMu.Lock()
	defer s.labelsMu.Unlock()

	for attempt := 0; attempt < s.attempts; attempt++ {
		var doc labelsDoc
		version, err := docstore.GetInto(ctx, s.store, docstore.CollectionSettings, LabelsDocID, &doc)
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return nil, err
		}
		before := len(doc.Labels)
		doc.Labels = edit(append([]string{}, doc.Labels...))
		if doc.Labels == nil {
			doc.Labels = []string{}
		}
		if version > 0 && len(doc.Labels) == before {
			return doc.Labels, nil
		}
		_, err = s.settings.Replace(ctx, LabelsDocID, doc, version)
		if errors.Is(err, docstore.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save labels: %w", err)
		}
		return doc.Labels, nil
	}
	return nil, ErrConflict
}
