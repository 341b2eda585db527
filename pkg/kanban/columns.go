package kanban

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateColumn appends a column named name ("Untitled" when blank) with an
// empty task bucket. Creates the board on first use.
func (s *Service) CreateColumn(ctx context.Context, name string) (*Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultColumnName
	}
	var col Column
	_, err := s.mutate(ctx, "create_column", true, func(b *Board, _ *change) error {
		col = Column{ID: fmt.Sprintf("column-%s-%s", name, uuid.NewString()), Name: name}
		b.Columns = append(b.Columns, col)
		b.Tasks[col.ID] = []Task{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &col, nil
}

// UpdateColumn renames a column
func (s *Service) UpdateColumn(ctx context.Context, columnID, name string) (*Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultColumnName
	}
	var col Column
	_, err := s.mutate(ctx, "update_column", false, func(b *Board, _ *change) error {
		i := b.columnIndex(columnID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
		}
		b.Columns[i].Name = name
		col = b.Columns[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &col, nil
}

// MoveColumn replaces the column order with columns as given. Only id
// uniqueness is checked; the tasks map is left untouched.
func (s *Service) MoveColumn(ctx context.Context, columns []Column) ([]Column, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: column id is required", ErrInvalidInput)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate column %s", ErrInvalidInput, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	b, err := s.mutate(ctx, "move_column", true, func(b *Board, _ *change) error {
		b.Columns = append([]Column{}, columns...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.Columns, nil
}

// ClearColumn empties a column's bucket and deletes the removed tasks'
// blobs
func (s *Service) ClearColumn(ctx context.Context, columnID string) error {
	_, err := s.mutate(ctx, "clear_column", false, func(b *Board, c *change) error {
		if err := b.requireColumn(columnID); err != nil {
			return err
		}
		for _, t := range b.Tasks[columnID] {
			c.deleteTaskBlobs(t)
		}
		b.Tasks[columnID] = []Task{}
		return nil
	})
	return err
}

// DeleteColumn removes the column and its bucket, deleting the bucket's
// blobs
func (s *Service) DeleteColumn(ctx context.Context, columnID string) error {
	_, err := s.mutate(ctx, "delete_column", false, func(b *Board, c *change) error {
		i := b.columnIndex(columnID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrColumnNotFound, columnID)
		}
		for _, t := range b.Tasks[columnID] {
			c.deleteTaskBlobs(t)
		}
		b.Columns = append(b.Columns[:i], b.Columns[i+1:]...)
		delete(b.Tasks, columnID)
		return nil
	})
	return err
}
