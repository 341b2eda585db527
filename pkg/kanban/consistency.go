package kanban

import (
	"context"
	"sort"
)

// Report lists structural drift found on the board. Nothing is repaired.
type Report struct {
	Columns int `json:"columns"`
	Tasks   int `json:"tasks"`
	// OrphanBuckets are task buckets with no matching column
	OrphanBuckets []string `json:"orphanBuckets"`
	// MissingBuckets are columns with no task bucket
	MissingBuckets []string `json:"missingBuckets"`
	// MisfiledTasks are task ids whose status names another column
	MisfiledTasks []string `json:"misfiledTasks"`
	// DuplicateTasks are task ids present more than once
	DuplicateTasks []string `json:"duplicateTasks"`
}

// OK reports whether no drift was found
func (r *Report) OK() bool {
	return len(r.OrphanBuckets) == 0 && len(r.MissingBuckets) == 0 &&
		len(r.MisfiledTasks) == 0 && len(r.DuplicateTasks) == 0
}

// CheckConsistency inspects the stored board
func (s *Service) CheckConsistency(ctx context.Context) (*Report, error) {
	b, err := s.Board(ctx)
	if err != nil {
		return nil, err
	}
	return Inspect(b), nil
}

// Inspect compares a board's columns with its task buckets
func Inspect(b *Board) *Report {
	r := &Report{
		Columns:        len(b.Columns),
		OrphanBuckets:  []string{},
		MissingBuckets: []string{},
		MisfiledTasks:  []string{},
		DuplicateTasks: []string{},
	}
	columns := make(map[string]struct{}, len(b.Columns))
	for _, c := range b.Columns {
		columns[c.ID] = struct{}{}
		if _, ok := b.Tasks[c.ID]; !ok {
			r.MissingBuckets = append(r.MissingBuckets, c.ID)
		}
	}

	seen := map[string]int{}
	for col, bucket := range b.Tasks {
		if _, ok := columns[col]; !ok {
			r.OrphanBuckets = append(r.OrphanBuckets, col)
		}
		for _, t := range bucket {
			r.Tasks++
			seen[t.ID]++
			if t.Status != col {
				r.MisfiledTasks = append(r.MisfiledTasks, t.ID)
			}
		}
	}
	for id, n := range seen {
		if n > 1 {
			r.DuplicateTasks = append(r.DuplicateTasks, id)
		}
	}

	sort.Strings(r.OrphanBuckets)
	sort.Strings(r.MisfiledTasks)
	sort.Strings(r.DuplicateTasks)
	return r
}
