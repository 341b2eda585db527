package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/adminboard/pkg/docstore"
	"github.com/platinummonkey/adminboard/pkg/kanban"
	"github.com/platinummonkey/adminboard/pkg/observability"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stubBoard struct {
	report *kanban.Report
	err    error
}

func (s stubBoard) CheckConsistency(context.Context) (*kanban.Report, error) {
	return s.report, s.err
}

type reloadFunc func(ctx context.Context) error

func (f reloadFunc) Reload(ctx context.Context) error { return f(ctx) }

func TestAddRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(nil)
	err := s.Add(Job{Name: "broken", Schedule: "every tuesday", Run: func(context.Context) error { return nil }})
	assert.ErrorContains(t, err, "failed to schedule broken")

	require.NoError(t, s.Add(Job{Name: "off", Schedule: "", Run: func(context.Context) error { return nil }}))
	assert.Empty(t, s.jobs)
}

func TestStartRunsJobsOnce(t *testing.T) {
	s := NewScheduler(nil)
	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add(RoleRefreshJob("@every 1h", reloadFunc(func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))))

	s.Start()
	defer func() { <-s.Stop().Done() }()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("job did not run at start")
	}
}

func TestConsistencyJob(t *testing.T) {
	out := &syncBuffer{}
	logger := observability.NewLogger(observability.InfoLevel, out)

	clean := ConsistencyJob("@hourly", stubBoard{report: kanban.Inspect(kanban.NewBoard())}, logger)
	require.NoError(t, clean.Run(context.Background()))
	assert.Empty(t, out.String())

	drifted := kanban.NewBoard()
	drifted.Tasks["ghost"] = []kanban.Task{{ID: "t1", Status: "ghost"}}
	job := ConsistencyJob("@hourly", stubBoard{report: kanban.Inspect(drifted)}, logger)
	require.NoError(t, job.Run(context.Background()))
	assert.True(t, strings.Contains(out.String(), "board structure drift detected"))
	assert.True(t, strings.Contains(out.String(), "ghost"))

	failing := ConsistencyJob("@hourly", stubBoard{err: errors.New("store down")}, logger)
	assert.ErrorContains(t, failing.Run(context.Background()), "store down")
}

func TestConsistencyJobAgainstService(t *testing.T) {
	svc := kanban.NewService(kanban.Options{Store: docstore.NewMemoryStore()})
	job := ConsistencyJob("@hourly", svc, nil)
	assert.NoError(t, job.Run(context.Background()))
}
