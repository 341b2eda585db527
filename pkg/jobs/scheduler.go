package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/adminboard/pkg/async"
	"github.com/platinummonkey/adminboard/pkg/kanban"
	"github.com/platinummonkey/adminboard/pkg/observability"
)

const defaultTimeout = time.Minute

// Job is one scheduled task
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// cronLogger adapts observability.Logger to cron.Logger
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(pairs(keysAndValues)).Error(msg)
}

func pairs(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}

// Scheduler runs jobs on their cron schedules
type Scheduler struct {
	cron   *cron.Cron
	logger *observability.Logger
	jobs   []Job
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates an idle scheduler
func NewScheduler(logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithField("component", "jobs")
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules job. An empty schedule disables it.
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		s.logger.WithField("job", job.Name).Info("job disabled")
		return nil
	}
	if job.Timeout <= 0 {
		job.Timeout = defaultTimeout
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) }); err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", job.Name, job.Schedule, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout)
	defer cancel()
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.WithError(err).WithField("job", job.Name).Error("job failed")
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"job":      job.Name,
		"duration": time.Since(start).String(),
	}).Debug("job finished")
}

// Start begins the schedule and runs every job once in the background
func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		job := job
		async.SafeGo(s.ctx, s.logger, job.Timeout, job.Name, job.Run)
	}
	s.cron.Start()
	s.logger.WithField("jobs", len(s.jobs)).Info("scheduler started")
}

// Stop halts the schedule, cancels running jobs and returns a context
// done when they have returned
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.cancel()
	return ctx
}

// BoardChecker inspects the board. Implemented by *kanban.Service.
type BoardChecker interface {
	CheckConsistency(ctx context.Context) (*kanban.Report, error)
}

// ConsistencyJob logs structural drift on the board. It never repairs.
func ConsistencyJob(schedule string, board BoardChecker, logger *observability.Logger) Job {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return Job{
		Name:     "board-consistency",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			report, err := board.CheckConsistency(ctx)
			if err != nil {
				return fmt.Errorf("failed to inspect board: %w", err)
			}
			if report.OK() {
				return nil
			}
			logger.WithFields(map[string]interface{}{
				"orphan_buckets":  report.OrphanBuckets,
				"missing_buckets": report.MissingBuckets,
				"misfiled_tasks":  report.MisfiledTasks,
				"duplicate_tasks": report.DuplicateTasks,
			}).Warn("board structure drift detected")
			return nil
		},
	}
}

// Reloader refreshes the role registry. Implemented by *rbac.Admin.
type Reloader interface {
	Reload(ctx context.Context) error
}

// RoleRefreshJob pulls role edits made by other instances
func RoleRefreshJob(schedule string, roles Reloader) Job {
	return Job{
		Name:     "role-refresh",
		Schedule: schedule,
		Run:      roles.Reload,
	}
}
