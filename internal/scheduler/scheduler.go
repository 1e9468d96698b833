// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atmx/portfolio-engine/internal/model"
)

// Job is a unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
}

// New creates a scheduler. Schedules take a leading seconds field, and a
// job still running when its next tick fires is skipped.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		ctx:  ctx,
		stop: cancel,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.stop()
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// AddJob registers job on schedule, e.g. "0 30 22 * * MON-FRI".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(job); err != nil {
			slog.Error("job failed", "job", job.Name(), "error", err)
		}
	})
	if err != nil {
		return err
	}

	slog.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	start := time.Now()
	slog.Debug("running job", "job", job.Name())
	if err := job.Run(s.ctx); err != nil {
		return err
	}
	slog.Debug("job completed", "job", job.Name(), "duration", time.Since(start))
	return nil
}

// PriceRefresher is the refresh operation a RefreshJob drives.
type PriceRefresher interface {
	RefreshPrices(ctx context.Context, priceDate time.Time, symbols, providers []string) (*model.RefreshResult, error)
}

// RefreshJob refreshes today's close for every traded symbol through the
// default provider chain.
type RefreshJob struct {
	refresher PriceRefresher
	now       func() time.Time
}

// NewRefreshJob creates the EOD refresh job.
func NewRefreshJob(r PriceRefresher) *RefreshJob {
	return &RefreshJob{refresher: r, now: time.Now}
}

func (j *RefreshJob) Name() string { return "price_refresh" }

func (j *RefreshJob) Run(ctx context.Context) error {
	result, err := j.refresher.RefreshPrices(ctx, model.Day(j.now().UTC()), nil, nil)
	if err != nil {
		return err
	}
	if len(result.FailedSymbols) > 0 {
		slog.Warn("scheduled refresh left symbols unpriced",
			"price_date", result.PriceDate.String(),
			"failed", result.FailedSymbols,
			"job_run_id", result.JobRunID,
		)
	}
	return nil
}
