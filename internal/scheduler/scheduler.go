package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/sreyakumar/metadata-embeddings/internal/logger"
)

// IngestJobTag names the recurring ingestion job.
const IngestJobTag = "ingest"

// Scheduler runs ingestion on a schedule. Runs never overlap: a tick that
// fires while the previous run is still going is skipped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
	ctx       context.Context
}

// NewScheduler creates a new scheduler in UTC
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop stops the scheduler and cancels the context handed to running jobs
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

// Schedule registers job under tag. expr is either a Go duration ("6h")
// for a fixed interval or a cron expression ("0 */6 * * *").
func (s *Scheduler) Schedule(tag, expr string, job func(ctx context.Context) error) error {
	run := func() {
		start := time.Now()
		logger.Info("Scheduled job started", "tag", tag)
		if err := job(s.ctx); err != nil {
			logger.Error("Scheduled job failed", "tag", tag, "error", err, "duration", time.Since(start).String())
			return
		}
		logger.Info("Scheduled job finished", "tag", tag, "duration", time.Since(start).String())
	}

	var err error
	if d, parseErr := time.ParseDuration(expr); parseErr == nil {
		if d <= 0 {
			return fmt.Errorf("invalid interval %q", expr)
		}
		_, err = s.scheduler.Every(d).Tag(tag).Do(run)
	} else {
		_, err = s.scheduler.Cron(expr).Tag(tag).Do(run)
	}
	if err != nil {
		return fmt.Errorf("failed to schedule %s with %q: %w", tag, expr, err)
	}
	return nil
}

// GetJobs returns all scheduled jobs
func (s *Scheduler) GetJobs() []*gocron.Job {
	return s.scheduler.Jobs()
}
