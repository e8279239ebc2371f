package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-autoreply-backend/internal/config"
	"github.com/tbourn/go-autoreply-backend/internal/domain"
	"github.com/tbourn/go-autoreply-backend/internal/repo"
)

// JobProcessor runs one claimed job to a resulting status.
type JobProcessor interface {
	Process(ctx context.Context, job *domain.ReplyJob) (domain.JobStatus, error)
}

// TickResult summarizes one scheduler tick.
type TickResult struct {
	Skipped   bool
	Requeued  int64
	Expired   int64
	Dequeued  int
	Claimed   int
	Processed int64
	TimedOut  int64
}

// PurgeResult summarizes one retention pass.
type PurgeResult struct {
	Jobs     int64
	Receipts int64
}

// Scheduler periodically drains due reply jobs. Ticks are single-flight per
// process; running more than one instance against the same database is not
// supported.
type Scheduler struct {
	DB        *gorm.DB
	Processor JobProcessor
	Config    config.SchedulerConfig

	running atomic.Bool
	now     func() time.Time
}

// NewScheduler wires a Scheduler.
func NewScheduler(db *gorm.DB, p JobProcessor, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		DB:        db,
		Processor: p,
		Config:    cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run ticks every Config.Interval and purges every Config.PurgeInterval until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	tick := time.NewTicker(s.Config.Interval)
	defer tick.Stop()
	purge := time.NewTicker(s.Config.PurgeInterval)
	defer purge.Stop()

	log.Info().
		Dur("interval", s.Config.Interval).
		Int("batch_size", s.Config.BatchSize).
		Int("concurrency", s.Config.Concurrency).
		Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-tick.C:
			if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("scheduler tick failed")
			}
		case <-purge.C:
			if _, err := s.Purge(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("retention purge failed")
			}
		}
	}
}

// Tick runs one pass: lease sweep, dequeue a bounded batch, claim and
// process the claimed jobs with bounded concurrency. A tick that starts while
// another is running returns immediately with Skipped set.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	if !s.running.CompareAndSwap(false, true) {
		res.Skipped = true
		return res, nil
	}
	defer s.running.Store(false)

	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	lg := log.With().Str("tick_id", uuid.NewString()).Logger()
	ctx = lg.WithContext(ctx)
	now := s.now()

	var err error
	res.Requeued, res.Expired, err = repo.RequeueStaleJobs(ctx, s.DB, now.Add(-s.Config.LeaseGrace), now)
	if err != nil {
		return res, err
	}
	if res.Requeued+res.Expired > 0 {
		lg.Warn().Int64("requeued", res.Requeued).Int64("failed", res.Expired).Msg("stale processing jobs recovered")
	}

	jobs, err := repo.DequeueJobs(ctx, s.DB, now, s.Config.BatchSize)
	if err != nil {
		return res, err
	}
	res.Dequeued = len(jobs)

	var processed, timedOut atomic.Int64
	var g errgroup.Group
	g.SetLimit(max(s.Config.Concurrency, 1))
	for i := range jobs {
		job := jobs[i]
		if err := repo.ClaimJob(ctx, s.DB, job.ID, s.now()); err != nil {
			if errors.Is(err, repo.ErrConflict) {
				continue
			}
			lg.Error().Err(err).Str("job_id", job.ID).Msg("claim failed")
			continue
		}
		job.Status = domain.JobProcessing
		res.Claimed++
		g.Go(func() error {
			if s.runJob(ctx, &job) {
				processed.Add(1)
			} else {
				timedOut.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Processed, res.TimedOut = processed.Load(), timedOut.Load()
	if res.Claimed > 0 {
		lg.Info().
			Int("claimed", res.Claimed).
			Int64("processed", res.Processed).
			Int64("timed_out", res.TimedOut).
			Msg("scheduler tick")
	}
	return res, nil
}

// runJob races the job against Config.JobTimeout. It reports false when the
// timeout won; the job then stays in processing until the lease sweep.
func (s *Scheduler) runJob(ctx context.Context, job *domain.ReplyJob) bool {
	jctx, cancel := context.WithTimeout(ctx, s.Config.JobTimeout)
	defer cancel()

	lg := zerolog.Ctx(ctx).With().Str("job_id", job.ID).Str("tenant_id", job.TenantID).Logger()
	done := make(chan error, 1)
	go func() {
		_, err := s.Processor.Process(jctx, job)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			lg.Error().Err(err).Msg("job processing error")
		}
		return true
	case <-jctx.Done():
		lg.Error().Dur("timeout", s.Config.JobTimeout).Msg("job timed out; left in processing")
		return false
	}
}

// Purge deletes terminal jobs past the retention window and expired
// notification receipts.
func (s *Scheduler) Purge(ctx context.Context) (PurgeResult, error) {
	var res PurgeResult
	now := s.now()
	var err error
	if res.Jobs, err = repo.PurgeTerminalJobs(ctx, s.DB, now.Add(-s.Config.Retention)); err != nil {
		return res, err
	}
	if res.Receipts, err = repo.PurgeExpiredReceipts(ctx, s.DB, now); err != nil {
		return res, err
	}
	if res.Jobs+res.Receipts > 0 {
		log.Info().Int64("jobs", res.Jobs).Int64("receipts", res.Receipts).Msg("retention purge")
	}
	return res, nil
}
