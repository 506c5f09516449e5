// Package scheduler runs periodic maintenance: response-cache purges and the
// monthly reset of the in-memory search usage counter.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/leolimacr/advisor-core/internal/metrics"
)

const (
	JobCachePurge = "cache_purge"
	JobUsageReset = "usage_reset"
)

// Purger drops expired entries
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// Resetter zeroes a counter
type Resetter interface {
	Reset(ctx context.Context) error
}

// Config holds job schedules in cron syntax
type Config struct {
	CachePurgeSpec string         `yaml:"cache_purge_spec"`
	UsageResetSpec string         `yaml:"usage_reset_spec"`
	JobTimeout     time.Duration  `yaml:"job_timeout"`
	Location       *time.Location `yaml:"-"`
}

// Scheduler manages cron jobs
type Scheduler struct {
	cron   *cron.Cron
	config Config
	logger *logrus.Logger
}

// NewScheduler creates a scheduler. Jobs recover from panics and a run is
// skipped while the previous one is still going.
func NewScheduler(config Config, logger *logrus.Logger) *Scheduler {
	if config.CachePurgeSpec == "" {
		config.CachePurgeSpec = "@every 5m"
	}
	if config.UsageResetSpec == "" {
		config.UsageResetSpec = "0 0 1 * *"
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.Location == nil {
		config.Location = time.UTC
	}

	cronLogger := cron.PrintfLogger(logger.WithField("component", "scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		config: config,
		logger: logger,
	}
}

// AddCachePurge schedules purges of c
func (s *Scheduler) AddCachePurge(c Purger) error {
	return s.add(JobCachePurge, s.config.CachePurgeSpec, func(ctx context.Context) error {
		removed, err := c.Purge(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			s.logger.WithField("removed", removed).Debug("Purged expired cache entries")
		}
		return nil
	})
}

// AddUsageReset schedules resets of r
func (s *Scheduler) AddUsageReset(r Resetter) error {
	return s.add(JobUsageReset, s.config.UsageResetSpec, func(ctx context.Context) error {
		if err := r.Reset(ctx); err != nil {
			return err
		}
		s.logger.Info("Search usage counter reset")
		return nil
	})
}

func (s *Scheduler) add(name, spec string, job func(context.Context) error) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	s.logger.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("Scheduled job")
	return nil
}

func (s *Scheduler) run(name string, job func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		metrics.ScheduledJobs.WithLabelValues(name, "error").Inc()
		s.logger.WithError(err).WithField("job", name).Warn("Scheduled job failed")
		return
	}
	metrics.ScheduledJobs.WithLabelValues(name, "ok").Inc()
	s.logger.WithFields(logrus.Fields{
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Scheduled job completed")
}

// Jobs returns the number of scheduled jobs
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs, bounded by ctx
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}
