/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/transfa/savings-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.MaturityJobSchedule, s.jobs.ProcessMaturity); err != nil {
		s.logger.Error("failed to schedule maturity job", "error", err)
	} else {
		s.logger.Info("scheduled maturity job", "schedule", s.config.MaturityJobSchedule)
	}

	if _, err := s.cron.AddFunc(s.config.SessionPruneSchedule, s.jobs.PruneSessions); err != nil {
		s.logger.Error("failed to schedule session prune job", "error", err)
	} else {
		s.logger.Info("scheduled session prune job", "schedule", s.config.SessionPruneSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
