/**
 * @description
 * Scheduled job implementations for the savings-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/savings-service/internal/config"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/store"
)

// SweepResult reports what one maturity sweep promoted.
type SweepResult struct {
	PlansMatured       int `json:"plans_matured"`
	InvestmentsMatured int `json:"investments_matured"`
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo     store.Repository
	events   EventPublisher
	sessions *Sessions
	logger   *slog.Logger
	config   config.Config
	now      func() time.Time
}

// NewJobs creates a new Jobs runner. sessions may be nil when there is no session registry
// to prune, as in the CLI.
func NewJobs(repo store.Repository, events EventPublisher, sessions *Sessions, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		repo:     repo,
		events:   events,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
}

// RunMaturitySweep promotes every due plan and investment across all users.
func (j *Jobs) RunMaturitySweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := j.now()

	plans, err := j.repo.PromoteDuePlans(ctx, "", now)
	if err != nil {
		return result, err
	}
	result.PlansMatured = len(plans)
	for _, p := range plans {
		publishPlanEvent(ctx, j.events, domain.EventPlanMatured, p, now)
	}

	investments, err := j.repo.PromoteDueInvestments(ctx, "", now)
	if err != nil {
		return result, err
	}
	result.InvestmentsMatured = len(investments)
	for _, inv := range investments {
		publishInvestmentEvent(ctx, j.events, domain.EventInvestmentMatured, inv, now)
	}

	return result, nil
}

// ProcessMaturity is the cron entry point for the maturity sweep.
func (j *Jobs) ProcessMaturity() {
	j.logger.Info("starting maturity sweep job")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := j.RunMaturitySweep(ctx)
	if err != nil {
		j.logger.Error("maturity sweep failed", "error", err, "plans_matured", result.PlansMatured)
		return
	}

	j.logger.Info("maturity sweep job finished", "plans_matured", result.PlansMatured, "investments_matured", result.InvestmentsMatured)
}

// PruneSessions drops idle user sessions.
func (j *Jobs) PruneSessions() {
	if j.sessions == nil {
		return
	}
	removed := j.sessions.Prune(j.config.SessionIdleTTL())
	if removed > 0 {
		j.logger.Info("pruned idle sessions", "removed", removed, "remaining", j.sessions.Len())
	}
}
