/**
 * @description
 * PlanStore owns a user's savings plans and enforces the plan state machine:
 * active -> matured -> withdrawn | invested.
 *
 * @notes
 * - Maturity is evaluated lazily on every read and by the scheduled sweep. Both use the
 *   same conditional update, so a plan is promoted exactly once.
 * - Settle re-reads the plan under a row lock and writes its new status with a
 *   `WHERE status = 'matured'` guard; a second settle of the same plan always fails.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/money"
	"github.com/transfa/savings-service/internal/store"
)

// PlanStore manages savings plans for one user session.
type PlanStore struct {
	mu     *sync.Mutex
	userID string
	repo   store.Repository
	events EventPublisher
	now    func() time.Time
}

func newPlanStore(mu *sync.Mutex, userID string, deps Dependencies) *PlanStore {
	return &PlanStore{
		mu:     mu,
		userID: userID,
		repo:   deps.Repo,
		events: deps.Events,
		now:    deps.Now,
	}
}

func validateDuration(weeks int) error {
	if weeks < domain.MinPlanWeeks || weeks > domain.MaxPlanWeeks {
		return fmt.Errorf("%w: duration must be between %d and %d weeks", domain.ErrValidation, domain.MinPlanWeeks, domain.MaxPlanWeeks)
	}
	return nil
}

// CreatePlan opens an active plan for a net principal.
func (s *PlanStore) CreatePlan(ctx context.Context, netAmount, originalAmount, fee decimal.Decimal, durationWeeks int) (*domain.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plan, err := s.createPlan(ctx, s.repo, netAmount, originalAmount, fee, durationWeeks, nil)
	if err != nil {
		return nil, err
	}
	publishPlanEvent(ctx, s.events, domain.EventPlanCreated, *plan, s.now())
	return plan, nil
}

func (s *PlanStore) createPlan(ctx context.Context, repo store.Repository, netAmount, originalAmount, fee decimal.Decimal, durationWeeks int, depositTxID *string) (*domain.SavingsPlan, error) {
	if err := validateDuration(durationWeeks); err != nil {
		return nil, err
	}
	if !netAmount.IsPositive() {
		return nil, fmt.Errorf("%w: plan amount must be greater than zero", domain.ErrValidation)
	}
	if fee.IsNegative() || !netAmount.Add(fee).Equal(originalAmount) {
		return nil, fmt.Errorf("%w: original amount must equal amount plus fee", domain.ErrValidation)
	}

	start := s.now()
	plan := &domain.SavingsPlan{
		ID:                   uuid.NewString(),
		UserID:               s.userID,
		DepositTransactionID: depositTxID,
		Amount:               netAmount,
		OriginalAmount:       originalAmount,
		Fee:                  fee,
		DurationWeeks:        durationWeeks,
		StartDate:            start,
		MaturityDate:         domain.MaturityDate(start, durationWeeks),
		Status:               domain.PlanActive,
	}
	if err := repo.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create savings plan: %w", err)
	}
	return plan, nil
}

// AdvanceMaturity promotes the user's due active plans to matured.
func (s *PlanStore) AdvanceMaturity(ctx context.Context, now time.Time) ([]domain.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceMaturity(ctx, now)
}

func (s *PlanStore) advanceMaturity(ctx context.Context, now time.Time) ([]domain.SavingsPlan, error) {
	promoted, err := s.repo.PromoteDuePlans(ctx, s.userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to advance plan maturity: %w", err)
	}
	for _, p := range promoted {
		publishPlanEvent(ctx, s.events, domain.EventPlanMatured, p, now)
	}
	return promoted, nil
}

// ListPlans returns every plan the user owns after promoting any that are due.
func (s *PlanStore) ListPlans(ctx context.Context) ([]domain.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.advanceMaturity(ctx, s.now()); err != nil {
		return nil, err
	}
	plans, err := s.repo.ListPlans(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list savings plans: %w", err)
	}
	return plans, nil
}

// GetPlan returns a single plan after promoting it if it is due.
func (s *PlanStore) GetPlan(ctx context.Context, planID string) (*domain.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.advanceMaturity(ctx, s.now()); err != nil {
		return nil, err
	}
	return s.getPlan(ctx, s.repo, planID)
}

func (s *PlanStore) getPlan(ctx context.Context, repo store.Repository, planID string) (*domain.SavingsPlan, error) {
	plan, err := repo.GetPlanForUpdate(ctx, s.userID, planID)
	if err != nil {
		if errors.Is(err, store.ErrPlanNotFound) {
			return nil, fmt.Errorf("%w: savings plan %s", domain.ErrNotFound, planID)
		}
		return nil, fmt.Errorf("failed to load savings plan: %w", err)
	}
	return plan, nil
}

// Settle splits a matured plan between withdrawal and reinvestment.
func (s *PlanStore) Settle(ctx context.Context, planID string, withdrawAmount, investAmount decimal.Decimal) (*domain.SavingsPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		settled  *domain.SavingsPlan
		promoted []domain.SavingsPlan
	)
	err := s.repo.WithinTx(ctx, func(tx store.Repository) error {
		var err error
		settled, promoted, err = s.settle(ctx, tx, planID, withdrawAmount, investAmount)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, p := range promoted {
		publishPlanEvent(ctx, s.events, domain.EventPlanMatured, p, now)
	}
	publishPlanEvent(ctx, s.events, domain.EventPlanSettled, *settled, now)
	return settled, nil
}

func validateSplit(withdrawAmount, investAmount decimal.Decimal) error {
	if withdrawAmount.IsNegative() || investAmount.IsNegative() {
		return fmt.Errorf("%w: withdraw and invest amounts must not be negative", domain.ErrValidation)
	}
	if !money.WithinLimit(withdrawAmount) || !money.WithinLimit(investAmount) {
		return fmt.Errorf("%w: withdraw and invest amounts must not exceed %s", domain.ErrValidation, money.MaxAmount.StringFixed(2))
	}
	return nil
}

// settleable checks, outside any store transaction, that planID exists and can be
// settled with this split. Due plans are promoted first.
func (s *PlanStore) settleable(ctx context.Context, planID string, withdrawAmount, investAmount decimal.Decimal) (*domain.SavingsPlan, error) {
	if _, err := s.advanceMaturity(ctx, s.now()); err != nil {
		return nil, err
	}
	plan, err := s.getPlan(ctx, s.repo, planID)
	if err != nil {
		return nil, err
	}
	if _, err := settlementStatus(plan, withdrawAmount, investAmount); err != nil {
		return nil, err
	}
	return plan, nil
}

// settlementStatus returns the status a matured plan moves to for the given split.
func settlementStatus(plan *domain.SavingsPlan, withdrawAmount, investAmount decimal.Decimal) (string, error) {
	if plan.Status != domain.PlanMatured {
		return "", fmt.Errorf("%w: savings plan %s is %s, not %s", domain.ErrInvalidState, plan.ID, plan.Status, domain.PlanMatured)
	}

	withdraw := money.Cents(withdrawAmount)
	invest := money.Cents(investAmount)
	if total := withdraw.Add(invest); !total.Equal(plan.Amount) {
		return "", fmt.Errorf("%w: withdraw %s + invest %s = %s, plan amount is %s",
			domain.ErrAmountMismatch, withdraw.StringFixed(2), invest.StringFixed(2), total.StringFixed(2), plan.Amount.StringFixed(2))
	}

	if withdraw.IsZero() {
		return domain.PlanInvested, nil
	}
	return domain.PlanWithdrawn, nil
}

// settle applies the split inside repo's transaction. It also returns any plans it had
// to promote on the way, so the caller can announce them after commit.
func (s *PlanStore) settle(ctx context.Context, repo store.Repository, planID string, withdrawAmount, investAmount decimal.Decimal) (*domain.SavingsPlan, []domain.SavingsPlan, error) {
	if err := validateSplit(withdrawAmount, investAmount); err != nil {
		return nil, nil, err
	}

	plan, err := s.getPlan(ctx, repo, planID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	var promoted []domain.SavingsPlan
	if plan.IsDue(now) {
		if promoted, err = repo.PromoteDuePlans(ctx, s.userID, now); err != nil {
			return nil, nil, fmt.Errorf("failed to advance plan maturity: %w", err)
		}
		if plan, err = s.getPlan(ctx, repo, planID); err != nil {
			return nil, nil, err
		}
	}

	status, err := settlementStatus(plan, withdrawAmount, investAmount)
	if err != nil {
		return nil, nil, err
	}

	settled, err := repo.MarkPlanSettled(ctx, s.userID, plan.ID, status, money.Cents(withdrawAmount), money.Cents(investAmount), now)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, nil, fmt.Errorf("%w: savings plan %s was settled concurrently", domain.ErrInvalidState, plan.ID)
		}
		return nil, nil, fmt.Errorf("failed to settle savings plan: %w", err)
	}
	return settled, promoted, nil
}
