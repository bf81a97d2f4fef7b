/**
 * @description
 * InvestmentLedger owns a user's investments. An investment locks in simple interest at
 * creation and runs for a fixed term: active -> matured -> withdrawn.
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

// InvestmentLedger manages investments for one user session.
type InvestmentLedger struct {
	mu     *sync.Mutex
	userID string
	repo   store.Repository
	events EventPublisher
	now    func() time.Time
}

func newInvestmentLedger(mu *sync.Mutex, userID string, deps Dependencies) *InvestmentLedger {
	return &InvestmentLedger{
		mu:     mu,
		userID: userID,
		repo:   deps.Repo,
		events: deps.Events,
		now:    deps.Now,
	}
}

// CreateInvestment opens an active investment. sourcePlanID is nil for standalone investments.
func (l *InvestmentLedger) CreateInvestment(ctx context.Context, principal, rate decimal.Decimal, months int, sourcePlanID *string) (*domain.Investment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, err := l.createInvestment(ctx, l.repo, principal, rate, months, sourcePlanID)
	if err != nil {
		return nil, err
	}
	publishInvestmentEvent(ctx, l.events, domain.EventInvestmentCreated, *inv, l.now())
	return inv, nil
}

func (l *InvestmentLedger) createInvestment(ctx context.Context, repo store.Repository, principal, rate decimal.Decimal, months int, sourcePlanID *string) (*domain.Investment, error) {
	if !principal.IsPositive() {
		return nil, fmt.Errorf("%w: investment amount must be greater than zero", domain.ErrValidation)
	}
	if !money.HasCentPrecision(principal) {
		return nil, fmt.Errorf("%w: investment amount must not have more than two decimal places", domain.ErrValidation)
	}
	if !money.WithinLimit(principal) {
		return nil, fmt.Errorf("%w: investment amount must not exceed %s", domain.ErrValidation, money.MaxAmount.StringFixed(2))
	}
	if months <= 0 {
		return nil, fmt.Errorf("%w: investment term must be at least one month", domain.ErrValidation)
	}

	profit, err := money.Profit(principal, rate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	start := l.now()
	inv := &domain.Investment{
		ID:             uuid.NewString(),
		UserID:         l.userID,
		SourcePlanID:   sourcePlanID,
		Amount:         principal,
		InterestRate:   rate,
		Profit:         profit,
		ExpectedReturn: principal.Add(profit),
		StartDate:      start,
		EndDate:        start.AddDate(0, months, 0),
		Status:         domain.InvestmentActive,
	}
	if err := repo.CreateInvestment(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create investment: %w", err)
	}
	return inv, nil
}

// ListInvestments returns the user's investments after promoting any that are due.
func (l *InvestmentLedger) ListInvestments(ctx context.Context) ([]domain.Investment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.advanceMaturity(ctx, l.now()); err != nil {
		return nil, err
	}
	investments, err := l.repo.ListInvestments(ctx, l.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	return investments, nil
}

// AdvanceMaturity promotes active investments whose end date has passed.
func (l *InvestmentLedger) AdvanceMaturity(ctx context.Context, now time.Time) ([]domain.Investment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.advanceMaturity(ctx, now)
}

func (l *InvestmentLedger) advanceMaturity(ctx context.Context, now time.Time) ([]domain.Investment, error) {
	promoted, err := l.repo.PromoteDueInvestments(ctx, l.userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to advance investment maturity: %w", err)
	}
	for _, inv := range promoted {
		publishInvestmentEvent(ctx, l.events, domain.EventInvestmentMatured, inv, now)
	}
	return promoted, nil
}

// MarkWithdrawn closes a matured investment.
func (l *InvestmentLedger) MarkWithdrawn(ctx context.Context, investmentID string) (*domain.Investment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		inv      *domain.Investment
		promoted []domain.Investment
	)
	err := l.repo.WithinTx(ctx, func(tx store.Repository) error {
		var err error
		inv, promoted, err = l.markWithdrawn(ctx, tx, investmentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := l.now()
	for _, p := range promoted {
		publishInvestmentEvent(ctx, l.events, domain.EventInvestmentMatured, p, now)
	}
	publishInvestmentEvent(ctx, l.events, domain.EventInvestmentWithdrawn, *inv, now)
	return inv, nil
}

func (l *InvestmentLedger) getInvestment(ctx context.Context, repo store.Repository, investmentID string) (*domain.Investment, error) {
	inv, err := repo.GetInvestmentForUpdate(ctx, l.userID, investmentID)
	if err != nil {
		if errors.Is(err, store.ErrInvestmentNotFound) {
			return nil, fmt.Errorf("%w: investment %s", domain.ErrNotFound, investmentID)
		}
		return nil, fmt.Errorf("failed to load investment: %w", err)
	}
	return inv, nil
}

func requireMatured(inv *domain.Investment) error {
	if inv.Status != domain.InvestmentMatured {
		return fmt.Errorf("%w: investment %s is %s, not %s", domain.ErrInvalidState, inv.ID, inv.Status, domain.InvestmentMatured)
	}
	return nil
}

// withdrawable checks, outside any store transaction, that investmentID exists and has
// matured. Due investments are promoted first.
func (l *InvestmentLedger) withdrawable(ctx context.Context, investmentID string) (*domain.Investment, error) {
	if _, err := l.advanceMaturity(ctx, l.now()); err != nil {
		return nil, err
	}
	inv, err := l.getInvestment(ctx, l.repo, investmentID)
	if err != nil {
		return nil, err
	}
	if err := requireMatured(inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// markWithdrawn closes the investment inside repo's transaction and returns any
// investments it promoted on the way.
func (l *InvestmentLedger) markWithdrawn(ctx context.Context, repo store.Repository, investmentID string) (*domain.Investment, []domain.Investment, error) {
	inv, err := l.getInvestment(ctx, repo, investmentID)
	if err != nil {
		return nil, nil, err
	}

	now := l.now()
	var promoted []domain.Investment
	if inv.IsDue(now) {
		if promoted, err = repo.PromoteDueInvestments(ctx, l.userID, now); err != nil {
			return nil, nil, fmt.Errorf("failed to advance investment maturity: %w", err)
		}
		inv.Status = domain.InvestmentMatured
	}
	if err := requireMatured(inv); err != nil {
		return nil, nil, err
	}

	withdrawn, err := repo.MarkInvestmentWithdrawn(ctx, l.userID, inv.ID)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, nil, fmt.Errorf("%w: investment %s was withdrawn concurrently", domain.ErrInvalidState, inv.ID)
		}
		return nil, nil, fmt.Errorf("failed to withdraw investment: %w", err)
	}
	return withdrawn, promoted, nil
}
