/**
 * @description
 * Coordinator orchestrates every flow that touches more than one component: opening a
 * plan from a deposit, settling a matured plan, standalone investing and paying out a
 * matured investment.
 *
 * @notes
 * - Input validation and payment method resolution happen before any external call.
 * - Once a charge is accepted, its store writes run detached from the caller's context.
 *   If they still fail, the completed transaction is recorded on its own and
 *   ErrPlanNotCreated is returned.
 * - The deposit charge runs before the store transaction; the plan is only written
 *   after the charge completed, together with its transaction row.
 * - Settlement writes (plan status, investment, withdrawal row) share one store
 *   transaction. Caches, the session log and events are only touched after commit.
 */
package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/money"
	"github.com/transfa/savings-service/internal/store"
)

// Coordinator runs the cross-component flows of one user session.
type Coordinator struct {
	mu      *sync.Mutex
	userID  string
	repo    store.Repository
	events  EventPublisher
	now     func() time.Time
	gateway *PaymentGateway
	plans   *PlanStore
	ledger  *InvestmentLedger
}

// StartPlanResult is the outcome of a successful StartSavingsPlan.
type StartPlanResult struct {
	Transaction domain.Transaction `json:"transaction"`
	Plan        domain.SavingsPlan `json:"plan"`
}

// InvestmentWithdrawalResult is the outcome of a successful WithdrawInvestment.
type InvestmentWithdrawalResult struct {
	Investment domain.Investment  `json:"investment"`
	Withdrawal domain.Transaction `json:"withdrawal"`
}

// StartSavingsPlan charges a deposit and opens a plan for its net amount.
func (c *Coordinator) StartSavingsPlan(ctx context.Context, depositAmount decimal.Decimal, durationWeeks int, methodID string) (*StartPlanResult, error) {
	if err := validateMoneyAmount(depositAmount); err != nil {
		return nil, err
	}
	if err := validateDuration(durationWeeks); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.gateway.charge(ctx, depositAmount, methodID)
	if tx == nil {
		return nil, err
	}
	if err != nil {
		writeCtx, cancel := detached(ctx)
		defer cancel()
		if recErr := c.gateway.record(writeCtx, c.repo, tx); recErr != nil {
			log.Printf("level=error component=coordinator msg=\"failed deposit not recorded\" user_id=%s transaction_id=%s err=%v", c.userID, tx.ID, recErr)
		} else {
			c.gateway.appendLog(*tx)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrDepositFailed, err)
	}

	// The processor has taken the money. From here on the writes run on a context the
	// caller cannot cancel.
	writeCtx, cancel := detached(ctx)
	defer cancel()

	var plan *domain.SavingsPlan
	err = c.repo.WithinTx(writeCtx, func(repo store.Repository) error {
		if err := c.gateway.record(writeCtx, repo, tx); err != nil {
			return err
		}
		var err error
		plan, err = c.plans.createPlan(writeCtx, repo, tx.NetAmount, tx.Amount, tx.Fee, durationWeeks, &tx.ID)
		return err
	})
	if err != nil {
		return nil, c.recordOrphanedDeposit(ctx, tx, err)
	}

	c.gateway.appendLog(*tx)
	publishPlanEvent(writeCtx, c.events, domain.EventPlanCreated, *plan, c.now())

	log.Printf("level=info component=coordinator msg=\"savings plan started\" user_id=%s plan_id=%s amount=%s weeks=%d",
		c.userID, plan.ID, plan.Amount.StringFixed(2), plan.DurationWeeks)
	return &StartPlanResult{Transaction: *tx, Plan: *plan}, nil
}

// recordOrphanedDeposit stores a charged deposit whose plan could not be written, so the
// money stays visible to reconciliation.
func (c *Coordinator) recordOrphanedDeposit(ctx context.Context, tx *domain.Transaction, cause error) error {
	log.Printf("level=error component=coordinator msg=\"deposit charged but plan not created\" user_id=%s transaction_id=%s charge_id=%s err=%v",
		c.userID, tx.ID, derefString(tx.ChargeID), cause)

	writeCtx, cancel := detached(ctx)
	defer cancel()
	if err := c.gateway.record(writeCtx, c.repo, tx); err != nil {
		log.Printf("level=error component=coordinator msg=\"charged deposit not recorded\" user_id=%s transaction_id=%s charge_id=%s amount=%s err=%v",
			c.userID, tx.ID, derefString(tx.ChargeID), tx.Amount.StringFixed(2), err)
	} else {
		c.gateway.appendLog(*tx)
	}
	return fmt.Errorf("%w: transaction %s: %w", domain.ErrPlanNotCreated, tx.ID, cause)
}

// SettleMaturedPlan splits a matured plan into a withdrawal and an investment. When
// methodID is empty the withdrawal goes to the default payment method.
func (c *Coordinator) SettleMaturedPlan(ctx context.Context, planID string, withdrawAmount, investAmount decimal.Decimal, methodID string) (*domain.SettlementResult, error) {
	if err := validateSplit(withdrawAmount, investAmount); err != nil {
		return nil, err
	}
	withdrawAmount = money.Cents(withdrawAmount)
	investAmount = money.Cents(investAmount)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Plan state and amounts are checked before the payout method is resolved.
	if _, err := c.plans.settleable(ctx, planID, withdrawAmount, investAmount); err != nil {
		return nil, err
	}

	var payoutMethod *domain.PaymentMethod
	if withdrawAmount.IsPositive() {
		var err error
		if methodID == "" {
			payoutMethod, err = c.gateway.defaultMethod(ctx)
		} else {
			payoutMethod, err = c.gateway.findMethod(ctx, methodID)
		}
		if err != nil {
			return nil, err
		}
	}

	result := &domain.SettlementResult{}
	var promoted []domain.SavingsPlan
	err := c.repo.WithinTx(ctx, func(repo store.Repository) error {
		plan, due, err := c.plans.settle(ctx, repo, planID, withdrawAmount, investAmount)
		if err != nil {
			return err
		}
		promoted = due
		result.Plan = *plan

		if investAmount.IsPositive() {
			inv, err := c.ledger.createInvestment(ctx, repo, investAmount, money.InvestmentRate, money.InvestmentTermMonths, &plan.ID)
			if err != nil {
				return err
			}
			result.Investment = inv
		}

		if withdrawAmount.IsPositive() {
			tx, err := c.gateway.withdrawal(withdrawAmount, payoutMethod)
			if err != nil {
				return err
			}
			if err := c.gateway.record(ctx, repo, tx); err != nil {
				return err
			}
			result.Withdrawal = tx
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	if result.Withdrawal != nil {
		c.gateway.appendLog(*result.Withdrawal)
	}
	for _, p := range promoted {
		publishPlanEvent(ctx, c.events, domain.EventPlanMatured, p, now)
	}
	publishPlanEvent(ctx, c.events, domain.EventPlanSettled, result.Plan, now)
	if result.Investment != nil {
		publishInvestmentEvent(ctx, c.events, domain.EventInvestmentCreated, *result.Investment, now)
	}

	log.Printf("level=info component=coordinator msg=\"savings plan settled\" user_id=%s plan_id=%s status=%s withdrawn=%s invested=%s",
		c.userID, result.Plan.ID, result.Plan.Status, withdrawAmount.StringFixed(2), investAmount.StringFixed(2))
	return result, nil
}

// Invest opens a standalone investment from already matured external savings.
func (c *Coordinator) Invest(ctx context.Context, amount decimal.Decimal) (*domain.Investment, error) {
	if err := validateMoneyAmount(amount); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	inv, err := c.ledger.createInvestment(ctx, c.repo, amount, money.InvestmentRate, money.InvestmentTermMonths, nil)
	if err != nil {
		return nil, err
	}
	publishInvestmentEvent(ctx, c.events, domain.EventInvestmentCreated, *inv, c.now())
	return inv, nil
}

// WithdrawInvestment pays out a matured investment's expected return to a payment method.
func (c *Coordinator) WithdrawInvestment(ctx context.Context, investmentID, methodID string) (*InvestmentWithdrawalResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.ledger.withdrawable(ctx, investmentID); err != nil {
		return nil, err
	}

	var (
		method *domain.PaymentMethod
		err    error
	)
	if methodID == "" {
		method, err = c.gateway.defaultMethod(ctx)
	} else {
		method, err = c.gateway.findMethod(ctx, methodID)
	}
	if err != nil {
		return nil, err
	}

	result := &InvestmentWithdrawalResult{}
	var promoted []domain.Investment
	err = c.repo.WithinTx(ctx, func(repo store.Repository) error {
		inv, due, err := c.ledger.markWithdrawn(ctx, repo, investmentID)
		if err != nil {
			return err
		}
		promoted = due
		result.Investment = *inv

		tx, err := c.gateway.withdrawal(money.Cents(inv.ExpectedReturn), method)
		if err != nil {
			return err
		}
		if err := c.gateway.record(ctx, repo, tx); err != nil {
			return err
		}
		result.Withdrawal = *tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := c.now()
	c.gateway.appendLog(result.Withdrawal)
	for _, inv := range promoted {
		publishInvestmentEvent(ctx, c.events, domain.EventInvestmentMatured, inv, now)
	}
	publishInvestmentEvent(ctx, c.events, domain.EventInvestmentWithdrawn, result.Investment, now)
	return result, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
