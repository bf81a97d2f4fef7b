package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/money"
)

func TestStartSavingsPlan_CreatesPlanFromNetAmount(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	start := env.clock.Now()

	res, err := env.session.Coordinator.StartSavingsPlan(context.Background(), dec("1000"), 10, "card-1")
	require.NoError(t, err)

	assert.True(t, res.Transaction.Amount.Equal(dec("1000")))
	assert.True(t, res.Transaction.Fee.Equal(dec("20")))
	assert.True(t, res.Transaction.NetAmount.Equal(dec("980")))
	assert.Equal(t, domain.TransactionCompleted, res.Transaction.Status)

	plan := res.Plan
	assert.True(t, plan.Amount.Equal(dec("980")))
	assert.True(t, plan.OriginalAmount.Equal(dec("1000")))
	assert.True(t, plan.Fee.Equal(dec("20")))
	assert.Equal(t, 10, plan.DurationWeeks)
	assert.Equal(t, domain.PlanActive, plan.Status)
	assert.Equal(t, start.AddDate(0, 0, 70), plan.MaturityDate)
	require.NotNil(t, plan.DepositTransactionID)
	assert.Equal(t, res.Transaction.ID, *plan.DepositTransactionID)

	assert.Contains(t, env.events.keys(), domain.EventPlanCreated)
	assert.Len(t, env.session.Gateway.Transactions(), 1)
}

func TestStartSavingsPlan_ValidatesBeforeCharging(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	for _, weeks := range []int{0, 9, 21} {
		_, err := env.session.Coordinator.StartSavingsPlan(ctx, dec("1000"), weeks, "card-1")
		require.ErrorIs(t, err, domain.ErrValidation, "weeks=%d", weeks)
	}
	_, err := env.session.Coordinator.StartSavingsPlan(ctx, dec("-5"), 10, "card-1")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.session.Coordinator.StartSavingsPlan(ctx, dec("100"), 10, "missing")
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	assert.Zero(t, env.processor.chargeCount())
	plans, err := env.session.Plans.ListPlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestStartSavingsPlan_FailedChargeCreatesNoPlan(t *testing.T) {
	for _, chargeErr := range []error{domain.ErrGateway, domain.ErrTimeout, context.Canceled} {
		t.Run(chargeErr.Error(), func(t *testing.T) {
			env := newTestEnv(t)
			env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
			env.processor.chargeErr = chargeErr

			_, err := env.session.Coordinator.StartSavingsPlan(context.Background(), dec("1000"), 12, "card-1")
			require.ErrorIs(t, err, domain.ErrDepositFailed)
			if errors.Is(chargeErr, domain.ErrTimeout) {
				assert.ErrorIs(t, err, domain.ErrTimeout)
			} else {
				assert.ErrorIs(t, err, domain.ErrGateway)
			}

			plans, err := env.session.Plans.ListPlans(context.Background())
			require.NoError(t, err)
			assert.Empty(t, plans)

			txs := env.transactions(t)
			require.Len(t, txs, 1)
			assert.Equal(t, domain.TransactionFailed, txs[0].Status)
		})
	}
}

func TestStartSavingsPlan_PlanFailureKeepsChargedTransaction(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	session := env.withRepo(&faultyRepo{Repository: env.repo, createPlanErr: errTransientStore})

	_, err := session.Coordinator.StartSavingsPlan(context.Background(), dec("1000"), 10, "card-1")
	require.ErrorIs(t, err, domain.ErrPlanNotCreated)
	assert.ErrorIs(t, err, errTransientStore)
	assert.NotErrorIs(t, err, domain.ErrDepositFailed)

	// The plan write rolled back, but the money the processor took is still on record.
	txs := env.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionCompleted, txs[0].Status)
	require.NotNil(t, txs[0].ChargeID)
	assert.Equal(t, "ch_test", *txs[0].ChargeID)
	assert.Len(t, session.Gateway.Transactions(), 1)

	plans, err := session.Plans.ListPlans(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestStartSavingsPlan_CancelledAfterChargeStillCreatesPlan(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	session := env.withRepo(&ctxRepo{Repository: env.repo})

	// The client goes away right after the processor accepts the charge.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.processor.afterCharge = cancel

	res, err := session.Coordinator.StartSavingsPlan(ctx, dec("1000"), 10, "card-1")
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, 1, env.processor.chargeCount())

	txs := env.transactions(t)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionCompleted, txs[0].Status)

	plans, err := env.repo.ListPlans(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, res.Plan.ID, plans[0].ID)
	assert.True(t, plans[0].Amount.Equal(dec("980")))
}

func TestStartSavingsPlan_RejectsAmountAboveLimitBeforeCharging(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	for _, amount := range []string{"1000000000000.01", "100000000000000000"} {
		_, err := env.session.Coordinator.StartSavingsPlan(ctx, dec(amount), 10, "card-1")
		require.ErrorIs(t, err, domain.ErrValidation, "amount=%s", amount)
	}
	assert.Zero(t, env.processor.chargeCount())
	assert.Empty(t, env.transactions(t))

	_, err := env.session.Coordinator.StartSavingsPlan(ctx, money.MaxAmount, 10, "card-1")
	require.NoError(t, err)
	assert.Equal(t, 1, env.processor.chargeCount())

	_, err = env.session.Coordinator.Invest(ctx, dec("1000000000000.01"))
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = env.session.Gateway.ProcessDeposit(ctx, dec("5000000000000"), "card-1")
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 1, env.processor.chargeCount())
}

func TestPlanMaturity_IsLazyOnRead(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	res, err := env.session.Coordinator.StartSavingsPlan(ctx, dec("1000"), 10, "card-1")
	require.NoError(t, err)

	env.clock.Advance(70*24*time.Hour - time.Second)
	plan, err := env.session.Plans.GetPlan(ctx, res.Plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanActive, plan.Status)

	env.clock.Advance(time.Second)
	plans, err := env.session.Plans.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, domain.PlanMatured, plans[0].Status)
	assert.Contains(t, env.events.keys(), domain.EventPlanMatured)

	// The maturity date never moves.
	assert.Equal(t, res.Plan.MaturityDate, plans[0].MaturityDate)
}

func TestSettleMaturedPlan_SplitWithdrawAndInvest(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)

	res, err := env.session.Coordinator.SettleMaturedPlan(context.Background(), plan.ID, dec("480"), dec("500"), "")
	require.NoError(t, err)

	assert.Equal(t, domain.PlanWithdrawn, res.Plan.Status)
	require.NotNil(t, res.Plan.WithdrawnAmount)
	require.NotNil(t, res.Plan.InvestedAmount)
	assert.True(t, res.Plan.WithdrawnAmount.Equal(dec("480")))
	assert.True(t, res.Plan.InvestedAmount.Equal(dec("500")))

	require.NotNil(t, res.Investment)
	inv := res.Investment
	assert.True(t, inv.Amount.Equal(dec("500")))
	assert.True(t, inv.InterestRate.Equal(dec("0.10")))
	assert.True(t, inv.Profit.Equal(dec("50")))
	assert.True(t, inv.ExpectedReturn.Equal(dec("550")))
	assert.Equal(t, domain.InvestmentActive, inv.Status)
	assert.Equal(t, inv.StartDate.AddDate(0, 6, 0), inv.EndDate)
	require.NotNil(t, inv.SourcePlanID)
	assert.Equal(t, plan.ID, *inv.SourcePlanID)

	require.NotNil(t, res.Withdrawal)
	assert.Equal(t, domain.TransactionWithdrawal, res.Withdrawal.Type)
	assert.True(t, res.Withdrawal.Amount.Equal(dec("480")))
	assert.Equal(t, "card-1", res.Withdrawal.PaymentMethodID)

	keys := env.events.keys()
	assert.Contains(t, keys, domain.EventPlanSettled)
	assert.Contains(t, keys, domain.EventInvestmentCreated)
}

func TestSettleMaturedPlan_AllInvested(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)
	txsBefore := len(env.transactions(t))

	res, err := env.session.Coordinator.SettleMaturedPlan(context.Background(), plan.ID, decimal.Zero, dec("980"), "")
	require.NoError(t, err)
	assert.Equal(t, domain.PlanInvested, res.Plan.Status)
	assert.Nil(t, res.Withdrawal)
	require.NotNil(t, res.Investment)
	assert.True(t, res.Investment.ExpectedReturn.Equal(dec("1078")))
	assert.Len(t, env.transactions(t), txsBefore)
}

func TestSettleMaturedPlan_AmountMismatchChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)
	txsBefore := len(env.transactions(t))

	_, err := env.session.Coordinator.SettleMaturedPlan(context.Background(), plan.ID, dec("400"), dec("500"), "")
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	got, err := env.session.Plans.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanMatured, got.Status)
	assert.Empty(t, env.investments(t))
	assert.Len(t, env.transactions(t), txsBefore)
}

func TestSettleMaturedPlan_ActivePlanIsInvalidState(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)

	res, err := env.session.Coordinator.StartSavingsPlan(context.Background(), dec("1000"), 10, "card-1")
	require.NoError(t, err)

	_, err = env.session.Coordinator.SettleMaturedPlan(context.Background(), res.Plan.ID, dec("480"), dec("500"), "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, env.investments(t))
}

func TestSettleMaturedPlan_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)
	ctx := context.Background()

	_, err := env.session.Coordinator.SettleMaturedPlan(ctx, plan.ID, dec("-20"), dec("1000"), "")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, "no-such-plan", decimal.Zero, dec("980"), "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, plan.ID, dec("980"), decimal.Zero, "missing")
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	got, err := env.session.Plans.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanMatured, got.Status)
}

func TestSettleMaturedPlan_PlanStateCheckedBeforePaymentMethod(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	active, err := env.session.Coordinator.StartSavingsPlan(ctx, dec("1000"), 20, "card-1")
	require.NoError(t, err)
	matured := env.maturedPlan(t)

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, active.Plan.ID, dec("980"), decimal.Zero, "pm-removed")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, "no-such-plan", dec("980"), decimal.Zero, "pm-removed")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, matured.ID, dec("400"), dec("500"), "pm-removed")
	require.ErrorIs(t, err, domain.ErrAmountMismatch)

	// A settleable plan with a stale method still reports the method.
	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, matured.ID, dec("980"), decimal.Zero, "pm-removed")
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, matured.ID, dec("980"), decimal.Zero, "card-1")
	require.NoError(t, err)
	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, matured.ID, dec("980"), decimal.Zero, "pm-removed")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSettleMaturedPlan_AnnouncesMaturityOnFirstTouch(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	res, err := env.session.Coordinator.StartSavingsPlan(ctx, dec("1000"), 10, "card-1")
	require.NoError(t, err)
	env.clock.Advance(70 * 24 * time.Hour)

	// No read happens between maturity and settlement.
	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, res.Plan.ID, decimal.Zero, dec("980"), "")
	require.NoError(t, err)

	keys := env.events.keys()
	assert.Contains(t, keys, domain.EventPlanMatured)
	assert.Less(t, indexOf(keys, domain.EventPlanMatured), indexOf(keys, domain.EventPlanSettled))
}

func TestPlanStore_SettleAnnouncesPromotedPlans(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	plan, err := env.session.Plans.CreatePlan(ctx, dec("98"), dec("100"), dec("2"), 10)
	require.NoError(t, err)
	env.clock.Advance(70 * 24 * time.Hour)

	settled, err := env.session.Plans.Settle(ctx, plan.ID, dec("98"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanWithdrawn, settled.Status)

	keys := env.events.keys()
	assert.Equal(t, []string{domain.EventPlanCreated, domain.EventPlanMatured, domain.EventPlanSettled}, keys)
}

func indexOf(keys []string, key string) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

func TestSettleMaturedPlan_RoundsToCentsBeforeComparing(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)

	res, err := env.session.Coordinator.SettleMaturedPlan(context.Background(), plan.ID, dec("479.996"), dec("500.004"), "")
	require.NoError(t, err)
	assert.True(t, res.Plan.WithdrawnAmount.Equal(dec("480")))
	assert.True(t, res.Plan.InvestedAmount.Equal(dec("500")))
}

func TestSettleMaturedPlan_NoDoubleSettlement(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)
	ctx := context.Background()

	_, err := env.session.Coordinator.SettleMaturedPlan(ctx, plan.ID, dec("480"), dec("500"), "")
	require.NoError(t, err)
	txsAfterFirst := len(env.transactions(t))

	_, err = env.session.Coordinator.SettleMaturedPlan(ctx, plan.ID, dec("480"), dec("500"), "")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Len(t, env.investments(t), 1)
	assert.Len(t, env.transactions(t), txsAfterFirst)
}

func TestSettleMaturedPlan_ConcurrentSessionsSettleOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)

	// Two independent sessions for the same user, as two server instances would have.
	sessions := []*Session{NewSession(testUserID, env.deps()), NewSession(testUserID, env.deps())}

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, s := range sessions {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			_, errs[i] = s.Coordinator.SettleMaturedPlan(context.Background(), plan.ID, dec("480"), dec("500"), "")
		}(i, s)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, env.investments(t), 1)
}

func TestSettleMaturedPlan_InvestmentFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	plan := env.maturedPlan(t)
	txsBefore := len(env.transactions(t))

	session := env.withRepo(&faultyRepo{Repository: env.repo, createInvestmentErr: errTransientStore})
	_, err := session.Coordinator.SettleMaturedPlan(context.Background(), plan.ID, dec("480"), dec("500"), "")
	require.ErrorIs(t, err, errTransientStore)

	got, err := env.session.Plans.GetPlan(context.Background(), plan.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanMatured, got.Status)
	assert.Nil(t, got.WithdrawnAmount)
	assert.Empty(t, env.investments(t))
	assert.Len(t, env.transactions(t), txsBefore)
	assert.Empty(t, session.Gateway.Transactions())
}

func TestInvest_InvestmentInvariant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, amount := range []string{"0.01", "0.05", "1", "333.33", "500", "12345.67"} {
		inv, err := env.session.Coordinator.Invest(ctx, dec(amount))
		require.NoError(t, err)

		assert.True(t, inv.Profit.Equal(inv.Amount.Mul(inv.InterestRate)), "amount=%s", amount)
		assert.True(t, inv.ExpectedReturn.Equal(inv.Amount.Add(inv.Profit)), "amount=%s", amount)
		assert.True(t, inv.InterestRate.Equal(money.InvestmentRate))
		assert.Nil(t, inv.SourcePlanID)
	}

	_, err := env.session.Coordinator.Invest(ctx, dec("-1"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestWithdrawInvestment(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	inv, err := env.session.Coordinator.Invest(ctx, dec("500"))
	require.NoError(t, err)

	_, err = env.session.Coordinator.WithdrawInvestment(ctx, inv.ID, "")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, env.transactions(t))

	env.clock.Advance(184 * 24 * time.Hour)
	invs, err := env.session.Ledger.ListInvestments(ctx)
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, domain.InvestmentMatured, invs[0].Status)
	assert.True(t, invs[0].Profit.Equal(dec("50")), "profit is locked at creation")

	res, err := env.session.Coordinator.WithdrawInvestment(ctx, inv.ID, "card-1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentWithdrawn, res.Investment.Status)
	assert.True(t, res.Withdrawal.Amount.Equal(dec("550")))

	_, err = env.session.Coordinator.WithdrawInvestment(ctx, inv.ID, "card-1")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Len(t, env.transactions(t), 1)

	_, err = env.session.Coordinator.WithdrawInvestment(ctx, "missing", "card-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLedger_MarkWithdrawnRequiresMatured(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inv, err := env.session.Ledger.CreateInvestment(ctx, dec("100"), money.InvestmentRate, money.InvestmentTermMonths, nil)
	require.NoError(t, err)

	_, err = env.session.Ledger.MarkWithdrawn(ctx, inv.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	promoted, err := env.session.Ledger.AdvanceMaturity(ctx, inv.EndDate)
	require.NoError(t, err)
	require.Len(t, promoted, 1)

	got, err := env.session.Ledger.MarkWithdrawn(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentWithdrawn, got.Status)
}

func TestWithdrawInvestment_StateCheckedBeforePaymentMethod(t *testing.T) {
	env := newTestEnv(t)
	env.addMethod(t, "card-1", domain.PaymentMethodDebitCard, true)
	ctx := context.Background()

	inv, err := env.session.Coordinator.Invest(ctx, dec("500"))
	require.NoError(t, err)

	_, err = env.session.Coordinator.WithdrawInvestment(ctx, inv.ID, "pm-removed")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.session.Coordinator.WithdrawInvestment(ctx, "missing", "pm-removed")
	require.ErrorIs(t, err, domain.ErrNotFound)

	env.clock.Advance(184 * 24 * time.Hour)
	_, err = env.session.Coordinator.WithdrawInvestment(ctx, inv.ID, "pm-removed")
	require.ErrorIs(t, err, domain.ErrPaymentMethodNotFound)

	_, err = env.session.Coordinator.WithdrawInvestment(ctx, inv.ID, "card-1")
	require.NoError(t, err)

	keys := env.events.keys()
	assert.Equal(t, []string{
		domain.EventInvestmentCreated,
		domain.EventInvestmentMatured,
		domain.EventInvestmentWithdrawn,
	}, keys)
}

func TestLedger_MarkWithdrawnAnnouncesPromotedInvestments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inv, err := env.session.Ledger.CreateInvestment(ctx, dec("100"), money.InvestmentRate, 1, nil)
	require.NoError(t, err)
	env.clock.Advance(31 * 24 * time.Hour)

	got, err := env.session.Ledger.MarkWithdrawn(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentWithdrawn, got.Status)

	assert.Equal(t, []string{
		domain.EventInvestmentCreated,
		domain.EventInvestmentMatured,
		domain.EventInvestmentWithdrawn,
	}, env.events.keys())
}

func TestPlanStore_CreatePlanValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.session.Plans.CreatePlan(ctx, dec("980"), dec("1000"), dec("20"), 21)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.session.Plans.CreatePlan(ctx, dec("980"), dec("990"), dec("20"), 10)
	require.ErrorIs(t, err, domain.ErrValidation)

	plan, err := env.session.Plans.CreatePlan(ctx, dec("980"), dec("1000"), dec("20"), 20)
	require.NoError(t, err)
	assert.Equal(t, plan.StartDate.AddDate(0, 0, 140), plan.MaturityDate)

	settled, err := env.session.Plans.Settle(ctx, plan.ID, dec("980"), decimal.Zero)
	assert.Nil(t, settled)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestQuoteDeposit(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, err := QuoteDeposit(dec("1000"), 10, start)
	require.NoError(t, err)
	assert.True(t, q.Fee.Equal(dec("20")))
	assert.True(t, q.NetAmount.Equal(dec("980")))
	assert.True(t, q.InvestmentProfit.Equal(dec("98")))
	assert.True(t, q.InvestmentExpectedReturn.Equal(dec("1078")))
	assert.Equal(t, start.AddDate(0, 0, 70), q.MaturityDate)

	_, err = QuoteDeposit(dec("1000"), 25, start)
	require.ErrorIs(t, err, domain.ErrValidation)
}
