package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/store"
	"github.com/transfa/savings-service/pkg/processorclient"
)

const testUserID = "6f1c1b9e-4d7a-4c2e-9b1a-0d3c5e7f9a11"

var errTransientStore = errors.New("connection reset by peer")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type processorStub struct {
	mu           sync.Mutex
	chargeErr    error
	chargeStatus string
	createErr    error
	verifyResult bool
	verifyErr    error

	// afterCharge runs once the charge has been accepted.
	afterCharge func()

	charges []processorclient.ChargeRequest
	created []processorclient.CreatePaymentMethodRequest
	verify  []processorclient.VerifyBankAccountRequest
}

func (p *processorStub) CreatePaymentMethod(ctx context.Context, req processorclient.CreatePaymentMethodRequest) (*processorclient.CreatePaymentMethodResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, req)
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &processorclient.CreatePaymentMethodResponse{MethodID: "pm_test", CustomerID: "cus_test"}, nil
}

func (p *processorStub) Charge(ctx context.Context, req processorclient.ChargeRequest) (*processorclient.ChargeResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges = append(p.charges, req)
	if p.chargeErr != nil {
		return nil, p.chargeErr
	}
	status := p.chargeStatus
	if status == "" {
		status = processorclient.ChargeStatusSucceeded
	}
	if p.afterCharge != nil {
		p.afterCharge()
	}
	return &processorclient.ChargeResponse{Status: status, ChargeID: "ch_test"}, nil
}

func (p *processorStub) VerifyBankAccount(ctx context.Context, req processorclient.VerifyBankAccountRequest) (*processorclient.VerifyBankAccountResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verify = append(p.verify, req)
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return &processorclient.VerifyBankAccountResponse{Verified: p.verifyResult}, nil
}

func (p *processorStub) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.charges)
}

type publishedEvent struct {
	routingKey string
	id         string
	status     string
}

type eventsStub struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (e *eventsStub) PublishPlanEvent(ctx context.Context, routingKey string, event domain.PlanEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, publishedEvent{routingKey: routingKey, id: event.PlanID, status: event.Status})
	return nil
}

func (e *eventsStub) PublishInvestmentEvent(ctx context.Context, routingKey string, event domain.InvestmentEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, publishedEvent{routingKey: routingKey, id: event.InvestmentID, status: event.Status})
	return nil
}

func (e *eventsStub) keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var keys []string
	for _, ev := range e.events {
		keys = append(keys, ev.routingKey)
	}
	return keys
}

// faultyRepo injects failures into selected repository calls, including calls made
// inside WithinTx.
type faultyRepo struct {
	store.Repository
	listMethodFailures  *int
	createInvestmentErr error
	createPlanErr       error
}

func (r *faultyRepo) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	return r.Repository.WithinTx(ctx, func(tx store.Repository) error {
		return fn(&faultyRepo{
			Repository:          tx,
			listMethodFailures:  r.listMethodFailures,
			createInvestmentErr: r.createInvestmentErr,
			createPlanErr:       r.createPlanErr,
		})
	})
}

func (r *faultyRepo) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	if r.listMethodFailures != nil && *r.listMethodFailures > 0 {
		*r.listMethodFailures--
		return nil, errTransientStore
	}
	return r.Repository.ListPaymentMethods(ctx, userID)
}

func (r *faultyRepo) CreateInvestment(ctx context.Context, inv *domain.Investment) error {
	if r.createInvestmentErr != nil {
		return r.createInvestmentErr
	}
	return r.Repository.CreateInvestment(ctx, inv)
}

func (r *faultyRepo) CreatePlan(ctx context.Context, plan *domain.SavingsPlan) error {
	if r.createPlanErr != nil {
		return r.createPlanErr
	}
	return r.Repository.CreatePlan(ctx, plan)
}

// ctxRepo fails any call made with a done context, the way a pgx pool does.
type ctxRepo struct {
	store.Repository
}

func (r *ctxRepo) WithinTx(ctx context.Context, fn func(store.Repository) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	return r.Repository.WithinTx(ctx, func(tx store.Repository) error {
		return fn(&ctxRepo{Repository: tx})
	})
}

func (r *ctxRepo) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.CreateTransaction(ctx, tx)
}

func (r *ctxRepo) CreatePlan(ctx context.Context, plan *domain.SavingsPlan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.Repository.CreatePlan(ctx, plan)
}

type testEnv struct {
	repo      *store.MemoryRepository
	processor *processorStub
	events    *eventsStub
	clock     *testClock
	session   *Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:      store.NewMemoryRepository(),
		processor: &processorStub{verifyResult: true},
		events:    &eventsStub{},
		clock:     newTestClock(),
	}
	env.session = NewSession(testUserID, env.deps())
	return env
}

func (e *testEnv) deps() Dependencies {
	return Dependencies{
		Repo:      e.repo,
		Processor: e.processor,
		Events:    e.events,
		Now:       e.clock.Now,
	}
}

// withRepo rebuilds the session on top of repo.
func (e *testEnv) withRepo(repo store.Repository) *Session {
	deps := e.deps()
	deps.Repo = repo
	return NewSession(testUserID, deps)
}

func (e *testEnv) addMethod(t *testing.T, id, methodType string, verified bool) {
	t.Helper()
	require.NoError(t, e.repo.CreatePaymentMethod(context.Background(), &domain.PaymentMethod{
		ID:                  id,
		UserID:              testUserID,
		Type:                methodType,
		ProcessorMethodID:   "pm_" + id,
		ProcessorCustomerID: "cus_1",
		Last4:               "4242",
		IsVerified:          verified,
	}))
}

func (e *testEnv) transactions(t *testing.T) []domain.Transaction {
	t.Helper()
	txs, err := e.repo.ListTransactions(context.Background(), testUserID, 100)
	require.NoError(t, err)
	return txs
}

func (e *testEnv) investments(t *testing.T) []domain.Investment {
	t.Helper()
	invs, err := e.repo.ListInvestments(context.Background(), testUserID)
	require.NoError(t, err)
	return invs
}

// maturedPlan starts a 10 week plan from a 1000 deposit and moves the clock past maturity.
func (e *testEnv) maturedPlan(t *testing.T) domain.SavingsPlan {
	t.Helper()
	res, err := e.session.Coordinator.StartSavingsPlan(context.Background(), dec("1000"), 10, "card-1")
	require.NoError(t, err)
	e.clock.Advance(70 * 24 * time.Hour)
	plan, err := e.session.Plans.GetPlan(context.Background(), res.Plan.ID)
	require.NoError(t, err)
	require.Equal(t, domain.PlanMatured, plan.Status)
	return *plan
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
