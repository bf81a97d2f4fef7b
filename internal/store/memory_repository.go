/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface. It backs
 * the service when no DATABASE_URL is configured, the savingsctl CLI, and the unit tests.
 *
 * @notes
 * - WithinTx snapshots the whole dataset and restores it if fn returns an error, which
 *   gives the same all-or-nothing behaviour as the PostgreSQL transaction.
 * - Records are stored by value and copied on the way out so callers can never mutate
 *   stored state through a returned pointer.
 */

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
)

type memData struct {
	users          map[string]string // clerk user id -> internal id
	paymentMethods []domain.PaymentMethod
	transactions   []domain.Transaction
	plans          map[string]domain.SavingsPlan
	investments    map[string]domain.Investment
}

func (d *memData) clone() *memData {
	c := &memData{
		users:          make(map[string]string, len(d.users)),
		paymentMethods: append([]domain.PaymentMethod(nil), d.paymentMethods...),
		transactions:   append([]domain.Transaction(nil), d.transactions...),
		plans:          make(map[string]domain.SavingsPlan, len(d.plans)),
		investments:    make(map[string]domain.Investment, len(d.investments)),
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.plans {
		c.plans[k] = v
	}
	for k, v := range d.investments {
		c.investments[k] = v
	}
	return c
}

// MemoryRepository is a goroutine-safe, process-local Repository.
type MemoryRepository struct {
	mu   sync.Mutex
	data *memData
	now  func() time.Time

	provisionUsers bool
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: &memData{
			users:       make(map[string]string),
			plans:       make(map[string]domain.SavingsPlan),
			investments: make(map[string]domain.Investment),
		},
		now: time.Now,
	}
}

// AddUser registers a Clerk user id mapping. Used by development setups and tests.
func (r *MemoryRepository) AddUser(clerkUserID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.users[clerkUserID] = userID
}

// ProvisionUsersOnDemand makes FindUserIDByClerkUserID register unknown Clerk users with
// a fresh internal id instead of failing. Local development has no user service to seed
// the mapping.
func (r *MemoryRepository) ProvisionUsersOnDemand() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisionUsers = true
}

func (r *MemoryRepository) view() *memoryTx {
	return &memoryTx{data: r.data, now: r.now}
}

// WithinTx serializes fn against every other repository call and rolls back on error.
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.data.clone()
	if err := fn(r.view()); err != nil {
		r.data = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.view().FindUserIDByClerkUserID(ctx, clerkUserID)
	if errors.Is(err, ErrUserNotFound) && r.provisionUsers && clerkUserID != "" {
		id = uuid.NewString()
		r.data.users[clerkUserID] = id
		return id, nil
	}
	return id, err
}

func (r *MemoryRepository) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListPaymentMethods(ctx, userID)
}

func (r *MemoryRepository) CreatePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreatePaymentMethod(ctx, method)
}

func (r *MemoryRepository) MarkPaymentMethodVerified(ctx context.Context, userID, methodID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().MarkPaymentMethodVerified(ctx, userID, methodID)
}

func (r *MemoryRepository) SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().SetDefaultPaymentMethod(ctx, userID, methodID)
}

func (r *MemoryRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreateTransaction(ctx, tx)
}

func (r *MemoryRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListTransactions(ctx, userID, limit)
}

func (r *MemoryRepository) CreatePlan(ctx context.Context, plan *domain.SavingsPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreatePlan(ctx, plan)
}

func (r *MemoryRepository) ListPlans(ctx context.Context, userID string) ([]domain.SavingsPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListPlans(ctx, userID)
}

func (r *MemoryRepository) GetPlanForUpdate(ctx context.Context, userID, planID string) (*domain.SavingsPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetPlanForUpdate(ctx, userID, planID)
}

func (r *MemoryRepository) PromoteDuePlans(ctx context.Context, userID string, now time.Time) ([]domain.SavingsPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().PromoteDuePlans(ctx, userID, now)
}

func (r *MemoryRepository) MarkPlanSettled(ctx context.Context, userID, planID, status string, withdrawn, invested decimal.Decimal, settledAt time.Time) (*domain.SavingsPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().MarkPlanSettled(ctx, userID, planID, status, withdrawn, invested, settledAt)
}

func (r *MemoryRepository) CreateInvestment(ctx context.Context, inv *domain.Investment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().CreateInvestment(ctx, inv)
}

func (r *MemoryRepository) ListInvestments(ctx context.Context, userID string) ([]domain.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().ListInvestments(ctx, userID)
}

func (r *MemoryRepository) GetInvestmentForUpdate(ctx context.Context, userID, investmentID string) (*domain.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().GetInvestmentForUpdate(ctx, userID, investmentID)
}

func (r *MemoryRepository) PromoteDueInvestments(ctx context.Context, userID string, now time.Time) ([]domain.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().PromoteDueInvestments(ctx, userID, now)
}

func (r *MemoryRepository) MarkInvestmentWithdrawn(ctx context.Context, userID, investmentID string) (*domain.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view().MarkInvestmentWithdrawn(ctx, userID, investmentID)
}

// memoryTx operates on memData without locking; the caller holds MemoryRepository.mu.
type memoryTx struct {
	data *memData
	now  func() time.Time
}

func (t *memoryTx) WithinTx(ctx context.Context, fn func(Repository) error) error {
	return fn(t)
}

func (t *memoryTx) FindUserIDByClerkUserID(_ context.Context, clerkUserID string) (string, error) {
	id, ok := t.data.users[clerkUserID]
	if !ok {
		return "", ErrUserNotFound
	}
	return id, nil
}

func (t *memoryTx) ListPaymentMethods(_ context.Context, userID string) ([]domain.PaymentMethod, error) {
	var methods []domain.PaymentMethod
	for _, m := range t.data.paymentMethods {
		if m.UserID == userID {
			methods = append(methods, m)
		}
	}
	sort.SliceStable(methods, func(i, j int) bool {
		return methods[i].IsDefault && !methods[j].IsDefault
	})
	return methods, nil
}

func (t *memoryTx) CreatePaymentMethod(_ context.Context, method *domain.PaymentMethod) error {
	hasAny := false
	for _, m := range t.data.paymentMethods {
		if m.UserID == method.UserID {
			hasAny = true
			break
		}
	}
	now := t.now()
	method.IsDefault = !hasAny
	method.CreatedAt = now
	method.UpdatedAt = now
	t.data.paymentMethods = append(t.data.paymentMethods, *method)
	return nil
}

func (t *memoryTx) MarkPaymentMethodVerified(_ context.Context, userID, methodID string) error {
	for i := range t.data.paymentMethods {
		m := &t.data.paymentMethods[i]
		if m.ID == methodID && m.UserID == userID {
			m.IsVerified = true
			m.UpdatedAt = t.now()
			return nil
		}
	}
	return ErrPaymentMethodNotFound
}

func (t *memoryTx) SetDefaultPaymentMethod(_ context.Context, userID, methodID string) error {
	found := false
	for _, m := range t.data.paymentMethods {
		if m.ID == methodID && m.UserID == userID {
			found = true
			break
		}
	}
	if !found {
		return ErrPaymentMethodNotFound
	}
	for i := range t.data.paymentMethods {
		m := &t.data.paymentMethods[i]
		if m.UserID == userID {
			m.IsDefault = m.ID == methodID
		}
	}
	return nil
}

func (t *memoryTx) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = t.now()
	}
	t.data.transactions = append(t.data.transactions, *tx)
	return nil
}

func (t *memoryTx) ListTransactions(_ context.Context, userID string, limit int) ([]domain.Transaction, error) {
	var txs []domain.Transaction
	for i := len(t.data.transactions) - 1; i >= 0; i-- {
		if limit > 0 && len(txs) == limit {
			break
		}
		if tx := t.data.transactions[i]; tx.UserID == userID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (t *memoryTx) CreatePlan(_ context.Context, plan *domain.SavingsPlan) error {
	now := t.now()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	t.data.plans[plan.ID] = *plan
	return nil
}

func (t *memoryTx) ListPlans(_ context.Context, userID string) ([]domain.SavingsPlan, error) {
	var plans []domain.SavingsPlan
	for _, p := range t.data.plans {
		if p.UserID == userID {
			plans = append(plans, p)
		}
	}
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].ID > plans[j].ID
		}
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
	return plans, nil
}

func (t *memoryTx) GetPlanForUpdate(_ context.Context, userID, planID string) (*domain.SavingsPlan, error) {
	p, ok := t.data.plans[planID]
	if !ok || p.UserID != userID {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

func (t *memoryTx) PromoteDuePlans(_ context.Context, userID string, now time.Time) ([]domain.SavingsPlan, error) {
	var promoted []domain.SavingsPlan
	for id, p := range t.data.plans {
		if userID != "" && p.UserID != userID {
			continue
		}
		if !p.IsDue(now) {
			continue
		}
		maturedAt := now
		p.Status = domain.PlanMatured
		p.MaturedAt = &maturedAt
		p.UpdatedAt = t.now()
		t.data.plans[id] = p
		promoted = append(promoted, p)
	}
	return promoted, nil
}

func (t *memoryTx) MarkPlanSettled(_ context.Context, userID, planID, status string, withdrawn, invested decimal.Decimal, settledAt time.Time) (*domain.SavingsPlan, error) {
	p, ok := t.data.plans[planID]
	if !ok || p.UserID != userID || p.Status != domain.PlanMatured {
		return nil, ErrStatusConflict
	}
	p.Status = status
	p.WithdrawnAmount = &withdrawn
	p.InvestedAmount = &invested
	p.SettledAt = &settledAt
	p.UpdatedAt = t.now()
	t.data.plans[planID] = p
	return &p, nil
}

func (t *memoryTx) CreateInvestment(_ context.Context, inv *domain.Investment) error {
	now := t.now()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	t.data.investments[inv.ID] = *inv
	return nil
}

func (t *memoryTx) ListInvestments(_ context.Context, userID string) ([]domain.Investment, error) {
	var investments []domain.Investment
	for _, inv := range t.data.investments {
		if inv.UserID == userID {
			investments = append(investments, inv)
		}
	}
	sort.Slice(investments, func(i, j int) bool {
		if investments[i].CreatedAt.Equal(investments[j].CreatedAt) {
			return investments[i].ID > investments[j].ID
		}
		return investments[i].CreatedAt.After(investments[j].CreatedAt)
	})
	return investments, nil
}

func (t *memoryTx) GetInvestmentForUpdate(_ context.Context, userID, investmentID string) (*domain.Investment, error) {
	inv, ok := t.data.investments[investmentID]
	if !ok || inv.UserID != userID {
		return nil, ErrInvestmentNotFound
	}
	return &inv, nil
}

func (t *memoryTx) PromoteDueInvestments(_ context.Context, userID string, now time.Time) ([]domain.Investment, error) {
	var promoted []domain.Investment
	for id, inv := range t.data.investments {
		if userID != "" && inv.UserID != userID {
			continue
		}
		if !inv.IsDue(now) {
			continue
		}
		inv.Status = domain.InvestmentMatured
		inv.UpdatedAt = t.now()
		t.data.investments[id] = inv
		promoted = append(promoted, inv)
	}
	return promoted, nil
}

func (t *memoryTx) MarkInvestmentWithdrawn(_ context.Context, userID, investmentID string) (*domain.Investment, error) {
	inv, ok := t.data.investments[investmentID]
	if !ok || inv.UserID != userID || inv.Status != domain.InvestmentMatured {
		return nil, ErrStatusConflict
	}
	inv.Status = domain.InvestmentWithdrawn
	inv.UpdatedAt = t.now()
	t.data.investments[investmentID] = inv
	return &inv, nil
}
