/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access the
 * savings engine needs. The external relational store is the source of truth; the app
 * layer only keeps read-through caches that are invalidated after every mutation.
 *
 * @notes
 * - Every query filters by the owning user id.
 * - WithinTx runs fn against a repository bound to one database transaction so a
 *   settlement (plan status + investment + withdrawal row) commits or rolls back as a unit.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
)

var (
	ErrUserNotFound          = errors.New("user not found")
	ErrPlanNotFound          = errors.New("savings plan not found")
	ErrInvestmentNotFound    = errors.New("investment not found")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	// ErrStatusConflict is returned by conditional status updates when the row is no
	// longer in the expected state.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Identity
	FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error)

	// Payment methods
	ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error)
	CreatePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error
	MarkPaymentMethodVerified(ctx context.Context, userID, methodID string) error
	SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) error

	// Transactions
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)

	// Savings plans
	CreatePlan(ctx context.Context, plan *domain.SavingsPlan) error
	ListPlans(ctx context.Context, userID string) ([]domain.SavingsPlan, error)
	GetPlanForUpdate(ctx context.Context, userID, planID string) (*domain.SavingsPlan, error)
	// PromoteDuePlans moves active plans with maturity_date <= now to matured. An empty
	// userID sweeps every user.
	PromoteDuePlans(ctx context.Context, userID string, now time.Time) ([]domain.SavingsPlan, error)
	MarkPlanSettled(ctx context.Context, userID, planID, status string, withdrawn, invested decimal.Decimal, settledAt time.Time) (*domain.SavingsPlan, error)

	// Investments
	CreateInvestment(ctx context.Context, inv *domain.Investment) error
	ListInvestments(ctx context.Context, userID string) ([]domain.Investment, error)
	GetInvestmentForUpdate(ctx context.Context, userID, investmentID string) (*domain.Investment, error)
	PromoteDueInvestments(ctx context.Context, userID string, now time.Time) ([]domain.Investment, error)
	MarkInvestmentWithdrawn(ctx context.Context, userID, investmentID string) (*domain.Investment, error)

	WithinTx(ctx context.Context, fn func(Repository) error) error
}
