/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 *
 * @notes
 * - Money columns are NUMERIC and scan straight into decimal.Decimal (sql.Scanner).
 * - Status transitions are conditional updates (`WHERE status = ...`) so a concurrent sweep
 *   and a settlement can never both win on the same row.
 */

package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// noRowsAs maps pgx.ErrNoRows to the store's own sentinel.
func noRowsAs(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// lockClause is appended to single-row reads. Outside a transaction a row lock would be
// released at once, so it is omitted.
func lockClause(inTx bool) string {
	if inTx {
		return ` FOR UPDATE`
	}
	return ""
}

// promoteDueQuery builds the conditional update that moves due active rows of table to
// matured. extraSet may reference $1 (now). An empty userID covers every user.
func promoteDueQuery(table, dueColumn, extraSet, columns, userID string, now time.Time) (string, []any) {
	query := `UPDATE ` + table + `
		SET status = 'matured', ` + extraSet + `updated_at = NOW()
		WHERE status = 'active'
		  AND ` + dueColumn + ` <= $1`
	args := []any{now}
	if userID != "" {
		query += `
		  AND user_id = $2`
		args = append(args, userID)
	}
	return query + `
		RETURNING ` + columns, args
}

// transitionQuery builds an update that only applies while the row is still in status
// from. set uses placeholders $1..$n; the row id and user id follow as $n+1 and $n+2.
func transitionQuery(table, set string, n int, from, columns string) string {
	return fmt.Sprintf(`
		UPDATE %s
		SET %s, updated_at = NOW()
		WHERE id = $%d AND user_id = $%d AND status = '%s'
		RETURNING %s`, table, set, n+1, n+2, from, columns)
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: db, q: db}
}

// ApplySchema creates the savings tables when they do not exist yet.
func (r *PostgresRepository) ApplySchema(ctx context.Context) error {
	if _, err := r.q.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithinTx runs fn inside a single database transaction. Nested calls reuse the outer one.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresRepository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// FindUserIDByClerkUserID resolves the internal UUID from a Clerk user id.
func (r *PostgresRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (string, error) {
	var id string
	if err := r.q.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id); err != nil {
		return "", noRowsAs(err, ErrUserNotFound)
	}
	return id, nil
}

const paymentMethodColumns = `id, user_id, type, processor_method_id, processor_customer_id, last4,
	is_verified, is_default, bank_name, account_type, created_at, updated_at`

func scanPaymentMethod(row pgx.Row) (*domain.PaymentMethod, error) {
	var m domain.PaymentMethod
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.Type,
		&m.ProcessorMethodID,
		&m.ProcessorCustomerID,
		&m.Last4,
		&m.IsVerified,
		&m.IsDefault,
		&m.BankName,
		&m.AccountType,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListPaymentMethods returns a user's payment methods, default first.
func (r *PostgresRepository) ListPaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethod, error) {
	query := `SELECT ` + paymentMethodColumns + `
		FROM payment_methods
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at ASC`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []domain.PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, *m)
	}
	return methods, rows.Err()
}

// CreatePaymentMethod inserts a tokenized payment method. The first method a user links
// becomes the default.
func (r *PostgresRepository) CreatePaymentMethod(ctx context.Context, method *domain.PaymentMethod) error {
	query := `
		INSERT INTO payment_methods (
			id, user_id, type, processor_method_id, processor_customer_id, last4,
			is_verified, is_default, bank_name, account_type
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			NOT EXISTS (SELECT 1 FROM payment_methods WHERE user_id = $2),
			$8, $9)
		RETURNING is_default, created_at, updated_at
	`
	return r.q.QueryRow(ctx, query,
		method.ID,
		method.UserID,
		method.Type,
		method.ProcessorMethodID,
		method.ProcessorCustomerID,
		method.Last4,
		method.IsVerified,
		method.BankName,
		method.AccountType,
	).Scan(&method.IsDefault, &method.CreatedAt, &method.UpdatedAt)
}

// MarkPaymentMethodVerified flags a bank account as verified after the micro-deposit challenge.
func (r *PostgresRepository) MarkPaymentMethodVerified(ctx context.Context, userID, methodID string) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE payment_methods SET is_verified = TRUE, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		methodID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentMethodNotFound
	}
	return nil
}

// SetDefaultPaymentMethod makes methodID the user's only default.
func (r *PostgresRepository) SetDefaultPaymentMethod(ctx context.Context, userID, methodID string) error {
	return r.WithinTx(ctx, func(repo Repository) error {
		txRepo := repo.(*PostgresRepository)

		var exists bool
		err := txRepo.q.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payment_methods WHERE id = $1 AND user_id = $2)`,
			methodID, userID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return ErrPaymentMethodNotFound
		}

		if _, err := txRepo.q.Exec(ctx,
			`UPDATE payment_methods SET is_default = FALSE, updated_at = NOW() WHERE user_id = $1 AND is_default`,
			userID); err != nil {
			return err
		}
		_, err = txRepo.q.Exec(ctx,
			`UPDATE payment_methods SET is_default = TRUE, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
			methodID, userID)
		return err
	})
}

// CreateTransaction appends a deposit or withdrawal record.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO savings_transactions (
			id, user_id, type, status, amount, fee, net_amount,
			payment_method_id, charge_id, failure_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.Exec(ctx, query,
		tx.ID,
		tx.UserID,
		tx.Type,
		tx.Status,
		tx.Amount,
		tx.Fee,
		tx.NetAmount,
		tx.PaymentMethodID,
		tx.ChargeID,
		tx.FailureReason,
		tx.CreatedAt,
	)
	return err
}

// ListTransactions returns the most recent transactions for a user.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID string, limit int) ([]domain.Transaction, error) {
	query := `
		SELECT id, user_id, type, status, amount, fee, net_amount,
		       payment_method_id, charge_id, failure_reason, created_at
		FROM savings_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.q.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		if err := rows.Scan(
			&tx.ID,
			&tx.UserID,
			&tx.Type,
			&tx.Status,
			&tx.Amount,
			&tx.Fee,
			&tx.NetAmount,
			&tx.PaymentMethodID,
			&tx.ChargeID,
			&tx.FailureReason,
			&tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

const planColumns = `id, user_id, deposit_transaction_id, amount, original_amount, fee, duration_weeks,
	start_date, maturity_date, status, withdrawn_amount, invested_amount, matured_at, settled_at,
	created_at, updated_at`

func scanPlan(row pgx.Row) (*domain.SavingsPlan, error) {
	var (
		p         domain.SavingsPlan
		withdrawn decimal.NullDecimal
		invested  decimal.NullDecimal
	)
	if err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.DepositTransactionID,
		&p.Amount,
		&p.OriginalAmount,
		&p.Fee,
		&p.DurationWeeks,
		&p.StartDate,
		&p.MaturityDate,
		&p.Status,
		&withdrawn,
		&invested,
		&p.MaturedAt,
		&p.SettledAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if withdrawn.Valid {
		p.WithdrawnAmount = &withdrawn.Decimal
	}
	if invested.Valid {
		p.InvestedAmount = &invested.Decimal
	}
	return &p, nil
}

func collectPlans(rows pgx.Rows) ([]domain.SavingsPlan, error) {
	defer rows.Close()

	var plans []domain.SavingsPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// CreatePlan inserts a new active savings plan.
func (r *PostgresRepository) CreatePlan(ctx context.Context, plan *domain.SavingsPlan) error {
	query := `
		INSERT INTO savings_plans (
			id, user_id, deposit_transaction_id, amount, original_amount, fee,
			duration_weeks, start_date, maturity_date, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	return r.q.QueryRow(ctx, query,
		plan.ID,
		plan.UserID,
		plan.DepositTransactionID,
		plan.Amount,
		plan.OriginalAmount,
		plan.Fee,
		plan.DurationWeeks,
		plan.StartDate,
		plan.MaturityDate,
		plan.Status,
	).Scan(&plan.CreatedAt, &plan.UpdatedAt)
}

// ListPlans returns every plan a user owns, newest first.
func (r *PostgresRepository) ListPlans(ctx context.Context, userID string) ([]domain.SavingsPlan, error) {
	rows, err := r.q.Query(ctx, `SELECT `+planColumns+` FROM savings_plans WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectPlans(rows)
}

// GetPlanForUpdate loads a plan and, inside WithinTx, locks its row until commit.
func (r *PostgresRepository) GetPlanForUpdate(ctx context.Context, userID, planID string) (*domain.SavingsPlan, error) {
	query := `SELECT ` + planColumns + ` FROM savings_plans WHERE id = $1 AND user_id = $2` + lockClause(r.inTx)
	plan, err := scanPlan(r.q.QueryRow(ctx, query, planID, userID))
	if err != nil {
		return nil, noRowsAs(err, ErrPlanNotFound)
	}
	return plan, nil
}

// PromoteDuePlans moves every due active plan to matured and returns the promoted rows.
func (r *PostgresRepository) PromoteDuePlans(ctx context.Context, userID string, now time.Time) ([]domain.SavingsPlan, error) {
	query, args := promoteDueQuery("savings_plans", "maturity_date", "matured_at = $1, ", planColumns, userID, now)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectPlans(rows)
}

// MarkPlanSettled records the settlement split. The update only applies to a matured
// plan; anything else yields ErrStatusConflict.
func (r *PostgresRepository) MarkPlanSettled(ctx context.Context, userID, planID, status string, withdrawn, invested decimal.Decimal, settledAt time.Time) (*domain.SavingsPlan, error) {
	query := transitionQuery("savings_plans",
		"status = $1, withdrawn_amount = $2, invested_amount = $3, settled_at = $4", 4,
		domain.PlanMatured, planColumns)
	plan, err := scanPlan(r.q.QueryRow(ctx, query, status, withdrawn, invested, settledAt, planID, userID))
	if err != nil {
		return nil, noRowsAs(err, ErrStatusConflict)
	}
	return plan, nil
}

const investmentColumns = `id, user_id, source_plan_id, amount, interest_rate, profit, expected_return,
	start_date, end_date, status, created_at, updated_at`

func scanInvestment(row pgx.Row) (*domain.Investment, error) {
	var inv domain.Investment
	if err := row.Scan(
		&inv.ID,
		&inv.UserID,
		&inv.SourcePlanID,
		&inv.Amount,
		&inv.InterestRate,
		&inv.Profit,
		&inv.ExpectedReturn,
		&inv.StartDate,
		&inv.EndDate,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &inv, nil
}

func collectInvestments(rows pgx.Rows) ([]domain.Investment, error) {
	defer rows.Close()

	var investments []domain.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, err
		}
		investments = append(investments, *inv)
	}
	return investments, rows.Err()
}

// CreateInvestment inserts a new active investment.
func (r *PostgresRepository) CreateInvestment(ctx context.Context, inv *domain.Investment) error {
	query := `
		INSERT INTO investments (
			id, user_id, source_plan_id, amount, interest_rate, profit, expected_return,
			start_date, end_date, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	return r.q.QueryRow(ctx, query,
		inv.ID,
		inv.UserID,
		inv.SourcePlanID,
		inv.Amount,
		inv.InterestRate,
		inv.Profit,
		inv.ExpectedReturn,
		inv.StartDate,
		inv.EndDate,
		inv.Status,
	).Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

// ListInvestments returns a user's investments, newest first.
func (r *PostgresRepository) ListInvestments(ctx context.Context, userID string) ([]domain.Investment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+investmentColumns+` FROM investments WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectInvestments(rows)
}

// GetInvestmentForUpdate loads an investment and locks it inside WithinTx.
func (r *PostgresRepository) GetInvestmentForUpdate(ctx context.Context, userID, investmentID string) (*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE id = $1 AND user_id = $2` + lockClause(r.inTx)
	inv, err := scanInvestment(r.q.QueryRow(ctx, query, investmentID, userID))
	if err != nil {
		return nil, noRowsAs(err, ErrInvestmentNotFound)
	}
	return inv, nil
}

// PromoteDueInvestments moves active investments past their end date to matured.
func (r *PostgresRepository) PromoteDueInvestments(ctx context.Context, userID string, now time.Time) ([]domain.Investment, error) {
	query, args := promoteDueQuery("investments", "end_date", "", investmentColumns, userID, now)
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectInvestments(rows)
}

// MarkInvestmentWithdrawn closes a matured investment.
func (r *PostgresRepository) MarkInvestmentWithdrawn(ctx context.Context, userID, investmentID string) (*domain.Investment, error) {
	query := transitionQuery("investments", "status = $1", 1, domain.InvestmentMatured, investmentColumns)
	inv, err := scanInvestment(r.q.QueryRow(ctx, query, domain.InvestmentWithdrawn, investmentID, userID))
	if err != nil {
		return nil, noRowsAs(err, ErrStatusConflict)
	}
	return inv, nil
}
