/**
 * @description
 * Transaction is the record of one deposit charge or withdrawal attempt.
 *
 * @notes
 * - fee = amount * FeeRate rounded to cents, net_amount = amount - fee.
 * - Rows are append-only; a completed transaction is never edited.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionFailed    = "failed"

	TransactionDeposit    = "deposit"
	TransactionWithdrawal = "withdrawal"
)

// Transaction maps to the `transactions` table.
type Transaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Type            string          `json:"type"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	Fee             decimal.Decimal `json:"fee"`
	NetAmount       decimal.Decimal `json:"net_amount"`
	PaymentMethodID string          `json:"payment_method_id"`
	ChargeID        *string         `json:"charge_id,omitempty"`
	FailureReason   *string         `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"timestamp"`
}
