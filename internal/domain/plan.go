/**
 * @description
 * Savings plan model and state machine constants.
 *
 * @notes
 * - active -> matured happens once now >= maturity_date.
 * - matured -> withdrawn | invested happens only through settlement, and the withdraw and
 *   invest portions must add up to `amount` exactly.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PlanActive    = "active"
	PlanMatured   = "matured"
	PlanWithdrawn = "withdrawn"
	PlanInvested  = "invested"

	MinPlanWeeks = 10
	MaxPlanWeeks = 20
)

// SavingsPlan maps to the `savings_plans` table.
type SavingsPlan struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"user_id"`
	DepositTransactionID *string          `json:"deposit_transaction_id,omitempty"`
	Amount               decimal.Decimal  `json:"amount"`
	OriginalAmount       decimal.Decimal  `json:"original_amount"`
	Fee                  decimal.Decimal  `json:"fee"`
	DurationWeeks        int              `json:"duration_weeks"`
	StartDate            time.Time        `json:"start_date"`
	MaturityDate         time.Time        `json:"maturity_date"`
	Status               string           `json:"status"`
	WithdrawnAmount      *decimal.Decimal `json:"withdrawn_amount,omitempty"`
	InvestedAmount       *decimal.Decimal `json:"invested_amount,omitempty"`
	MaturedAt            *time.Time       `json:"matured_at,omitempty"`
	SettledAt            *time.Time       `json:"settled_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// MaturityDate is start + weeks*7 days. It is computed once at creation.
func MaturityDate(start time.Time, weeks int) time.Time {
	return start.AddDate(0, 0, weeks*7)
}

// IsDue reports whether an active plan has reached maturity at now.
func (p SavingsPlan) IsDue(now time.Time) bool {
	return p.Status == PlanActive && !now.Before(p.MaturityDate)
}

// SettlementResult is returned by a successful plan settlement.
type SettlementResult struct {
	Plan       SavingsPlan  `json:"plan"`
	Investment *Investment  `json:"investment,omitempty"`
	Withdrawal *Transaction `json:"withdrawal,omitempty"`
}
