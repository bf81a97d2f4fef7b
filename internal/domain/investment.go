package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvestmentActive    = "active"
	InvestmentMatured   = "matured"
	InvestmentWithdrawn = "withdrawn"
)

// Investment maps to the `investments` table. Profit and ExpectedReturn are locked in
// at creation and never accrue.
type Investment struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	SourcePlanID   *string         `json:"source_plan_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	InterestRate   decimal.Decimal `json:"interest_rate"`
	Profit         decimal.Decimal `json:"profit"`
	ExpectedReturn decimal.Decimal `json:"expected_return"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsDue reports whether an active investment has reached its end date at now.
func (i Investment) IsDue(now time.Time) bool {
	return i.Status == InvestmentActive && !now.Before(i.EndDate)
}
