package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventsExchange = "transfa.events"

	EventPlanCreated         = "savings.plan.created"
	EventPlanMatured         = "savings.plan.matured"
	EventPlanSettled         = "savings.plan.settled"
	EventInvestmentCreated   = "savings.investment.created"
	EventInvestmentMatured   = "savings.investment.matured"
	EventInvestmentWithdrawn = "savings.investment.withdrawn"
)

// PlanEvent is published for every savings plan status change.
type PlanEvent struct {
	UserID          string           `json:"user_id"`
	PlanID          string           `json:"plan_id"`
	Status          string           `json:"status"`
	Amount          decimal.Decimal  `json:"amount"`
	MaturityDate    time.Time        `json:"maturity_date"`
	WithdrawnAmount *decimal.Decimal `json:"withdrawn_amount,omitempty"`
	InvestedAmount  *decimal.Decimal `json:"invested_amount,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
}

// InvestmentEvent is published for every investment status change.
type InvestmentEvent struct {
	UserID         string          `json:"user_id"`
	InvestmentID   string          `json:"investment_id"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	ExpectedReturn decimal.Decimal `json:"expected_return"`
	EndDate        time.Time       `json:"end_date"`
	Timestamp      time.Time       `json:"timestamp"`
}
