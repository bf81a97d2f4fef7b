package app

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/money"
)

// DepositQuote previews what a deposit turns into without moving any money.
type DepositQuote struct {
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	FeeRate       decimal.Decimal `json:"fee_rate"`
	DurationWeeks int             `json:"duration_weeks"`
	MaturityDate  time.Time       `json:"maturity_date"`
	// If the whole net amount were reinvested at maturity.
	InvestmentProfit         decimal.Decimal `json:"investment_profit"`
	InvestmentExpectedReturn decimal.Decimal `json:"investment_expected_return"`
}

// QuoteDeposit applies the same validation and fee math as StartSavingsPlan.
func QuoteDeposit(amount decimal.Decimal, durationWeeks int, start time.Time) (*DepositQuote, error) {
	if err := validateMoneyAmount(amount); err != nil {
		return nil, err
	}
	if err := validateDuration(durationWeeks); err != nil {
		return nil, err
	}

	fee, err := money.Fee(amount, money.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	net := amount.Sub(fee)
	profit, err := money.Profit(net, money.InvestmentRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	return &DepositQuote{
		Amount:                   amount,
		Fee:                      fee,
		NetAmount:                net,
		FeeRate:                  money.FeeRate,
		DurationWeeks:            durationWeeks,
		MaturityDate:             domain.MaturityDate(start, durationWeeks),
		InvestmentProfit:         profit,
		InvestmentExpectedReturn: net.Add(profit),
	}, nil
}
