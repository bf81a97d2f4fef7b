/**
 * @description
 * Exact decimal money arithmetic for savings plans and investments.
 *
 * @notes
 * - Every amount is a `decimal.Decimal`; float64 only appears at the input boundary
 *   (FromFloat) and is rejected when NaN or infinite.
 * - Fees are rounded to cents half-up. Profit and expected return are kept exact so that
 *   `expected_return == amount + profit` and `profit == amount * rate` hold without drift.
 */
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for negative, NaN, infinite or unparsable amounts and rates.
var ErrInvalidAmount = errors.New("invalid amount")

const (
	// CentPlaces is the number of decimal places money values are settled at.
	CentPlaces = 2
	// InvestmentTermMonths is the fixed lifetime of an investment.
	InvestmentTermMonths = 6
)

var (
	// FeeRate is applied to every deposit and withdrawal.
	FeeRate = decimal.RequireFromString("0.02")
	// InvestmentRate is the simple interest locked in when an investment is created.
	InvestmentRate = decimal.RequireFromString("0.10")
	// MaxAmount is the largest single deposit, withdrawal or investment accepted. It keeps
	// every stored money column (NUMERIC(18, 2)) clear of overflow.
	MaxAmount = decimal.RequireFromString("1000000000000")
)

// Fee returns amount*rate rounded to cents, half-up.
func Fee(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := checkNonNegative(amount, rate); err != nil {
		return decimal.Zero, err
	}
	return Cents(amount.Mul(rate)), nil
}

// NetAmount returns amount minus its fee.
func NetAmount(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	fee, err := Fee(amount, rate)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Sub(fee), nil
}

// Profit is simple, non-compounding interest on principal.
func Profit(principal, rate decimal.Decimal) (decimal.Decimal, error) {
	if err := checkNonNegative(principal, rate); err != nil {
		return decimal.Zero, err
	}
	return principal.Mul(rate), nil
}

// ExpectedReturn is principal plus its profit.
func ExpectedReturn(principal, rate decimal.Decimal) (decimal.Decimal, error) {
	profit, err := Profit(principal, rate)
	if err != nil {
		return decimal.Zero, err
	}
	return principal.Add(profit), nil
}

// Cents rounds d to two decimal places. decimal.Round rounds half away from zero,
// which is half-up for the non-negative values used here.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

// HasCentPrecision reports whether d carries no more than two decimal places.
func HasCentPrecision(d decimal.Decimal) bool {
	return d.Equal(Cents(d))
}

// WithinLimit reports whether d does not exceed MaxAmount.
func WithinLimit(d decimal.Decimal) bool {
	return d.LessThanOrEqual(MaxAmount)
}

// FromFloat converts a float at the API boundary.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, f)
	}
	d := decimal.NewFromFloat(f)
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d)
	}
	return d, nil
}

// Parse reads a non-negative decimal string such as "1000" or "12.50".
func Parse(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, d)
	}
	return d, nil
}

func checkNonNegative(amount, rate decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrInvalidAmount, amount)
	}
	if rate.IsNegative() {
		return fmt.Errorf("%w: rate %s is negative", ErrInvalidAmount, rate)
	}
	return nil
}
