/**
 * @description
 * Error taxonomy shared by the savings engine and its transport.
 *
 * @notes
 * - Detail is attached with fmt.Errorf("%w: ...") so callers can match with errors.Is
 *   and still render a user-facing message from err.Error().
 */
package domain

import "errors"

var (
	ErrValidation            = errors.New("validation error")
	ErrInvalidState          = errors.New("invalid state")
	ErrAmountMismatch        = errors.New("amount mismatch")
	ErrPaymentMethodNotFound = errors.New("payment method not found")
	ErrGateway               = errors.New("payment gateway error")
	ErrTimeout               = errors.New("payment gateway timeout")
	ErrNotFound              = errors.New("not found")
	ErrDepositFailed         = errors.New("deposit failed")
	// ErrPlanNotCreated means the deposit was charged and recorded but its plan could not
	// be written. The completed transaction row is left for reconciliation.
	ErrPlanNotCreated = errors.New("deposit charged but savings plan not created")
)
