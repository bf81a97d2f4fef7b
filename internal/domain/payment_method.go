/**
 * @description
 * Payment methods are tokenized bank accounts or debit cards that fund deposits and
 * receive withdrawals. Raw card and account numbers never leave the request that
 * tokenizes them; only the processor token and last four digits are stored.
 */
package domain

import "time"

const (
	PaymentMethodBankAccount = "bank_account"
	PaymentMethodDebitCard   = "debit_card"

	BankAccountChecking = "checking"
	BankAccountSavings  = "savings"
)

// PaymentMethod maps to the `payment_methods` table.
type PaymentMethod struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	Type                string    `json:"type"`
	ProcessorMethodID   string    `json:"-"`
	ProcessorCustomerID string    `json:"-"`
	Last4               string    `json:"last4"`
	IsVerified          bool      `json:"is_verified"`
	IsDefault           bool      `json:"is_default"`
	BankName            *string   `json:"bank_name,omitempty"`
	AccountType         *string   `json:"account_type,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BankAccountDetails is the input for linking a bank account.
type BankAccountDetails struct {
	AccountHolderName string `json:"account_holder_name"`
	BankName          string `json:"bank_name"`
	RoutingNumber     string `json:"routing_number"`
	AccountNumber     string `json:"account_number"`
	AccountType       string `json:"account_type"`
}

// DebitCardDetails is the input for linking a debit card. Expiry is MM/YY.
type DebitCardDetails struct {
	CardholderName string `json:"cardholder_name"`
	CardNumber     string `json:"card_number"`
	Expiry         string `json:"expiry"`
	CVV            string `json:"cvv"`
}
