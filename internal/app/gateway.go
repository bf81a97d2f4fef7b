/**
 * @description
 * PaymentGateway is the session-scoped facade over the payment processor. It owns the
 * user's payment methods and the append-only transaction log for the session, and it
 * applies the deposit/withdrawal fee on every money movement.
 *
 * @notes
 * - Payment methods are loaded lazily and cached; every mutation drops the cache so the
 *   next read goes back to the store.
 * - Store reads are retried a bounded number of times. Processor calls never are.
 * - Validation runs before any processor call.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/money"
	"github.com/transfa/savings-service/internal/store"
	"github.com/transfa/savings-service/pkg/processorclient"
)

const (
	listMethodsAttempts = 3
	listMethodsBackoff  = 50 * time.Millisecond

	postChargeWriteTimeout = 15 * time.Second
)

var (
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
	cvvPattern    = regexp.MustCompile(`^[0-9]{3,4}$`)
	digitsPattern = regexp.MustCompile(`^[0-9]+$`)
)

// PaymentGateway wraps the payment processor for one user session.
type PaymentGateway struct {
	mu        *sync.Mutex
	userID    string
	repo      store.Repository
	processor Processor
	deps      Dependencies

	methods []domain.PaymentMethod
	loaded  bool
	txLog   []domain.Transaction
}

func newPaymentGateway(mu *sync.Mutex, userID string, deps Dependencies) *PaymentGateway {
	return &PaymentGateway{
		mu:        mu,
		userID:    userID,
		repo:      deps.Repo,
		processor: deps.Processor,
		deps:      deps,
	}
}

// ListPaymentMethods returns the session's payment methods, loading them on first use.
func (g *PaymentGateway) ListPaymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	methods, err := g.paymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	return append([]domain.PaymentMethod(nil), methods...), nil
}

func (g *PaymentGateway) paymentMethods(ctx context.Context) ([]domain.PaymentMethod, error) {
	if g.loaded {
		return g.methods, nil
	}

	var lastErr error
	for attempt := 1; attempt <= listMethodsAttempts; attempt++ {
		methods, err := g.repo.ListPaymentMethods(ctx, g.userID)
		if err == nil {
			g.methods = methods
			g.loaded = true
			return g.methods, nil
		}
		lastErr = err
		log.Printf("level=warn component=payment_gateway msg=\"list payment methods failed\" user_id=%s attempt=%d err=%v", g.userID, attempt, err)

		if attempt == listMethodsAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * listMethodsBackoff):
		}
	}
	return nil, fmt.Errorf("failed to load payment methods: %w", lastErr)
}

func (g *PaymentGateway) invalidate() {
	g.methods = nil
	g.loaded = false
}

func (g *PaymentGateway) findMethod(ctx context.Context, methodID string) (*domain.PaymentMethod, error) {
	methods, err := g.paymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	for i := range methods {
		if methods[i].ID == methodID {
			m := methods[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPaymentMethodNotFound, methodID)
}

// defaultMethod returns the user's default payment method, or the only one when no
// default is flagged.
func (g *PaymentGateway) defaultMethod(ctx context.Context) (*domain.PaymentMethod, error) {
	methods, err := g.paymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	for i := range methods {
		if methods[i].IsDefault {
			m := methods[i]
			return &m, nil
		}
	}
	if len(methods) == 1 {
		m := methods[0]
		return &m, nil
	}
	return nil, fmt.Errorf("%w: no default payment method", domain.ErrPaymentMethodNotFound)
}

// ConnectBankAccount tokenizes and stores a bank account.
func (g *PaymentGateway) ConnectBankAccount(ctx context.Context, details domain.BankAccountDetails) (*domain.PaymentMethod, error) {
	details.AccountHolderName = strings.TrimSpace(details.AccountHolderName)
	details.BankName = strings.TrimSpace(details.BankName)
	details.RoutingNumber = strings.TrimSpace(details.RoutingNumber)
	details.AccountNumber = strings.TrimSpace(details.AccountNumber)
	details.AccountType = strings.ToLower(strings.TrimSpace(details.AccountType))

	if err := validateBankAccount(details); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	resp, err := g.processor.CreatePaymentMethod(ctx, processorclient.CreatePaymentMethodRequest{
		Type:        domain.PaymentMethodBankAccount,
		BankAccount: &details,
	})
	if err != nil {
		return nil, gatewayError(err)
	}

	bankName := details.BankName
	accountType := details.AccountType
	method := &domain.PaymentMethod{
		ID:                  uuid.NewString(),
		UserID:              g.userID,
		Type:                domain.PaymentMethodBankAccount,
		ProcessorMethodID:   resp.MethodID,
		ProcessorCustomerID: resp.CustomerID,
		Last4:               last4(resp.Last4, details.AccountNumber),
		BankName:            &bankName,
		AccountType:         &accountType,
	}
	if err := g.repo.CreatePaymentMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("failed to store bank account: %w", err)
	}
	g.invalidate()

	log.Printf("level=info component=payment_gateway msg=\"bank account connected\" user_id=%s method_id=%s", g.userID, method.ID)
	return method, nil
}

func validateBankAccount(d domain.BankAccountDetails) error {
	var missing []string
	if d.AccountHolderName == "" {
		missing = append(missing, "account_holder_name")
	}
	if d.BankName == "" {
		missing = append(missing, "bank_name")
	}
	if d.RoutingNumber == "" {
		missing = append(missing, "routing_number")
	}
	if d.AccountNumber == "" {
		missing = append(missing, "account_number")
	}
	if d.AccountType == "" {
		missing = append(missing, "account_type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if !digitsPattern.MatchString(d.RoutingNumber) {
		return fmt.Errorf("%w: routing number must contain only digits", domain.ErrValidation)
	}
	if !digitsPattern.MatchString(d.AccountNumber) || len(d.AccountNumber) < 4 {
		return fmt.Errorf("%w: account number must be at least 4 digits", domain.ErrValidation)
	}
	if d.AccountType != domain.BankAccountChecking && d.AccountType != domain.BankAccountSavings {
		return fmt.Errorf("%w: account type must be checking or savings", domain.ErrValidation)
	}
	return nil
}

// ConnectDebitCard tokenizes and stores a debit card.
func (g *PaymentGateway) ConnectDebitCard(ctx context.Context, details domain.DebitCardDetails) (*domain.PaymentMethod, error) {
	details.CardholderName = strings.TrimSpace(details.CardholderName)
	details.CardNumber = strings.NewReplacer(" ", "", "-", "").Replace(details.CardNumber)
	details.Expiry = strings.TrimSpace(details.Expiry)
	details.CVV = strings.TrimSpace(details.CVV)

	if err := validateDebitCard(details, g.deps.Now()); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	resp, err := g.processor.CreatePaymentMethod(ctx, processorclient.CreatePaymentMethodRequest{
		Type:      domain.PaymentMethodDebitCard,
		DebitCard: &details,
	})
	if err != nil {
		return nil, gatewayError(err)
	}

	method := &domain.PaymentMethod{
		ID:                  uuid.NewString(),
		UserID:              g.userID,
		Type:                domain.PaymentMethodDebitCard,
		ProcessorMethodID:   resp.MethodID,
		ProcessorCustomerID: resp.CustomerID,
		Last4:               last4(resp.Last4, details.CardNumber),
		// Cards are verified by the processor when tokenized.
		IsVerified: true,
	}
	if err := g.repo.CreatePaymentMethod(ctx, method); err != nil {
		return nil, fmt.Errorf("failed to store debit card: %w", err)
	}
	g.invalidate()

	log.Printf("level=info component=payment_gateway msg=\"debit card connected\" user_id=%s method_id=%s", g.userID, method.ID)
	return method, nil
}

func validateDebitCard(d domain.DebitCardDetails, now time.Time) error {
	if len(d.CardNumber) != 16 || !digitsPattern.MatchString(d.CardNumber) {
		return fmt.Errorf("%w: card number must be 16 digits", domain.ErrValidation)
	}

	m := expiryPattern.FindStringSubmatch(d.Expiry)
	if m == nil {
		return fmt.Errorf("%w: expiry must be MM/YY", domain.ErrValidation)
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	year += 2000
	if year < now.Year() || (year == now.Year() && time.Month(month) < now.Month()) {
		return fmt.Errorf("%w: card has expired", domain.ErrValidation)
	}

	if !cvvPattern.MatchString(d.CVV) {
		return fmt.Errorf("%w: cvv must be 3 or 4 digits", domain.ErrValidation)
	}
	return nil
}

func last4(fromProcessor, raw string) string {
	if len(fromProcessor) == 4 {
		return fromProcessor
	}
	if len(raw) >= 4 {
		return raw[len(raw)-4:]
	}
	return raw
}

// VerifyBankAccount answers the two micro-deposit challenge for a bank account.
func (g *PaymentGateway) VerifyBankAccount(ctx context.Context, methodID string, amounts [2]decimal.Decimal) (*domain.PaymentMethod, error) {
	for _, a := range amounts {
		if !a.IsPositive() || a.GreaterThanOrEqual(decimal.NewFromInt(1)) || !money.HasCentPrecision(a) {
			return nil, fmt.Errorf("%w: micro-deposit amounts must be between 0.01 and 0.99", domain.ErrValidation)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	method, err := g.findMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if method.Type != domain.PaymentMethodBankAccount {
		return nil, fmt.Errorf("%w: only bank accounts can be verified", domain.ErrValidation)
	}
	if method.IsVerified {
		return method, nil
	}

	resp, err := g.processor.VerifyBankAccount(ctx, processorclient.VerifyBankAccountRequest{
		MethodID:   method.ProcessorMethodID,
		CustomerID: method.ProcessorCustomerID,
		Amounts:    amounts,
	})
	if err != nil {
		return nil, gatewayError(err)
	}
	if !resp.Verified {
		return nil, fmt.Errorf("%w: micro-deposit amounts do not match", domain.ErrValidation)
	}

	if err := g.repo.MarkPaymentMethodVerified(ctx, g.userID, method.ID); err != nil {
		return nil, fmt.Errorf("failed to mark bank account verified: %w", err)
	}
	g.invalidate()

	method.IsVerified = true
	return method, nil
}

// SetDefaultPaymentMethod makes methodID the user's default.
func (g *PaymentGateway) SetDefaultPaymentMethod(ctx context.Context, methodID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := g.findMethod(ctx, methodID); err != nil {
		return err
	}
	if err := g.repo.SetDefaultPaymentMethod(ctx, g.userID, methodID); err != nil {
		if errors.Is(err, store.ErrPaymentMethodNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrPaymentMethodNotFound, methodID)
		}
		return fmt.Errorf("failed to set default payment method: %w", err)
	}
	g.invalidate()
	return nil
}

func validateMoneyAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", domain.ErrValidation)
	}
	if !money.HasCentPrecision(amount) {
		return fmt.Errorf("%w: amount must not have more than two decimal places", domain.ErrValidation)
	}
	if !money.WithinLimit(amount) {
		return fmt.Errorf("%w: amount must not exceed %s", domain.ErrValidation, money.MaxAmount.StringFixed(2))
	}
	return nil
}

// detached returns a context for the store writes that follow an accepted charge. They
// must outlive a cancelled request, but not indefinitely.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), postChargeWriteTimeout)
}

func (g *PaymentGateway) newTransaction(txType string, amount decimal.Decimal, methodID string) (*domain.Transaction, error) {
	fee, err := money.Fee(amount, money.FeeRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return &domain.Transaction{
		ID:              uuid.NewString(),
		UserID:          g.userID,
		Type:            txType,
		Status:          domain.TransactionPending,
		Amount:          amount,
		Fee:             fee,
		NetAmount:       amount.Sub(fee),
		PaymentMethodID: methodID,
		CreatedAt:       g.deps.Now(),
	}, nil
}

// ProcessDeposit charges amount to a payment method and records the transaction.
func (g *PaymentGateway) ProcessDeposit(ctx context.Context, amount decimal.Decimal, methodID string) (*domain.Transaction, error) {
	if err := validateMoneyAmount(amount); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, chargeErr := g.charge(ctx, amount, methodID)
	if tx == nil {
		return nil, chargeErr
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()
	if err := g.record(writeCtx, g.repo, tx); err != nil {
		log.Printf("level=error component=payment_gateway msg=\"deposit not recorded\" user_id=%s transaction_id=%s status=%s err=%v", g.userID, tx.ID, tx.Status, err)
		if chargeErr != nil {
			return nil, chargeErr
		}
		return nil, err
	}
	g.appendLog(*tx)
	return tx, chargeErr
}

// charge runs the processor charge. It returns a nil transaction when the request was
// rejected before reaching the processor, and a failed transaction with the error when
// the processor call itself failed.
func (g *PaymentGateway) charge(ctx context.Context, amount decimal.Decimal, methodID string) (*domain.Transaction, error) {
	method, err := g.findMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	if g.deps.RequireVerifiedBankAccounts && method.Type == domain.PaymentMethodBankAccount && !method.IsVerified {
		return nil, fmt.Errorf("%w: bank account must be verified before it can fund a deposit", domain.ErrValidation)
	}

	tx, err := g.newTransaction(domain.TransactionDeposit, amount, method.ID)
	if err != nil {
		return nil, err
	}

	resp, err := g.processor.Charge(ctx, processorclient.ChargeRequest{
		Amount:     amount,
		Currency:   g.deps.Currency,
		MethodID:   method.ProcessorMethodID,
		CustomerID: method.ProcessorCustomerID,
	})
	if err == nil && resp.Status != processorclient.ChargeStatusSucceeded {
		err = fmt.Errorf("%w: charge %s: %s", domain.ErrGateway, resp.Status, resp.Message)
	}
	if err != nil {
		err = gatewayError(err)
		reason := err.Error()
		tx.Status = domain.TransactionFailed
		tx.FailureReason = &reason
		log.Printf("level=warn component=payment_gateway msg=\"deposit charge failed\" user_id=%s transaction_id=%s err=%v", g.userID, tx.ID, err)
		return tx, err
	}

	chargeID := resp.ChargeID
	tx.Status = domain.TransactionCompleted
	tx.ChargeID = &chargeID
	return tx, nil
}

// ProcessWithdrawal records a withdrawal to a payment method.
func (g *PaymentGateway) ProcessWithdrawal(ctx context.Context, amount decimal.Decimal, methodID string) (*domain.Transaction, error) {
	if err := validateMoneyAmount(amount); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	method, err := g.findMethod(ctx, methodID)
	if err != nil {
		return nil, err
	}
	tx, err := g.withdrawal(amount, method)
	if err != nil {
		return nil, err
	}
	if err := g.record(ctx, g.repo, tx); err != nil {
		return nil, err
	}
	g.appendLog(*tx)
	return tx, nil
}

// withdrawal builds a completed withdrawal. Payout is bookkeeping only; no processor
// call is made.
func (g *PaymentGateway) withdrawal(amount decimal.Decimal, method *domain.PaymentMethod) (*domain.Transaction, error) {
	tx, err := g.newTransaction(domain.TransactionWithdrawal, amount, method.ID)
	if err != nil {
		return nil, err
	}
	tx.Status = domain.TransactionCompleted
	return tx, nil
}

func (g *PaymentGateway) record(ctx context.Context, repo store.Repository, tx *domain.Transaction) error {
	if err := repo.CreateTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to record %s transaction: %w", tx.Type, err)
	}
	return nil
}

func (g *PaymentGateway) appendLog(txs ...domain.Transaction) {
	g.txLog = append(g.txLog, txs...)
}

// Transactions returns the transactions made during this session, oldest first.
func (g *PaymentGateway) Transactions() []domain.Transaction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Transaction(nil), g.txLog...)
}
