/**
 * @description
 * Collaborator contracts and shared wiring for the savings engine components.
 *
 * @dependencies
 * - internal/store: Repository contract.
 * - pkg/processorclient: request/response shapes of the payment processor.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/transfa/savings-service/internal/domain"
	"github.com/transfa/savings-service/internal/store"
	"github.com/transfa/savings-service/pkg/processorclient"
)

// Processor is the external payment processor. *processorclient.Client satisfies it.
type Processor interface {
	CreatePaymentMethod(ctx context.Context, req processorclient.CreatePaymentMethodRequest) (*processorclient.CreatePaymentMethodResponse, error)
	Charge(ctx context.Context, req processorclient.ChargeRequest) (*processorclient.ChargeResponse, error)
	VerifyBankAccount(ctx context.Context, req processorclient.VerifyBankAccountRequest) (*processorclient.VerifyBankAccountResponse, error)
}

// EventPublisher publishes lifecycle events after commit. rabbitmq.Publisher satisfies it.
type EventPublisher interface {
	PublishPlanEvent(ctx context.Context, routingKey string, event domain.PlanEvent) error
	PublishInvestmentEvent(ctx context.Context, routingKey string, event domain.InvestmentEvent) error
}

// Dependencies is everything a user session needs from the process.
type Dependencies struct {
	Repo      store.Repository
	Processor Processor
	Events    EventPublisher
	// Now defaults to time.Now.
	Now func() time.Time
	// RequireVerifiedBankAccounts rejects deposits from bank accounts that have not
	// passed the micro-deposit challenge.
	RequireVerifiedBankAccounts bool
	// Currency is sent with every charge. Defaults to "usd".
	Currency string
}

func (d Dependencies) withDefaults() Dependencies {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Currency == "" {
		d.Currency = "usd"
	}
	return d
}

// gatewayError makes sure a processor failure matches ErrGateway or ErrTimeout.
func gatewayError(err error) error {
	if errors.Is(err, domain.ErrGateway) || errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGateway, err)
}

func planEvent(p domain.SavingsPlan, ts time.Time) domain.PlanEvent {
	return domain.PlanEvent{
		UserID:          p.UserID,
		PlanID:          p.ID,
		Status:          p.Status,
		Amount:          p.Amount,
		MaturityDate:    p.MaturityDate,
		WithdrawnAmount: p.WithdrawnAmount,
		InvestedAmount:  p.InvestedAmount,
		Timestamp:       ts,
	}
}

func investmentEvent(inv domain.Investment, ts time.Time) domain.InvestmentEvent {
	return domain.InvestmentEvent{
		UserID:         inv.UserID,
		InvestmentID:   inv.ID,
		Status:         inv.Status,
		Amount:         inv.Amount,
		ExpectedReturn: inv.ExpectedReturn,
		EndDate:        inv.EndDate,
		Timestamp:      ts,
	}
}

// The state change has already committed when these run, so a failed publish is logged
// and not returned.
func publishPlanEvent(ctx context.Context, pub EventPublisher, routingKey string, p domain.SavingsPlan, ts time.Time) {
	if pub == nil {
		return
	}
	if err := pub.PublishPlanEvent(ctx, routingKey, planEvent(p, ts)); err != nil {
		log.Printf("level=warn component=events msg=\"plan event publish failed\" routing_key=%s plan_id=%s err=%v", routingKey, p.ID, err)
	}
}

func publishInvestmentEvent(ctx context.Context, pub EventPublisher, routingKey string, inv domain.Investment, ts time.Time) {
	if pub == nil {
		return
	}
	if err := pub.PublishInvestmentEvent(ctx, routingKey, investmentEvent(inv, ts)); err != nil {
		log.Printf("level=warn component=events msg=\"investment event publish failed\" routing_key=%s investment_id=%s err=%v", routingKey, inv.ID, err)
	}
}
