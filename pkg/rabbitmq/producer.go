/**
 * @description
 * This package provides a simple producer for publishing savings lifecycle events to
 * RabbitMQ. Plan and investment status changes are published to the shared topic
 * exchange after the database transaction that produced them has committed.
 *
 * @dependencies
 * - context, encoding/json, time: Standard Go libraries.
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/transfa/savings-service/internal/domain"
)

const appID = "savings-service"

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	PublishPlanEvent(ctx context.Context, routingKey string, event domain.PlanEvent) error
	PublishInvestmentEvent(ctx context.Context, routingKey string, event domain.InvestmentEvent) error
	Close()
}

// EventProducer publishes JSON events over one channel. Exchanges are declared once per
// channel and the channel is replaced when the broker closes it.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
}

// EventProducerFallback is a minimal no-op publisher used when RabbitMQ is unavailable at startup.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("level=warn component=rabbitmq_producer mode=fallback msg=\"publish skipped\" exchange=%s routing_key=%s", exchange, routingKey)
	return nil
}

func (p *EventProducerFallback) PublishPlanEvent(ctx context.Context, routingKey string, event domain.PlanEvent) error {
	return p.Publish(ctx, domain.EventsExchange, routingKey, event)
}

func (p *EventProducerFallback) PublishInvestmentEvent(ctx context.Context, routingKey string, event domain.InvestmentEvent) error {
	return p.Publish(ctx, domain.EventsExchange, routingKey, event)
}

func (p *EventProducerFallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and opens the publishing channel.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	p := &EventProducer{conn: conn}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// openChannel replaces the current channel. Caller holds p.mu or owns p exclusively.
func (p *EventProducer) openChannel() error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if p.channel != nil {
		p.channel.Close()
	}
	p.channel = ch
	p.declared = make(map[string]bool)
	return nil
}

func (p *EventProducer) publishOnce(ctx context.Context, exchange string, msg amqp091.Publishing, routingKey string) error {
	if p.channel == nil || p.channel.IsClosed() {
		if err := p.openChannel(); err != nil {
			return err
		}
	}
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
}

// Publish marshals body to JSON and publishes it as a persistent message. A failed publish
// is retried once on a fresh channel.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", routingKey, err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Type:         routingKey,
		AppId:        appID,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishOnce(ctx, exchange, msg, routingKey)
	if err == nil {
		return nil
	}
	log.Printf("level=warn component=rabbitmq_producer msg=\"publish failed; retrying on new channel\" exchange=%s routing_key=%s err=%v", exchange, routingKey, err)

	if reopenErr := p.openChannel(); reopenErr != nil {
		return err
	}
	return p.publishOnce(ctx, exchange, msg, routingKey)
}

// PublishPlanEvent publishes a savings plan status change to the events exchange.
func (p *EventProducer) PublishPlanEvent(ctx context.Context, routingKey string, event domain.PlanEvent) error {
	return p.Publish(ctx, domain.EventsExchange, routingKey, event)
}

// PublishInvestmentEvent publishes an investment status change to the events exchange.
func (p *EventProducer) PublishInvestmentEvent(ctx context.Context, routingKey string, event domain.InvestmentEvent) error {
	return p.Publish(ctx, domain.EventsExchange, routingKey, event)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
