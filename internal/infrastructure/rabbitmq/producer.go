// Package rabbitmq publishes wizard and sync lifecycle events to a topic
// exchange so downstream services can react to newly linked accounts.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"accountlink/internal/domain/account"
	"accountlink/internal/domain/monitor"
	"accountlink/internal/domain/wizard"
)

// Routing keys
const (
	KeyWizardCompleted = "wizard.completed"
	KeyWizardCancelled = "wizard.cancelled"
	KeySyncCompleted   = "sync.completed"
	KeySyncFailed      = "sync.failed"
)

// WizardEvent is published when a wizard session ends.
type WizardEvent struct {
	SessionID  string           `json:"session_id"`
	Accounts   []account.Record `json:"accounts,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// SyncEvent is published after every account sync.
type SyncEvent struct {
	MonitorID  string             `json:"monitor_id"`
	AccountID  string             `json:"account_id"`
	Status     monitor.SyncStatus `json:"status"`
	Automatic  bool               `json:"automatic"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Channel is the subset of *amqp.Channel the producer needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// EventProducer publishes JSON events to a durable topic exchange.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  Channel
	exchange string
	declared bool
	clock    clockwork.Clock
	logger   *zap.Logger
}

// Ensure EventProducer is usable as a handoff and a sync notifier
var (
	_ wizard.Handoff   = (*EventProducer)(nil)
	_ monitor.Notifier = (*EventProducer)(nil)
)

// NewEventProducer dials the broker and opens a channel.
func NewEventProducer(amqpURL, exchange string, logger *zap.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang
	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}

	p := NewEventProducerWithChannel(ch, exchange, clockwork.NewRealClock(), logger)
	p.conn = conn
	return p, nil
}

// NewEventProducerWithChannel wraps an already open channel.
func NewEventProducerWithChannel(ch Channel, exchange string, clock clockwork.Clock, logger *zap.Logger) *EventProducer {
	return &EventProducer{channel: ch, exchange: exchange, clock: clock, logger: logger}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	// Drop stray characters before the scheme
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
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

// Publish sends body as JSON with the given routing key.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared {
		if err := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
		}
		p.declared = true
	}

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.clock.Now(),
		Body:         payload,
	})
	if err != nil {
		p.logger.Warn("publish failed", zap.String("exchange", p.exchange), zap.String("routing_key", routingKey), zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.Debug("event published", zap.String("exchange", p.exchange), zap.String("routing_key", routingKey))
	return nil
}

// Completed publishes wizard.completed with the handed-off batch.
func (p *EventProducer) Completed(ctx context.Context, sessionID string, accounts []account.Record) error {
	return p.Publish(ctx, KeyWizardCompleted, WizardEvent{
		SessionID:  sessionID,
		Accounts:   accounts,
		OccurredAt: p.clock.Now(),
	})
}

// Cancelled publishes wizard.cancelled.
func (p *EventProducer) Cancelled(ctx context.Context, sessionID string) error {
	return p.Publish(ctx, KeyWizardCancelled, WizardEvent{
		SessionID:  sessionID,
		OccurredAt: p.clock.Now(),
	})
}

// SyncFinished publishes sync.completed or sync.failed.
func (p *EventProducer) SyncFinished(ctx context.Context, event monitor.SyncEvent) error {
	key := KeySyncCompleted
	if !event.Succeeded() {
		key = KeySyncFailed
	}
	return p.Publish(ctx, key, SyncEvent{
		MonitorID:  event.MonitorID,
		AccountID:  event.Account.ID,
		Status:     event.Status,
		Automatic:  event.Automatic,
		OccurredAt: p.clock.Now(),
	})
}

// Close releases the channel and connection.
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
