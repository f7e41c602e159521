package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/ccmanuelf/kpi-operations-sub013/domain"
)

// AMQPConnection abstracts the broker connection so the relay can be tested
// with a mock dialer.
type AMQPConnection interface {
	Channel() (AMQPChannel, error)
	Close() error
}

// AMQPChannel abstracts the broker channel operations the relay uses.
type AMQPChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDialer opens broker connections; injected for testing.
type AMQPDialer interface {
	Dial(url string) (AMQPConnection, error)
}

type realConnection struct{ conn *amqp.Connection }

func (r *realConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &realChannel{ch: ch}, nil
}

func (r *realConnection) Close() error { return r.conn.Close() }

type realChannel struct{ ch *amqp.Channel }

func (r *realChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return r.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (r *realChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}

func (r *realChannel) Close() error { return r.ch.Close() }

// RealAMQPDialer dials the broker with the streadway client.
type RealAMQPDialer struct{}

func (RealAMQPDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &realConnection{conn: conn}, nil
}

// NotificationRelay is the asynchronous handler that publishes critical
// events to a durable topic exchange for downstream notification consumers.
// The connection is dialed lazily on first use and redialed after failures.
type NotificationRelay struct {
	url      string
	exchange string
	dialer   AMQPDialer

	mu   sync.Mutex
	conn AMQPConnection
	ch   AMQPChannel
}

// NewNotificationRelay builds the relay. An empty URL disables it at the
// wiring site; the relay itself assumes a usable URL.
func NewNotificationRelay(url, exchange string, dialer AMQPDialer) *NotificationRelay {
	if dialer == nil {
		dialer = RealAMQPDialer{}
	}
	return &NotificationRelay{url: url, exchange: exchange, dialer: dialer}
}

func (r *NotificationRelay) Name() string { return "notification-relay" }

// Matches accepts only critical event types; routine traffic never reaches
// the broker.
func (r *NotificationRelay) Matches(eventType string) bool {
	switch eventType {
	case domain.EventKPIThresholdViolated, domain.EventHoldCreated:
		return true
	}
	return false
}

func (r *NotificationRelay) Handle(_ context.Context, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event %s: %w", ev.EventID, err)
	}

	ch, err := r.channel()
	if err != nil {
		return err
	}

	key := routingKey(ev)
	if err := ch.Publish(r.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Body:         body,
	}); err != nil {
		r.reset()
		return fmt.Errorf("failed to publish event %s: %w", ev.EventID, err)
	}
	return nil
}

// routingKey is "<event_type>.<client_id>" so consumers can bind per tenant.
func routingKey(ev domain.Event) string {
	client := "system"
	if ev.ClientID != nil {
		client = *ev.ClientID
	}
	return fmt.Sprintf("%s.%s", ev.Type, client)
}

func (r *NotificationRelay) channel() (AMQPChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		return r.ch, nil
	}
	conn, err := r.dialer.Dial(r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	r.conn = conn
	r.ch = ch
	return r.ch, nil
}

func (r *NotificationRelay) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil {
		r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Close releases the broker connection.
func (r *NotificationRelay) Close() {
	r.reset()
}
