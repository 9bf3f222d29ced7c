package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "strata.events"

// RabbitMQPublisher publishes domain events to a topic exchange, routing
// key = event type, grounded on LerianStudio-midaz's lazy-reconnect
// connection-hub idiom (mrabbitmq.RabbitMQConnection) but rewritten
// against the maintained rabbitmq/amqp091-go client rather than the
// archived streadway/amqp.
type RabbitMQPublisher struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQPublisher(url string, logger *slog.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{url: url, logger: logger}
}

func (p *RabbitMQPublisher) channelLocked() (*amqp.Channel, error) {
	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("events: dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("events: declare exchange: %w", err)
	}

	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = conn
	p.channel = ch
	return ch, nil
}

// Publish marshals payload and publishes it under routing key eventType.
// A publish failure is returned to the caller, which per package policy
// should log it and proceed rather than fail the triggering request.
func (p *RabbitMQPublisher) Publish(ctx context.Context, realm, eventType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal payload: %w", err)
	}
	env := Envelope{Type: eventType, Realm: realm, OccurredAt: time.Now().UTC(), Payload: raw}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}

	p.mu.Lock()
	ch, err := p.channelLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchangeName, eventType, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    env.OccurredAt,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		p.logger.Warn("events: publish failed", "type", eventType, "realm", realm, "error", err)
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
