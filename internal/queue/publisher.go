package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher publishes run events to the events exchange. Completion events are
// persistent and wait for a broker confirm; progress events are transient and
// fire-and-forget.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event RunEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := p.publishing(event)
	if err != nil {
		return err
	}

	completed := event.Kind == EventKindCompleted
	return p.client.publish(ctx, RoutingKey(event.Kind, event.Provider), publishing, completed)
}

func (p *RabbitMQPublisher) publishing(event RunEvent) (amqp.Publishing, error) {
	if err := event.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid run event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal run event: %w", err)
	}

	deliveryMode := amqp.Transient
	if event.Kind == EventKindCompleted {
		deliveryMode = amqp.Persistent
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  deliveryMode,
		Timestamp:     p.now().UTC(),
		Type:          string(event.Kind),
		CorrelationId: event.RunID,
		Body:          payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
