package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dlxExchangeName  = "dispatch.events.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	dialTimeout      = 5 * time.Second
	heartbeat        = 10 * time.Second
)

// ErrNotConnected is returned for publishes that may not wait for a reconnect while no
// channel is open.
var ErrNotConnected = errors.New("rabbitmq is not connected")

// RabbitMQ owns one connection and one confirm-mode channel used to publish run events.
// Both are re-established after the broker drops them, and the topology is declared each
// time a channel is opened. Only one caller dials at a time; the others wait for it or
// for their own context, whichever comes first.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel

	slotOnce sync.Once
	slot     chan struct{}
}

// NewRabbitMQ dials the broker, retrying with backoff until ctx expires.
func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url, dial: dialWithTimeout}
	if _, err := r.channel(ctx, true); err != nil {
		return nil, err
	}

	return r, nil
}

func dialWithTimeout(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(dialTimeout),
	})
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil && !r.ch.IsClosed() {
		_ = r.ch.Close()
	}
	r.ch = nil

	conn := r.conn
	r.conn = nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping reports whether a publishing channel is open or can be reopened before ctx expires.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	_, err := r.channel(ctx, true)
	return err
}

// publish sends msg to the events exchange. A confirmed publish reconnects when needed and
// blocks until the broker acknowledges the message or ctx expires. An unconfirmed publish
// never reconnects: without an open channel it fails fast with ErrNotConnected.
func (r *RabbitMQ) publish(ctx context.Context, routingKey string, msg amqp.Publishing, confirm bool) error {
	ch, err := r.channel(ctx, confirm)
	if err != nil {
		return err
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, routingKey, false, false, msg)
	if err != nil {
		r.dropChannel(ch)
		return fmt.Errorf("failed to publish run event %q: %w", routingKey, err)
	}
	if !confirm || confirmation == nil {
		return nil
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("run event %q not confirmed: %w", routingKey, err)
	}
	if !acked {
		return fmt.Errorf("run event %q rejected by broker", routingKey)
	}
	return nil
}

// channel returns the open publishing channel. When none is open and reconnect is set it
// dials, holding the reconnect slot rather than r.mu so publishers on an open channel
// never wait behind a dial.
func (r *RabbitMQ) channel(ctx context.Context, reconnect bool) (*amqp.Channel, error) {
	if ch := r.openChannel(); ch != nil {
		return ch, nil
	}
	if !reconnect {
		return nil, ErrNotConnected
	}

	slot := r.reconnectSlot()
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for rabbitmq reconnect: %w", ctx.Err())
	}
	defer func() { <-slot }()

	// another caller may have reconnected while this one waited
	if ch := r.openChannel(); ch != nil {
		return ch, nil
	}

	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		dialed, err := r.dialWithBackoff(ctx)
		if err != nil {
			return nil, err
		}
		conn = dialed
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		r.setConnection(nil, nil)
		return nil, fmt.Errorf("failed to create rabbitmq channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		r.setConnection(conn, nil)
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		r.setConnection(conn, nil)
		return nil, err
	}

	r.setConnection(conn, ch)
	return ch, nil
}

func (r *RabbitMQ) openChannel() *amqp.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch
	}
	return nil
}

func (r *RabbitMQ) setConnection(conn *amqp.Connection, ch *amqp.Channel) {
	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()
}

// dropChannel forgets ch unless a newer channel already replaced it.
func (r *RabbitMQ) dropChannel(ch *amqp.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != ch {
		return
	}
	if !ch.IsClosed() {
		_ = ch.Close()
	}
	r.ch = nil
}

func (r *RabbitMQ) reconnectSlot() chan struct{} {
	r.slotOnce.Do(func() {
		r.slot = make(chan struct{}, 1)
	})
	return r.slot
}

func (r *RabbitMQ) dialWithBackoff(ctx context.Context) (*amqp.Connection, error) {
	dial := r.dial
	if dial == nil {
		dial = dialWithTimeout
	}

	wait := reconnectBackoff
	for {
		conn, err := dial(r.url)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled after %v: %w", err, ctx.Err())
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

// declareTopology declares the topic exchange run events are routed through, one durable
// queue per event kind, and a dead-letter queue behind each.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dlx exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare events exchange: %w", err)
	}

	for _, queueName := range EventQueueNames() {
		dlqName := DLQName(queueName)

		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare dlq %q: %w", dlqName, err)
		}
		if err := ch.QueueBind(dlqName, queueName, dlxExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind dlq %q: %w", dlqName, err)
		}

		args := amqp.Table{
			"x-dead-letter-exchange":    dlxExchangeName,
			"x-dead-letter-routing-key": queueName,
		}
		if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", queueName, err)
		}
		if err := ch.QueueBind(queueName, bindingKey(eventQueues[queueName]), EventsExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", queueName, err)
		}
	}

	return nil
}
