package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// ErrBrokerClosed is returned once Close has been called.
var ErrBrokerClosed = errors.New("broker is closed")

// AMQPBroker owns a lazily (re)established RabbitMQ connection and channel
// for one durable queue. Publish makes exactly one attempt per call; the
// caller decides what a failure means. Consume reconnects with capped
// exponential backoff: bounded by ConnectAttempts until the first successful
// connect (fail fast when the broker is down at boot), unbounded afterwards.
type AMQPBroker struct {
	URL   string
	Queue string

	// ConnectAttempts bounds consecutive failed dials before the first
	// successful connect. Zero means unbounded even at startup.
	ConnectAttempts int
	// ReconnectMaxDelay caps the delay between reconnect attempts.
	ReconnectMaxDelay time.Duration

	mu            sync.Mutex
	conn          *amqp.Connection
	ch            *amqp.Channel
	closed        bool
	everConnected bool
}

// NewAMQPBroker creates a broker handle. No connection is opened yet; the
// first Publish or Consume dials.
func NewAMQPBroker(url, queueName string, connectAttempts int, reconnectMaxDelay time.Duration) *AMQPBroker {
	if reconnectMaxDelay <= 0 {
		reconnectMaxDelay = 30 * time.Second
	}
	return &AMQPBroker{
		URL:               url,
		Queue:             queueName,
		ConnectAttempts:   connectAttempts,
		ReconnectMaxDelay: reconnectMaxDelay,
	}
}

// ensureChannel returns a usable channel, dialing and declaring the durable
// queue if needed.
func (b *AMQPBroker) ensureChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	if b.ch != nil {
		return b.ch, nil
	}

	conn, err := amqp.Dial(b.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		b.Queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", b.Queue, err)
	}

	b.conn = conn
	b.ch = ch
	b.everConnected = true
	return ch, nil
}

// reset discards the current channel and connection so the next call
// re-establishes them.
func (b *AMQPBroker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

func (b *AMQPBroker) hasEverConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.everConnected
}

// Publish sends one persistent message to the durable queue. Exactly one
// attempt: on failure the connection is discarded and the error returned, so
// the caller can surface it (the enqueue path turns it into
// ErrDispatchUnavailable).
func (b *AMQPBroker) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := b.ensureChannel()
	if err != nil {
		return err
	}

	err = ch.Publish(
		"",      // exchange
		b.Queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		b.reset()
		return fmt.Errorf("publish to %s: %w", b.Queue, err)
	}
	return nil
}

// Consume delivers queue messages to the handler one at a time (prefetch 1)
// until ctx is cancelled. A nil handler result acks the delivery; an error
// nacks it with requeue so the broker redelivers. Returns only when ctx is
// done or the startup connect budget is exhausted.
func (b *AMQPBroker) Consume(ctx context.Context, handler Handler) error {
	attempts := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		ch, err := b.ensureChannel()
		if err != nil {
			if errors.Is(err, ErrBrokerClosed) {
				return nil
			}
			attempts++
			if !b.hasEverConnected() && b.ConnectAttempts > 0 && attempts >= b.ConnectAttempts {
				return fmt.Errorf("broker unreachable after %d attempts: %w", attempts, err)
			}
			delay := backoffDelay(time.Second, attempts-1, b.ReconnectMaxDelay)
			log.Printf("⚠️ broker connect failed (attempt %d), retrying in %s: %v\n", attempts, delay, err)
			if sleepContext(ctx, delay) != nil {
				return nil
			}
			continue
		}
		attempts = 0

		if err := ch.Qos(1, 0, false); err != nil {
			log.Println("⚠️ failed to set prefetch, reconnecting:", err)
			b.reset()
			continue
		}

		msgs, err := ch.Consume(
			b.Queue,
			"",    // consumer tag
			false, // autoAck = false for reliability
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,   // args
		)
		if err != nil {
			log.Println("⚠️ failed to register consumer, reconnecting:", err)
			b.reset()
			continue
		}

		log.Printf("📩 Consuming from queue %s\n", b.Queue)
		if b.drain(ctx, msgs, handler) {
			return nil
		}
		// Delivery channel closed underneath us; rebuild the connection.
		b.reset()
	}
}

// drain processes deliveries until ctx is done (returns true) or the
// delivery channel closes (returns false). The in-flight handler always runs
// to completion before a shutdown is honored.
func (b *AMQPBroker) drain(ctx context.Context, msgs <-chan amqp.Delivery, handler Handler) bool {
	for {
		// A ready delivery and a fired context make the select below a coin
		// toss; check cancellation first so intake stops deterministically.
		if ctx.Err() != nil {
			return true
		}

		select {
		case <-ctx.Done():
			return true
		case d, ok := <-msgs:
			if !ok {
				return false
			}
			if err := handler(ctx, d.Body); err != nil {
				log.Println("⚠️ handler failed, leaving message for redelivery:", err)
				d.Nack(false, true) // requeue
				continue
			}
			d.Ack(false)
		}
	}
}

// Close tears the connection down. Unacked in-flight deliveries are
// redelivered by the broker once a consumer attaches again.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.ch != nil {
		b.ch.Close()
		b.ch = nil
	}
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

// backoffDelay doubles the base per attempt, capped.
func backoffDelay(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// sleepContext sleeps for d but wakes up on context cancellation.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
