package queue

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBroker is an in-memory Broker used by tests and local development.
// It keeps the same ack/nack contract as the AMQP broker: a handler error
// requeues the message at the tail for redelivery.
type MemoryBroker struct {
	mu       sync.Mutex
	messages [][]byte
	acked    int
	nacked   int

	// PublishErr, when set, makes every Publish fail. Lets tests simulate a
	// broker outage at enqueue time.
	PublishErr error

	closed bool
}

// NewMemoryBroker creates a new in-memory broker
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// Publish appends the payload to the queue.
func (b *MemoryBroker) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	if b.PublishErr != nil {
		return b.PublishErr
	}

	msg := make([]byte, len(body))
	copy(msg, body)
	b.messages = append(b.messages, msg)
	return nil
}

// Consume delivers every message queued at call time exactly once, in order.
// Nacked messages are requeued at the tail, so calling Consume again
// redelivers them, mirroring broker redelivery after a consumer reattach.
func (b *MemoryBroker) Consume(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	pending := b.messages
	b.messages = nil
	b.mu.Unlock()

	for i, msg := range pending {
		if err := ctx.Err(); err != nil {
			// Undelivered messages stay queued, like unacked broker messages.
			b.requeue(pending[i:])
			return nil
		}

		if err := handler(ctx, msg); err != nil {
			b.mu.Lock()
			b.nacked++
			b.mu.Unlock()
			b.requeue([][]byte{msg})
			continue
		}

		b.mu.Lock()
		b.acked++
		b.mu.Unlock()
	}
	return nil
}

func (b *MemoryBroker) requeue(msgs [][]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgs...)
}

// Close marks the broker closed.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Len reports how many messages are waiting.
func (b *MemoryBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Acked reports how many deliveries were acknowledged.
func (b *MemoryBroker) Acked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acked
}

// Nacked reports how many deliveries were left for redelivery.
func (b *MemoryBroker) Nacked() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacked
}

// Peek returns a copy of the queued payloads, head first.
func (b *MemoryBroker) Peek() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.messages))
	for i, m := range b.messages {
		out[i] = append([]byte(nil), m...)
	}
	return out
}

var _ Broker = (*MemoryBroker)(nil)
var _ Broker = (*AMQPBroker)(nil)

// String helps debugging test failures.
func (b *MemoryBroker) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fmt.Sprintf("MemoryBroker{queued: %d, acked: %d, nacked: %d}", len(b.messages), b.acked, b.nacked)
}
