package queue

import (
	"context"
	"encoding/json"
)

// Handler processes one notification body. A nil return acknowledges the
// message; a non-nil return leaves it unacknowledged so the broker
// redelivers it later.
type Handler func(ctx context.Context, body []byte) error

// Broker interface
type Broker interface {
	Publish(ctx context.Context, body []byte) error
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// Notification is the only inter-process wire contract: a JSON object
// carrying the outbox entry id. Consumers must ignore unknown extra fields,
// so this struct may grow but never rename or remove outbox_id.
type Notification struct {
	OutboxID string `json:"outbox_id"`
}

// EncodeNotification builds the wire payload for an outbox entry id.
func EncodeNotification(outboxID string) ([]byte, error) {
	return json.Marshal(Notification{OutboxID: outboxID})
}
