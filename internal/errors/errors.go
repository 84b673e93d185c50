// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDispatchUnavailable means the outbox entry was durably recorded but the
// broker notification could not be published. The entry stays pending until a
// requeue or operator replay; the caller should treat the send as
// "accepted but delayed".
var ErrDispatchUnavailable = errors.New("dispatch unavailable: outbox notification could not be published")

// ErrNoRecipients is returned when an enqueue call carries an empty
// recipients list.
var ErrNoRecipients = errors.New("recipients must not be empty")

// ErrMessageNotFound is a sentinel error
type ErrMessageNotFound struct {
	MessageID uuid.UUID
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message %s not found", e.MessageID)
}

// Helper constructor
func NewMessageNotFound(id uuid.UUID) error {
	return &ErrMessageNotFound{MessageID: id}
}

// ErrOutboxEntryNotFound is returned when an outbox entry id does not exist.
type ErrOutboxEntryNotFound struct {
	OutboxID uuid.UUID
}

func (e *ErrOutboxEntryNotFound) Error() string {
	return fmt.Sprintf("outbox entry %s not found", e.OutboxID)
}

func NewOutboxEntryNotFound(id uuid.UUID) error {
	return &ErrOutboxEntryNotFound{OutboxID: id}
}
