// internal/model/outbox_entry.go
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Outbox entry statuses. An entry starts as pending, ends up sent or failed.
// "failed" is terminal for one delivery cycle only; an operator replay or a
// pending backfill can still move it to sent later.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// OutboxEntry is one durable email delivery intention. Subject, body and
// recipients are snapshotted at enqueue time so later edits to the
// originating message do not change what gets delivered.
type OutboxEntry struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	MessageID  uuid.UUID      `db:"message_id" json:"message_id"`
	Recipients pq.StringArray `db:"recipients" json:"recipients"`
	Subject    string         `db:"subject" json:"subject"`
	Body       string         `db:"body" json:"body"`
	Status     string         `db:"status" json:"status"` // pending, sent, failed
	Retries    int            `db:"retries" json:"retries"`
	LastError  string         `db:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	SentAt     *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
}

// IsSent reports whether the entry reached its terminal success status.
func (e *OutboxEntry) IsSent() bool {
	return e.Status == StatusSent
}
