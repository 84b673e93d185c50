// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message is the originating logical message. The outbox keeps its own
// snapshot of subject/body, so a Message may be edited after an email for it
// was enqueued without affecting delivery.
type Message struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Sender    string    `db:"sender" json:"sender"`
	Subject   string    `db:"subject" json:"subject"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
