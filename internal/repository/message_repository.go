package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/edutrack-backend/internal/model"
)

// MessageRepositoryInterface defines the methods the message service needs
type MessageRepositoryInterface interface {
	Create(msg *model.Message) error
	GetByID(id uuid.UUID) (*model.Message, error)
	Update(msg *model.Message) error
}

type MessageRepository struct {
	DB *sql.DB
}

// Create inserts a new message
func (r *MessageRepository) Create(msg *model.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	query := `
        INSERT INTO messages (id, sender, subject, body, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := r.DB.Exec(query, msg.ID, msg.Sender, msg.Subject, msg.Body, msg.CreatedAt, msg.UpdatedAt)
	return err
}

// GetByID fetches a message by its ID. Returns (nil, nil) when not found.
func (r *MessageRepository) GetByID(id uuid.UUID) (*model.Message, error) {
	query := `
        SELECT id, sender, subject, body, created_at, updated_at
        FROM messages
        WHERE id = $1
    `
	var msg model.Message
	err := r.DB.QueryRow(query, id).Scan(
		&msg.ID,
		&msg.Sender,
		&msg.Subject,
		&msg.Body,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Update rewrites subject and body. Outbox entries created before the update
// keep their own snapshot and are not affected.
func (r *MessageRepository) Update(msg *model.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	query := `
        UPDATE messages
        SET subject = $1, body = $2, updated_at = $3
        WHERE id = $4
    `
	_, err := r.DB.Exec(query, msg.Subject, msg.Body, msg.UpdatedAt, msg.ID)
	return err
}
