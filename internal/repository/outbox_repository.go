package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/edutrack-backend/internal/model"
)

// OutboxRepositoryInterface is what the enqueue path and the notifier need
// from the outbox table. The enqueue path only creates rows; the notifier
// only mutates status/retries/last_error/sent_at. Nothing deletes rows.
type OutboxRepositoryInterface interface {
	Create(entry *model.OutboxEntry) error
	GetByID(id uuid.UUID) (*model.OutboxEntry, error)
	MarkSent(id uuid.UUID, at time.Time) (bool, error)
	MarkFailed(id uuid.UUID, lastError string) error
	ListPendingOlderThan(cutoff time.Time, limit int) ([]*model.OutboxEntry, error)
	StatusCounts() (map[string]int, error)
}

type OutboxRepository struct {
	DB *sql.DB
}

// Create inserts a new outbox entry with status=pending and retries=0.
// Calling enqueue twice for the same message_id intentionally produces two
// independent rows; there is no deduplication here.
func (r *OutboxRepository) Create(entry *model.OutboxEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = model.StatusPending
	entry.Retries = 0
	entry.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO email_outbox
        (id, message_id, recipients, subject, body, status, retries, last_error, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.DB.Exec(
		query,
		entry.ID,
		entry.MessageID,
		entry.Recipients,
		entry.Subject,
		entry.Body,
		entry.Status,
		entry.Retries,
		entry.LastError,
		entry.CreatedAt,
	)
	return err
}

// GetByID fetches an outbox entry by its ID. Returns (nil, nil) when the id
// does not exist, so the notifier can drop stale references without treating
// them as infrastructure failures.
func (r *OutboxRepository) GetByID(id uuid.UUID) (*model.OutboxEntry, error) {
	query := `
        SELECT id, message_id, recipients, subject, body, status, retries, last_error, created_at, sent_at
        FROM email_outbox
        WHERE id = $1
    `
	var entry model.OutboxEntry
	err := r.DB.QueryRow(query, id).Scan(
		&entry.ID,
		&entry.MessageID,
		&entry.Recipients,
		&entry.Subject,
		&entry.Body,
		&entry.Status,
		&entry.Retries,
		&entry.LastError,
		&entry.CreatedAt,
		&entry.SentAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkSent transitions an entry to sent, stamps sent_at and clears
// last_error. The WHERE clause excludes rows already sent, so a duplicate
// notification can never overwrite sent_at. Returns whether a row changed.
func (r *OutboxRepository) MarkSent(id uuid.UUID, at time.Time) (bool, error) {
	query := `
        UPDATE email_outbox
        SET status = $1, sent_at = $2, last_error = ''
        WHERE id = $3 AND status <> $1
    `
	res, err := r.DB.Exec(query, model.StatusSent, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkFailed transitions an entry to failed, records the last error text and
// increments retries by one. One increment per exhausted delivery cycle, not
// per attempt.
func (r *OutboxRepository) MarkFailed(id uuid.UUID, lastError string) error {
	query := `
        UPDATE email_outbox
        SET status = $1, last_error = $2, retries = retries + 1
        WHERE id = $3 AND status <> $4
    `
	_, err := r.DB.Exec(query, model.StatusFailed, lastError, id, model.StatusSent)
	return err
}

// ListPendingOlderThan returns pending entries created before the cutoff,
// oldest first. Used by the requeue endpoint to catch up entries whose
// publish failed at enqueue time.
func (r *OutboxRepository) ListPendingOlderThan(cutoff time.Time, limit int) ([]*model.OutboxEntry, error) {
	query := `
        SELECT id, message_id, recipients, subject, body, status, retries, last_error, created_at, sent_at
        FROM email_outbox
        WHERE status = $1 AND created_at < $2
        ORDER BY created_at ASC
        LIMIT $3
    `
	rows, err := r.DB.Query(query, model.StatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.OutboxEntry
	for rows.Next() {
		var entry model.OutboxEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.MessageID,
			&entry.Recipients,
			&entry.Subject,
			&entry.Body,
			&entry.Status,
			&entry.Retries,
			&entry.LastError,
			&entry.CreatedAt,
			&entry.SentAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// StatusCounts returns how many entries sit in each status.
func (r *OutboxRepository) StatusCounts() (map[string]int, error) {
	query := `
        SELECT status, COUNT(*)
        FROM email_outbox
        GROUP BY status
    `
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.StatusPending: 0,
		model.StatusSent:    0,
		model.StatusFailed:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
