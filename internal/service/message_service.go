// internal/service/message_service.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/unclebandit/edutrack-backend/internal/cache"
	appErrors "github.com/unclebandit/edutrack-backend/internal/errors"
	"github.com/unclebandit/edutrack-backend/internal/model"
	"github.com/unclebandit/edutrack-backend/internal/queue"
	"github.com/unclebandit/edutrack-backend/internal/repository"
)

// MessageService owns the enqueue path: it creates messages, records outbox
// entries and hands delivery references to the broker. It never performs the
// actual send; that belongs to the notifier.
type MessageService struct {
	Messages repository.MessageRepositoryInterface
	Outbox   repository.OutboxRepositoryInterface
	Broker   queue.Broker
	Cache    *cache.Cache
}

// CreateMessage persists a new logical message.
func (s *MessageService) CreateMessage(sender, subject, body string) (*model.Message, error) {
	msg := &model.Message{
		Sender:  sender,
		Subject: subject,
		Body:    body,
	}
	if err := s.Messages.Create(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage fetches a message, read-through cached.
func (s *MessageService) GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	key := messageCacheKey(id)
	if raw, ok := s.Cache.Get(ctx, key); ok {
		var msg model.Message
		if err := json.Unmarshal([]byte(raw), &msg); err == nil {
			return &msg, nil
		}
		// Bad cached payload: fall through to the database.
	}

	msg, err := s.Messages.GetByID(id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(id)
	}

	if raw, err := json.Marshal(msg); err == nil {
		s.Cache.Set(ctx, key, string(raw))
	}
	return msg, nil
}

// UpdateMessage rewrites subject/body and invalidates the cached copy.
// Outbox entries already enqueued keep their snapshot and are unaffected.
func (s *MessageService) UpdateMessage(ctx context.Context, id uuid.UUID, subject, body string) (*model.Message, error) {
	msg, err := s.Messages.GetByID(id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(id)
	}

	msg.Subject = subject
	msg.Body = body
	if err := s.Messages.Update(msg); err != nil {
		return nil, err
	}

	s.Cache.Delete(ctx, messageCacheKey(id))
	return msg, nil
}

// EnqueueEmail records a durable delivery intention for a message and
// publishes its reference to the broker. The outbox row commits first; if
// the publish then fails, the row stays pending and the caller gets
// ErrDispatchUnavailable together with the entry, meaning "accepted but
// delayed" rather than lost. Exactly one publish attempt is made.
func (s *MessageService) EnqueueEmail(ctx context.Context, messageID uuid.UUID, recipients []string) (*model.OutboxEntry, error) {
	if len(recipients) == 0 {
		return nil, appErrors.ErrNoRecipients
	}

	msg, err := s.Messages.GetByID(messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(messageID)
	}

	entry := &model.OutboxEntry{
		MessageID:  messageID,
		Recipients: pq.StringArray(recipients),
		Subject:    msg.Subject,
		Body:       msg.Body,
	}
	if err := s.Outbox.Create(entry); err != nil {
		return nil, err
	}

	if err := s.publishReference(ctx, entry.ID); err != nil {
		log.Println("⚠️ outbox entry recorded but publish failed:", err)
		return entry, fmt.Errorf("%w: %v", appErrors.ErrDispatchUnavailable, err)
	}
	return entry, nil
}

// GetOutboxEntry returns the current delivery state of one entry.
func (s *MessageService) GetOutboxEntry(id uuid.UUID) (*model.OutboxEntry, error) {
	entry, err := s.Outbox.GetByID(id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, appErrors.NewOutboxEntryNotFound(id)
	}
	return entry, nil
}

// OutboxStats returns entry counts per status.
func (s *MessageService) OutboxStats() (map[string]int, error) {
	return s.Outbox.StatusCounts()
}

// RequeuePending republishes references for pending entries older than the
// given age. This is the catch-up path for entries whose publish failed at
// enqueue time. Returns how many references were published.
func (s *MessageService) RequeuePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	entries, err := s.Outbox.ListPendingOlderThan(cutoff, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, entry := range entries {
		if err := s.publishReference(ctx, entry.ID); err != nil {
			return requeued, fmt.Errorf("%w: %v", appErrors.ErrDispatchUnavailable, err)
		}
		requeued++
	}
	if requeued > 0 {
		log.Printf("📩 Requeued %d pending outbox entries\n", requeued)
	}
	return requeued, nil
}

// ReplayEntry republishes one entry's reference regardless of status. This
// is the operator path for retrying a failed entry; replaying an already
// sent entry is harmless because the notifier drops sent entries.
func (s *MessageService) ReplayEntry(ctx context.Context, id uuid.UUID) (*model.OutboxEntry, error) {
	entry, err := s.Outbox.GetByID(id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, appErrors.NewOutboxEntryNotFound(id)
	}

	if err := s.publishReference(ctx, entry.ID); err != nil {
		return entry, fmt.Errorf("%w: %v", appErrors.ErrDispatchUnavailable, err)
	}
	return entry, nil
}

func (s *MessageService) publishReference(ctx context.Context, outboxID uuid.UUID) error {
	payload, err := queue.EncodeNotification(outboxID.String())
	if err != nil {
		return err
	}
	return s.Broker.Publish(ctx, payload)
}

func messageCacheKey(id uuid.UUID) string {
	return "message:" + id.String()
}
