// internal/service/relay.go
package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/edutrack-backend/internal/mailer"
	"github.com/unclebandit/edutrack-backend/internal/queue"
	"github.com/unclebandit/edutrack-backend/internal/repository"
)

// Relay turns broker notifications into actual email sends. For one
// notification it makes up to MaxAttempts sends with doubling backoff, then
// reconciles the outbox row.
//
// The return value of HandleNotification is the ack decision:
//   - nil: acknowledge. Covers success, malformed payloads, stale ids,
//     already sent entries, and exhausted transport retries (terminal failed
//     for this cycle; an operator replay retries it, not the broker).
//   - error: do not acknowledge. Only the relay's own infrastructure
//     failing (outbox store unreachable, non-transport send error) lands
//     here, so the broker redelivers later.
type Relay struct {
	Outbox repository.OutboxRepositoryInterface
	Sender mailer.Sender

	MaxAttempts int
	BaseBackoff time.Duration

	// Sleep and Now are injection points for tests; nil means real time.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// NewRelay constructs a relay with defaults filled in.
func NewRelay(outbox repository.OutboxRepositoryInterface, sender mailer.Sender, maxAttempts int, baseBackoff time.Duration) *Relay {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if baseBackoff <= 0 {
		baseBackoff = 500 * time.Millisecond
	}
	return &Relay{
		Outbox:      outbox,
		Sender:      sender,
		MaxAttempts: maxAttempts,
		BaseBackoff: baseBackoff,
	}
}

// HandleNotification processes one broker delivery. See the type comment
// for the ack contract.
func (r *Relay) HandleNotification(ctx context.Context, body []byte) error {
	var n queue.Notification
	if err := json.Unmarshal(body, &n); err != nil {
		log.Println("⚠️ dropping malformed notification:", err)
		return nil
	}

	id, err := uuid.Parse(n.OutboxID)
	if err != nil {
		log.Printf("⚠️ dropping notification with invalid outbox_id %q\n", n.OutboxID)
		return nil
	}

	entry, err := r.Outbox.GetByID(id)
	if err != nil {
		return err // store unreachable: broker redelivers
	}
	if entry == nil {
		log.Println("⚠️ outbox entry not found, dropping:", id)
		return nil
	}
	if entry.IsSent() {
		// Duplicate delivery of an already handled entry. Ack, do nothing.
		log.Println("📩 outbox entry already sent, skipping:", id)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := r.sleep(ctx, r.backoff(attempt-2)); err != nil {
				// Shutdown mid-retry: leave the notification unacked.
				return err
			}
		}

		sendErr := r.Sender.Send(ctx, entry.Recipients, entry.Subject, entry.Body)
		if sendErr == nil {
			if _, err := r.Outbox.MarkSent(entry.ID, r.now()); err != nil {
				return err
			}
			log.Println("✅ Email sent for outbox entry:", id)
			return nil
		}

		if !mailer.IsTransport(sendErr) {
			return sendErr // infrastructure failure inside the sender
		}

		lastErr = sendErr
		log.Printf("⚠️ send attempt %d/%d failed for %s: %v\n", attempt, r.MaxAttempts, id, sendErr)
	}

	// All attempts exhausted: terminal for this delivery cycle. Retries
	// counts exhausted cycles, so it goes up by exactly one here.
	if err := r.Outbox.MarkFailed(entry.ID, lastErr.Error()); err != nil {
		return err
	}
	log.Printf("⚠️ outbox entry %s failed after %d attempts\n", id, r.MaxAttempts)
	return nil
}

// backoff doubles the base delay per completed attempt.
func (r *Relay) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	return r.BaseBackoff << uint(attempt)
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if r.Sleep != nil {
		return r.Sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}
