package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/edutrack-backend/internal/mailer"
	"github.com/unclebandit/edutrack-backend/internal/model"
	"github.com/unclebandit/edutrack-backend/internal/service"
)

// mockOutboxRepo keeps entries in memory and mirrors the conditional update
// semantics of the Postgres repository.
type mockOutboxRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*model.OutboxEntry

	getErr        error
	markSentErr   error
	markFailedErr error
}

func newMockOutboxRepo() *mockOutboxRepo {
	return &mockOutboxRepo{entries: map[uuid.UUID]*model.OutboxEntry{}}
}

func (m *mockOutboxRepo) Create(entry *model.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Status = model.StatusPending
	entry.Retries = 0
	entry.CreatedAt = time.Now().UTC()
	stored := *entry
	m.entries[entry.ID] = &stored
	return nil
}

func (m *mockOutboxRepo) GetByID(id uuid.UUID) (*model.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	entry, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (m *mockOutboxRepo) MarkSent(id uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markSentErr != nil {
		return false, m.markSentErr
	}
	entry, ok := m.entries[id]
	if !ok || entry.Status == model.StatusSent {
		return false, nil
	}
	entry.Status = model.StatusSent
	entry.SentAt = &at
	entry.LastError = ""
	return true, nil
}

func (m *mockOutboxRepo) MarkFailed(id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markFailedErr != nil {
		return m.markFailedErr
	}
	entry, ok := m.entries[id]
	if !ok || entry.Status == model.StatusSent {
		return nil
	}
	entry.Status = model.StatusFailed
	entry.LastError = lastError
	entry.Retries++
	return nil
}

func (m *mockOutboxRepo) ListPendingOlderThan(cutoff time.Time, limit int) ([]*model.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.OutboxEntry
	for _, entry := range m.entries {
		if entry.Status == model.StatusPending && entry.CreatedAt.Before(cutoff) {
			cp := *entry
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockOutboxRepo) StatusCounts() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{
		model.StatusPending: 0,
		model.StatusSent:    0,
		model.StatusFailed:  0,
	}
	for _, entry := range m.entries {
		stats[entry.Status]++
	}
	return stats, nil
}

func (m *mockOutboxRepo) get(id uuid.UUID) *model.OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[id]
}

// fakeSender returns scripted results per call; once the script runs out it
// succeeds.
type fakeSender struct {
	mu      sync.Mutex
	script  []error
	calls   int
	lastTo  []string
	lastSub string
	lastBod string
}

func (f *fakeSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTo = append([]string(nil), recipients...)
	f.lastSub = subject
	f.lastBod = body
	idx := f.calls
	f.calls++
	if idx < len(f.script) {
		return f.script[idx]
	}
	return nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func transportErr(kind mailer.ErrorKind, msg string) error {
	return &mailer.TransportError{Kind: kind, Message: msg, Err: errors.New(msg)}
}

func newTestRelay(repo *mockOutboxRepo, sender *fakeSender, maxAttempts int) (*service.Relay, *[]time.Duration) {
	relay := service.NewRelay(repo, sender, maxAttempts, 100*time.Millisecond)

	var sleeps []time.Duration
	relay.Sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sleeps = append(sleeps, d)
		return nil
	}
	relay.Now = func() time.Time {
		return time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC)
	}
	return relay, &sleeps
}

func seedEntry(t *testing.T, repo *mockOutboxRepo) *model.OutboxEntry {
	t.Helper()
	entry := &model.OutboxEntry{
		MessageID:  uuid.New(),
		Recipients: pq.StringArray{"a@x.com"},
		Subject:    "Hi",
		Body:       "Body",
	}
	require.NoError(t, repo.Create(entry))
	return entry
}

func notification(t *testing.T, id string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]string{"outbox_id": id})
	require.NoError(t, err)
	return body
}

func TestRelayFirstAttemptSuccess(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, sleeps := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)

	err := relay.HandleNotification(context.Background(), notification(t, entry.ID.String()))
	require.NoError(t, err)

	got := repo.get(entry.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, 0, got.Retries)
	assert.Empty(t, got.LastError)
	assert.Equal(t, 1, sender.callCount())
	assert.Empty(t, *sleeps, "no backoff before the first attempt")

	// The entry's snapshot is what got delivered.
	assert.Equal(t, []string{"a@x.com"}, sender.lastTo)
	assert.Equal(t, "Hi", sender.lastSub)
	assert.Equal(t, "Body", sender.lastBod)
}

func TestRelayExhaustsRetriesThenFails(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{script: []error{
		transportErr(mailer.KindConnect, "connect refused"),
		transportErr(mailer.KindTimeout, "timed out"),
		transportErr(mailer.KindData, "content rejected"),
	}}
	relay, sleeps := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)

	err := relay.HandleNotification(context.Background(), notification(t, entry.ID.String()))
	require.NoError(t, err, "exhausted transport retries must still acknowledge")

	got := repo.get(entry.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 1, got.Retries, "one increment per exhausted cycle, not per attempt")
	assert.Contains(t, got.LastError, "content rejected")
	assert.Nil(t, got.SentAt)
	assert.Equal(t, 3, sender.callCount())

	// Backoff doubles between sequential attempts.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestRelaySecondCycleIncrementsRetriesAgain(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{script: []error{
		transportErr(mailer.KindConnect, "down"),
		transportErr(mailer.KindConnect, "down"),
		transportErr(mailer.KindConnect, "still down"),
		transportErr(mailer.KindConnect, "still down"),
	}}
	relay, _ := newTestRelay(repo, sender, 2)
	entry := seedEntry(t, repo)
	body := notification(t, entry.ID.String())

	require.NoError(t, relay.HandleNotification(context.Background(), body))
	require.NoError(t, relay.HandleNotification(context.Background(), body))

	got := repo.get(entry.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, 2, got.Retries)
}

func TestRelayFailedEntryCanStillBeSent(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{script: []error{
		transportErr(mailer.KindConnect, "down"),
		transportErr(mailer.KindConnect, "down"),
	}}
	relay, _ := newTestRelay(repo, sender, 2)
	entry := seedEntry(t, repo)
	body := notification(t, entry.ID.String())

	require.NoError(t, relay.HandleNotification(context.Background(), body))
	require.Equal(t, model.StatusFailed, repo.get(entry.ID).Status)

	// Operator replay: the script is exhausted, so the next send succeeds.
	require.NoError(t, relay.HandleNotification(context.Background(), body))

	got := repo.get(entry.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Equal(t, 1, got.Retries, "retries never resets")
}

func TestRelayAlreadySentEntryIsNoOp(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, _ := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)
	body := notification(t, entry.ID.String())

	require.NoError(t, relay.HandleNotification(context.Background(), body))
	first := repo.get(entry.ID)
	require.Equal(t, model.StatusSent, first.Status)
	sentAt := *first.SentAt

	// Duplicate notification: no second send, sent_at untouched.
	require.NoError(t, relay.HandleNotification(context.Background(), body))

	got := repo.get(entry.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, sentAt, *got.SentAt)
	assert.Equal(t, 1, sender.callCount())
}

func TestRelayDropsMalformedNotifications(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, _ := newTestRelay(repo, sender, 3)

	for _, body := range [][]byte{
		[]byte("not json"),
		[]byte(`{}`),
		[]byte(`{"outbox_id": "not-a-uuid"}`),
	} {
		assert.NoError(t, relay.HandleNotification(context.Background(), body))
	}
	assert.Equal(t, 0, sender.callCount())
}

func TestRelayIgnoresUnknownPayloadFields(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, _ := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)

	body := []byte(`{"outbox_id": "` + entry.ID.String() + `", "source": "v2-producer", "attempt": 7}`)
	require.NoError(t, relay.HandleNotification(context.Background(), body))
	assert.Equal(t, model.StatusSent, repo.get(entry.ID).Status)
}

func TestRelayDropsUnknownEntry(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, _ := newTestRelay(repo, sender, 3)

	err := relay.HandleNotification(context.Background(), notification(t, uuid.NewString()))
	assert.NoError(t, err)
	assert.Equal(t, 0, sender.callCount())
}

func TestRelayStoreFailureIsRetryable(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, _ := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)
	body := notification(t, entry.ID.String())

	repo.getErr = errors.New("connection refused")
	err := relay.HandleNotification(context.Background(), body)
	require.Error(t, err, "store failure must propagate so the broker redelivers")
	assert.Equal(t, 0, sender.callCount())

	// Store recovers, redelivery processes normally.
	repo.getErr = nil
	require.NoError(t, relay.HandleNotification(context.Background(), body))
	assert.Equal(t, model.StatusSent, repo.get(entry.ID).Status)
}

func TestRelayNonTransportSendErrorIsRetryable(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{script: []error{errors.New("panic-ish internal failure")}}
	relay, _ := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)

	err := relay.HandleNotification(context.Background(), notification(t, entry.ID.String()))
	require.Error(t, err)
	// No terminal status was written; the broker redelivers instead.
	assert.Equal(t, model.StatusPending, repo.get(entry.ID).Status)
	assert.Equal(t, 0, repo.get(entry.ID).Retries)
}

func TestRelayMarkSentFailurePropagates(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{}
	relay, _ := newTestRelay(repo, sender, 3)
	entry := seedEntry(t, repo)

	repo.markSentErr = errors.New("write timeout")
	err := relay.HandleNotification(context.Background(), notification(t, entry.ID.String()))
	assert.Error(t, err)
}

func TestRelayShutdownMidBackoffLeavesUnacked(t *testing.T) {
	repo := newMockOutboxRepo()
	sender := &fakeSender{script: []error{transportErr(mailer.KindTimeout, "slow")}}
	relay := service.NewRelay(repo, sender, 3, 100*time.Millisecond)
	entry := seedEntry(t, repo)

	ctx, cancel := context.WithCancel(context.Background())
	relay.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := relay.HandleNotification(ctx, notification(t, entry.ID.String()))
	require.Error(t, err, "cancellation mid-cycle must leave the notification for redelivery")
	assert.Equal(t, model.StatusPending, repo.get(entry.ID).Status)
}

func TestNewRelayDefaults(t *testing.T) {
	relay := service.NewRelay(newMockOutboxRepo(), &fakeSender{}, 0, 0)
	assert.Equal(t, 3, relay.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, relay.BaseBackoff)
}
