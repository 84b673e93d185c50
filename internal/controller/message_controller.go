// internal/controller/message_controller.go
package controller

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	appErrors "github.com/unclebandit/edutrack-backend/internal/errors"
	"github.com/unclebandit/edutrack-backend/internal/service"
)

// MessageController exposes the thin HTTP surface over the delivery
// pipeline: message CRUD glue, the enqueue endpoint and outbox inspection.
type MessageController struct {
	MessageService *service.MessageService
	DB             *sql.DB
}

func (c *MessageController) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Sender  string `json:"sender"`
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	msg, err := c.MessageService.CreateMessage(body.Sender, body.Subject, body.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

func (c *MessageController) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := c.MessageService.GetMessage(r.Context(), id)
	if err != nil {
		var notFound *appErrors.ErrMessageNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(msg)
}

func (c *MessageController) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	var body struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	msg, err := c.MessageService.UpdateMessage(r.Context(), id, body.Subject, body.Body)
	if err != nil {
		var notFound *appErrors.ErrMessageNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(msg)
}

// SendMessage enqueues an email for an existing message. A broker outage is
// reported as 503 with the recorded entry still in the response body: the
// intent is durable, only the dispatch is delayed.
func (c *MessageController) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	var body struct {
		Recipients []string `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	entry, err := c.MessageService.EnqueueEmail(r.Context(), id, body.Recipients)
	if err != nil {
		if errors.Is(err, appErrors.ErrNoRecipients) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var notFound *appErrors.ErrMessageNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if errors.Is(err, appErrors.ErrDispatchUnavailable) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"error": err.Error(),
				"entry": entry,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(entry)
}

func (c *MessageController) GetOutboxEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid outbox id", http.StatusBadRequest)
		return
	}

	entry, err := c.MessageService.GetOutboxEntry(id)
	if err != nil {
		var notFound *appErrors.ErrOutboxEntryNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(entry)
}

func (c *MessageController) GetOutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.MessageService.OutboxStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"stats": stats})
}

// RequeuePending republishes stale pending entries, the catch-up mechanism
// for enqueues whose publish step failed.
func (c *MessageController) RequeuePending(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OlderThanSeconds int `json:"older_than_seconds"`
		Limit            int `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.OlderThanSeconds < 0 {
		http.Error(w, "older_than_seconds must not be negative", http.StatusBadRequest)
		return
	}
	if body.Limit <= 0 {
		body.Limit = 100
	}

	requeued, err := c.MessageService.RequeuePending(r.Context(), time.Duration(body.OlderThanSeconds)*time.Second, body.Limit)
	if err != nil {
		if errors.Is(err, appErrors.ErrDispatchUnavailable) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"error":    err.Error(),
				"requeued": requeued,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"requeued": requeued})
}

// ReplayEntry republishes one entry's reference, the operator path for
// retrying a failed delivery.
func (c *MessageController) ReplayEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid outbox id", http.StatusBadRequest)
		return
	}

	entry, err := c.MessageService.ReplayEntry(r.Context(), id)
	if err != nil {
		var notFound *appErrors.ErrOutboxEntryNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		if errors.Is(err, appErrors.ErrDispatchUnavailable) {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"error": err.Error(),
				"entry": entry,
			})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(entry)
}

func (c *MessageController) Health(w http.ResponseWriter, r *http.Request) {
	if c.DB != nil {
		if err := c.DB.Ping(); err != nil {
			log.Println("⚠️ health check DB ping failed:", err)
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
