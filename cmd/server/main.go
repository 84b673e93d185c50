// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/edutrack-backend/internal/cache"
	"github.com/unclebandit/edutrack-backend/internal/config"
	"github.com/unclebandit/edutrack-backend/internal/controller"
	"github.com/unclebandit/edutrack-backend/internal/db"
	"github.com/unclebandit/edutrack-backend/internal/queue"
	"github.com/unclebandit/edutrack-backend/internal/repository"
	"github.com/unclebandit/edutrack-backend/internal/service"
)

func main() {
	cfg := config.Load()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to DB:", err)
	}
	defer conn.Close()

	// The broker connects lazily: a down RabbitMQ at boot does not stop the
	// API, it just turns sends into 503s until the broker is back.
	broker := queue.NewAMQPBroker(cfg.AMQPURL, cfg.EmailQueue, cfg.QueueConnectAttempts, cfg.QueueReconnectMaxDelay)
	defer broker.Close()

	readCache := cache.New(cfg.RedisURL, cfg.CacheTTL)
	defer readCache.Close()

	messageRepo := &repository.MessageRepository{DB: conn}
	outboxRepo := &repository.OutboxRepository{DB: conn}

	messageService := &service.MessageService{
		Messages: messageRepo,
		Outbox:   outboxRepo,
		Broker:   broker,
		Cache:    readCache,
	}

	messageController := &controller.MessageController{
		MessageService: messageService,
		DB:             conn,
	}

	r := chi.NewRouter()

	// Message routes
	r.Post("/messages", messageController.CreateMessage)
	r.Get("/messages/{id}", messageController.GetMessage)
	r.Put("/messages/{id}", messageController.UpdateMessage)
	r.Post("/messages/{id}/send", messageController.SendMessage)

	// Outbox routes
	r.Get("/outbox/{id}", messageController.GetOutboxEntry)
	r.Get("/outbox/stats", messageController.GetOutboxStats)
	r.Post("/outbox/requeue", messageController.RequeuePending)
	r.Post("/outbox/{id}/replay", messageController.ReplayEntry)

	r.Get("/healthz", messageController.Health)

	log.Println("🚀 Server running on", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
