// cmd/notifier/main.go
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/edutrack-backend/internal/config"
	"github.com/unclebandit/edutrack-backend/internal/db"
	"github.com/unclebandit/edutrack-backend/internal/mailer"
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

	outboxRepo := &repository.OutboxRepository{DB: conn}

	sender := &mailer.SMTPSender{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		UseTLS:   cfg.SMTPUseTLS,
	}

	relay := service.NewRelay(outboxRepo, sender, cfg.SendMaxAttempts, cfg.SendBackoffBase)

	// Bounded dial budget applies until the first successful connect, so a
	// dead broker at boot fails fast instead of looping forever. Once
	// consuming, the broker reconnects with capped backoff indefinitely.
	broker := queue.NewAMQPBroker(cfg.AMQPURL, cfg.EmailQueue, cfg.QueueConnectAttempts, cfg.QueueReconnectMaxDelay)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- broker.Consume(ctx, relay.HandleNotification)
	}()

	log.Println("🚀 Notifier running, waiting for messages...")

	select {
	case err := <-done:
		if err != nil {
			broker.Close()
			log.Fatal("consumer stopped:", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down, draining in-flight delivery...")
		select {
		case <-done:
			// In-flight notification finished and was acked or nacked.
		case <-time.After(cfg.ShutdownTimeout):
			// Close anyway; the unacked notification is redelivered later.
			log.Println("⚠️ shutdown timeout elapsed, closing connections")
		}
	}

	broker.Close()
	log.Println("✅ Notifier stopped")
}
