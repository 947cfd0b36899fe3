package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"rul-backend/cmd"
	"rul-backend/internal/config"
	"rul-backend/internal/core"
	"rul-backend/internal/database"
	"rul-backend/internal/messaging"
	"syscall"
)

// The worker consumes retrain tasks from rabbitmq. It is only needed when the
// api runs with QUEUE_BACKEND=rabbitmq.
func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	if cfg.QueueBackend != config.QueueRabbitMQ {
		log.Fatalf("the worker requires QUEUE_BACKEND=%s, got %s", config.QueueRabbitMQ, cfg.QueueBackend)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	pipelines := cmd.LoadPipelines(cfg)
	defer pipelines.Release()

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("failed to create rabbitmq publisher: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("failed to create rabbitmq receiver: %v", err)
	}

	processor := core.NewTaskProcessor(core.NewRetrainer(db, pipelines, cfg.TrainingDataPath), publisher, receiver)

	go processor.Start()

	slog.Info("worker started, waiting for retrain tasks")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received")
	processor.Stop()

	slog.Info("worker stopped")
}
