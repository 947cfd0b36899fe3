package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"rul-backend/cmd"
	"rul-backend/internal/api"
	"rul-backend/internal/config"
	"rul-backend/internal/core"
	"rul-backend/internal/database"
	"rul-backend/internal/messaging"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"
)

func createQueue(cfg config.Config, retrainer *core.Retrainer) messaging.Publisher {
	if cfg.QueueBackend == config.QueueRabbitMQ {
		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		slog.Info("scheduled retrains will be published to rabbitmq, run the worker to consume them")
		return publisher
	}

	queue := messaging.NewInMemoryQueue()
	processor := core.NewTaskProcessor(retrainer, queue, queue)
	go processor.Start()

	return queue
}

func createServer(cfg config.Config, db *gorm.DB, predictor *core.Predictor, retrainer *core.Retrainer) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	apiHandler := api.NewBackendService(db, predictor, retrainer, cfg.UploadDir, cfg.MaxUploadBytes).WithRequestTimeout(cfg.RequestTimeout)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	logFile := cmd.SetupLogFile(cfg.LogFile())
	defer logFile.Close()

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "pipeline_type", cfg.PipelineType, "pipeline_path", cfg.PipelinePath, "queue", cfg.QueueBackend, "archive", cfg.ArchiveBackend)

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	pipelines := cmd.LoadPipelines(cfg)
	defer pipelines.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archive, err := cmd.CreateArchive(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to create artifact archive: %v", err)
	}

	predictor := core.NewPredictor(db, pipelines, core.NewDatasetStager(cfg.CanonicalInputPath()), archive, core.PredictorConfig{
		BaseDatasetPath:  cfg.BaseDatasetPath,
		ArtifactDir:      cfg.ArtifactDir(),
		PreviewRows:      cfg.PreviewRows,
		PredictionColumn: cfg.PredictionColumn,
		ArchiveBucket:    cfg.ArchiveBucket,
	})
	retrainer := core.NewRetrainer(db, pipelines, cfg.TrainingDataPath)

	queue := createQueue(cfg, retrainer)
	defer queue.Close()

	messaging.NewRetrainScheduler(queue, cfg.RetrainInterval).Start(ctx)

	server := createServer(cfg, db, predictor, retrainer)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("server forced to shutdown: %v", err)
		}
	}()

	slog.Info("api server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("could not listen on %d: %v", cfg.Port, err)
	}

	slog.Info("server stopped")
}
