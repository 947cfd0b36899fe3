package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"rul-backend/internal/config"
	"rul-backend/internal/core"
	"rul-backend/internal/storage"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// SetupLogFile tees log output to a file under root. The returned file must be
// closed by the caller.
func SetupLogFile(path string) *os.File {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("error creating directory for log file: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}

	log.SetOutput(io.MultiWriter(f, os.Stderr))
	return f
}

func LoadPipelines(cfg config.Config) core.Pipelines {
	pipelines, err := core.LoadPipelines(core.PipelineType(cfg.PipelineType), cfg.PipelinePath)
	if err != nil {
		log.Fatalf("failed to load pipelines: %v", err)
	}
	return pipelines
}

// CreateArchive returns nil when archiving is disabled.
func CreateArchive(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	var archive storage.ObjectStore

	switch cfg.ArchiveBackend {
	case config.ArchiveNone:
		return nil, nil
	case config.ArchiveLocal:
		local, err := storage.NewLocalObjectStore(cfg.ArchiveDir())
		if err != nil {
			return nil, err
		}
		archive = local
	case config.ArchiveS3:
		s3, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		archive = s3
	default:
		return nil, fmt.Errorf("invalid archive backend '%s'", cfg.ArchiveBackend)
	}

	if err := archive.CreateBucket(ctx, cfg.ArchiveBucket); err != nil {
		return nil, fmt.Errorf("error creating archive bucket: %w", err)
	}

	slog.Info("artifact archive ready", "backend", cfg.ArchiveBackend, "bucket", cfg.ArchiveBucket)
	return archive, nil
}
