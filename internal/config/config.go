package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	QueueMemory   = "memory"
	QueueRabbitMQ = "rabbitmq"

	ArchiveNone  = "none"
	ArchiveLocal = "local"
	ArchiveS3    = "s3"
)

type S3Config struct {
	Endpoint        string `env:"S3_ENDPOINT_URL"`
	Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
}

type Config struct {
	Root           string        `env:"ROOT" envDefault:"./rul-backend"`
	Port           int           `env:"PORT" envDefault:"8001"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10m"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	PipelineType string `env:"PIPELINE_TYPE" envDefault:"command"`
	PipelinePath string `env:"PIPELINE_PATH,required,notEmpty"`

	BaseDatasetPath   string `env:"BASE_DATASET_PATH,required,notEmpty"`
	TrainingDataPath  string `env:"TRAINING_DATA_PATH"`
	UploadDir         string `env:"UPLOAD_DIR"`
	CanonicalFileName string `env:"CANONICAL_FILE_NAME" envDefault:"rul.csv"`
	MaxUploadBytes    int64  `env:"MAX_UPLOAD_BYTES" envDefault:"30000000"`

	PreviewRows      int    `env:"PREVIEW_ROWS" envDefault:"1000"`
	PredictionColumn string `env:"PREDICTION_COLUMN" envDefault:"RUL"`

	RetrainInterval time.Duration `env:"RETRAIN_INTERVAL" envDefault:"0s"`
	QueueBackend    string        `env:"QUEUE_BACKEND" envDefault:"memory"`
	RabbitMQURL     string        `env:"RABBITMQ_URL"`

	ArchiveBackend string `env:"ARCHIVE_BACKEND" envDefault:"none"`
	ArchiveBucket  string `env:"ARCHIVE_BUCKET" envDefault:"rul-predictions"`
	S3             S3Config
}

// Load reads the configuration from the environment. Paths left empty are
// placed under Root.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "sqlite://" + filepath.Join(cfg.Root, "db", "rul.db")
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(cfg.Root, "uploads")
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.QueueBackend {
	case QueueMemory:
	case QueueRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required when QUEUE_BACKEND is %s", QueueRabbitMQ)
		}
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND '%s', must be one of '%s' or '%s'", c.QueueBackend, QueueMemory, QueueRabbitMQ)
	}

	switch c.ArchiveBackend {
	case ArchiveNone, ArchiveLocal, ArchiveS3:
	default:
		return fmt.Errorf("invalid ARCHIVE_BACKEND '%s', must be one of '%s', '%s' or '%s'", c.ArchiveBackend, ArchiveNone, ArchiveLocal, ArchiveS3)
	}

	if c.PreviewRows <= 0 {
		return fmt.Errorf("PREVIEW_ROWS must be positive, got %d", c.PreviewRows)
	}
	if c.RetrainInterval < 0 {
		return fmt.Errorf("RETRAIN_INTERVAL must not be negative, got %s", c.RetrainInterval)
	}

	return nil
}

func (c Config) CanonicalInputPath() string {
	return filepath.Join(c.UploadDir, c.CanonicalFileName)
}

func (c Config) ArtifactDir() string {
	return filepath.Join(c.Root, "artifacts")
}

func (c Config) ArchiveDir() string {
	return filepath.Join(c.Root, "archive")
}

func (c Config) LogFile() string {
	return filepath.Join(c.Root, "backend.log")
}
