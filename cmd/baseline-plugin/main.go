package main

import (
	"log"
	"rul-backend/plugin/baseline"
	"rul-backend/plugin/shared"

	"github.com/caarlos0/env/v11"
)

type config struct {
	ModelPath        string `env:"BASELINE_MODEL_PATH" envDefault:"./rul-backend/model/baseline.json"`
	TrainingDataPath string `env:"TRAINING_DATA_PATH,required,notEmpty"`
	OutputDir        string `env:"BASELINE_OUTPUT_DIR" envDefault:"./rul-backend/predictions"`
}

// Launched by the backend with PIPELINE_TYPE=plugin and PIPELINE_PATH pointing
// at this binary. The environment is inherited from the backend.
func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	shared.Serve(&baseline.Pipeline{
		ModelPath:        cfg.ModelPath,
		TrainingDataPath: cfg.TrainingDataPath,
		OutputDir:        cfg.OutputDir,
	})
}
