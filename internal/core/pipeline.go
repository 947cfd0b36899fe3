package core

import (
	"context"
	"fmt"
)

// PredictionPipeline turns an input dataset into a predictions file and returns
// the path of that file.
type PredictionPipeline interface {
	Predict(ctx context.Context, inputPath string) (string, error)
}

// TrainingPipeline trains a challenger model and replaces the deployed model
// only if the challenger wins. A nil return means the challenger was adopted.
type TrainingPipeline interface {
	Train(ctx context.Context) error
}

type Pipelines interface {
	PredictionPipeline
	TrainingPipeline

	Release()
}

// PipelineType selects how pipelines are executed.
type PipelineType string

const (
	CommandPipelineType PipelineType = "command"
	PluginPipelineType  PipelineType = "plugin"
)

type PipelineLoader func(path string) (Pipelines, error)

func NewPipelineLoaders() map[PipelineType]PipelineLoader {
	return map[PipelineType]PipelineLoader{
		CommandPipelineType: func(path string) (Pipelines, error) {
			cfg, err := LoadCommandPipelineConfig(path)
			if err != nil {
				return nil, err
			}
			return NewCommandPipelines(cfg), nil
		},
		PluginPipelineType: func(path string) (Pipelines, error) {
			return LoadPluginPipeline(path)
		},
	}
}

func LoadPipelines(pipelineType PipelineType, path string) (Pipelines, error) {
	loader, ok := NewPipelineLoaders()[pipelineType]
	if !ok {
		return nil, fmt.Errorf("invalid pipeline type '%s', must be one of '%s' or '%s'", pipelineType, CommandPipelineType, PluginPipelineType)
	}

	pipelines, err := loader(path)
	if err != nil {
		return nil, fmt.Errorf("error loading %s pipelines from %s: %w", pipelineType, path, err)
	}
	return pipelines, nil
}
