package core

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"rul-backend/plugin/shared"
	"sync"

	"github.com/hashicorp/go-plugin"
)

// PluginPipelines runs pipelines inside a go-plugin process. Calls are
// serialized because a single RPC client backs both pipelines.
type PluginPipelines struct {
	mu       sync.Mutex
	client   *plugin.Client
	pipeline shared.Pipeline
}

var _ Pipelines = (*PluginPipelines)(nil)

func LoadPluginPipeline(executable string) (*PluginPipelines, error) {
	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  shared.Handshake,
		Plugins:          shared.PluginMap,
		Cmd:              exec.Command(executable),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error establishing RPC connection: %w", err)
	}

	raw, err := rpcClient.Dispense(shared.PipelinePluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("error dispensing '%s': %w", shared.PipelinePluginName, err)
	}

	pipeline, ok := raw.(shared.Pipeline)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("dispensed interface '%s' is not of expected type shared.Pipeline (actual type: %T)", shared.PipelinePluginName, raw)
	}

	return &PluginPipelines{client: client, pipeline: pipeline}, nil
}

// NewPluginPipelines wraps an already dispensed pipeline.
func NewPluginPipelines(pipeline shared.Pipeline) *PluginPipelines {
	return &PluginPipelines{pipeline: pipeline}
}

func (p *PluginPipelines) Predict(ctx context.Context, inputPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	output, err := p.pipeline.Predict(inputPath)
	if err != nil {
		return "", translatePluginError(err)
	}
	return output, nil
}

func (p *PluginPipelines) Train(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return translatePluginError(p.pipeline.Train())
}

func (p *PluginPipelines) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return
	}
	p.client.Kill()
	p.client = nil
}

func translatePluginError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, shared.ErrSchemaInvalid):
		return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	case errors.Is(err, shared.ErrChallengerRejected):
		return fmt.Errorf("%w: %v", ErrChallengerRejected, err)
	case errors.Is(err, shared.ErrNoTrainingData):
		return fmt.Errorf("%w: %v", ErrNoTrainingData, err)
	default:
		return fmt.Errorf("%w: %v", ErrPipelineInternal, err)
	}
}
