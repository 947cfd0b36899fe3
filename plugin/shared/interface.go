// Package shared holds the contract between the backend and out-of-process
// pipeline plugins built with hashicorp/go-plugin.
package shared

import (
	"errors"
	"net/rpc"

	"github.com/hashicorp/go-plugin"
)

const PipelinePluginName = "pipeline"

var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "RUL_PIPELINE_PLUGIN",
	MagicCookieValue: "5f0c8b6e-rul-pipeline",
}

// Errors a plugin returns to signal outcomes the backend treats differently from
// a generic failure. They survive the RPC boundary as failure kinds.
var (
	ErrSchemaInvalid      = errors.New("schema invalid")
	ErrChallengerRejected = errors.New("challenger rejected")
	ErrNoTrainingData     = errors.New("no training data")
)

type Pipeline interface {
	Predict(inputPath string) (string, error)

	Train() error
}

type PipelinePlugin struct {
	Impl Pipeline
}

func (p *PipelinePlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (*PipelinePlugin) Client(_ *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

var PluginMap = map[string]plugin.Plugin{
	PipelinePluginName: &PipelinePlugin{},
}

// Serve is called from a plugin binary's main function.
func Serve(impl Pipeline) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PipelinePluginName: &PipelinePlugin{Impl: impl},
		},
	})
}
