package shared

import (
	"errors"
	"fmt"
	"net/rpc"
)

const (
	kindSchemaInvalid      = "schema_invalid"
	kindChallengerRejected = "challenger_rejected"
	kindNoTrainingData     = "no_training_data"
	kindInternal           = "internal"
)

// net/rpc flattens errors to strings, so failures travel as a kind plus message
// and are rebuilt on the client side.
type PredictResponse struct {
	OutputPath string
	Kind       string
	Message    string
}

type TrainResponse struct {
	Kind    string
	Message string
}

func encodeError(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	switch {
	case errors.Is(err, ErrSchemaInvalid):
		return kindSchemaInvalid, err.Error()
	case errors.Is(err, ErrChallengerRejected):
		return kindChallengerRejected, err.Error()
	case errors.Is(err, ErrNoTrainingData):
		return kindNoTrainingData, err.Error()
	default:
		return kindInternal, err.Error()
	}
}

func decodeError(kind, message string) error {
	switch kind {
	case "":
		return nil
	case kindSchemaInvalid:
		return fmt.Errorf("%w: %s", ErrSchemaInvalid, message)
	case kindChallengerRejected:
		return fmt.Errorf("%w: %s", ErrChallengerRejected, message)
	case kindNoTrainingData:
		return fmt.Errorf("%w: %s", ErrNoTrainingData, message)
	default:
		return errors.New(message)
	}
}

// RPCClient is the backend side of the pipeline plugin.
type RPCClient struct{ client *rpc.Client }

func (m *RPCClient) Predict(inputPath string) (string, error) {
	var resp PredictResponse
	if err := m.client.Call("Plugin.Predict", inputPath, &resp); err != nil {
		return "", err
	}
	return resp.OutputPath, decodeError(resp.Kind, resp.Message)
}

func (m *RPCClient) Train() error {
	var resp TrainResponse
	if err := m.client.Call("Plugin.Train", new(interface{}), &resp); err != nil {
		return err
	}
	return decodeError(resp.Kind, resp.Message)
}

// RPCServer runs inside the plugin process and forwards calls to Impl.
type RPCServer struct {
	Impl Pipeline
}

func (m *RPCServer) Predict(inputPath string, resp *PredictResponse) error {
	output, err := m.Impl.Predict(inputPath)
	resp.OutputPath = output
	resp.Kind, resp.Message = encodeError(err)
	return nil
}

func (m *RPCServer) Train(_ interface{}, resp *TrainResponse) error {
	resp.Kind, resp.Message = encodeError(m.Impl.Train())
	return nil
}
