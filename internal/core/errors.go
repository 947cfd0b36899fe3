package core

import "errors"

var (
	ErrInputUnavailable   = errors.New("no input dataset provided")
	ErrStagingFailed      = errors.New("unable to stage input dataset")
	ErrSchemaInvalid      = errors.New("input dataset does not match expected schema")
	ErrPipelineInternal   = errors.New("pipeline internal error")
	ErrChallengerRejected = errors.New("candidate model did not outperform deployed model")
	ErrNoTrainingData     = errors.New("training dataset is not available")
	ErrNoArtifact         = errors.New("no prediction artifact available")
)

// Failure kinds are persisted with runs, so they must stay stable.
const (
	FailureInputUnavailable   = "InputUnavailable"
	FailureStaging            = "StagingFailed"
	FailureSchemaInvalid      = "SchemaInvalid"
	FailurePipelineInternal   = "PipelineInternalError"
	FailureChallengerRejected = "ChallengerRejected"
	FailureNoTrainingData     = "NoTrainingData"
)

var failureKinds = []struct {
	err  error
	kind string
}{
	{ErrInputUnavailable, FailureInputUnavailable},
	{ErrStagingFailed, FailureStaging},
	{ErrSchemaInvalid, FailureSchemaInvalid},
	{ErrChallengerRejected, FailureChallengerRejected},
	{ErrNoTrainingData, FailureNoTrainingData},
	{ErrPipelineInternal, FailurePipelineInternal},
}

// FailureKindOf returns "" for a nil error and FailurePipelineInternal for
// errors that carry none of the known sentinels.
func FailureKindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, fk := range failureKinds {
		if errors.Is(err, fk.err) {
			return fk.kind
		}
	}
	return FailurePipelineInternal
}
