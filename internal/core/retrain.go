package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"rul-backend/internal/database"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AdoptedMessage  = "Current trained model is better than previous model! Saving the current model!"
	RejectedMessage = "Current trained model is not better than previous model"
)

type Decision string

const (
	Adopted  Decision = "Adopted"
	Rejected Decision = "Rejected"
)

// Outcome of a retrain. Reason is empty for adopted challengers, otherwise it
// holds the failure kind that caused the rejection.
type Outcome struct {
	RunId    uuid.UUID
	Decision Decision
	Reason   string
	Message  string
}

// Retrainer runs the training pipeline one invocation at a time and reduces
// whatever happens inside it to an Outcome.
type Retrainer struct {
	mu sync.Mutex

	db       *gorm.DB
	pipeline TrainingPipeline

	// Optional. When set and missing, the pipeline is not invoked.
	trainingDataPath string
}

func NewRetrainer(db *gorm.DB, pipeline TrainingPipeline, trainingDataPath string) *Retrainer {
	return &Retrainer{db: db, pipeline: pipeline, trainingDataPath: trainingDataPath}
}

// Retrain always runs the training pipeline to completion. Cancelling ctx does
// not interrupt it, so a deployed model is never left half replaced.
func (r *Retrainer) Retrain(ctx context.Context, trigger string) Outcome {
	ctx = context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	var runId uuid.UUID
	run, err := database.CreateRetrainRun(ctx, r.db, trigger)
	if err != nil {
		slog.Error("error recording retrain run", "trigger", trigger, "error", err)
	} else {
		runId = run.Id
	}

	slog.Info("starting retrain", "run_id", runId, "trigger", trigger)
	start := time.Now()

	err = r.train(ctx)

	outcome := Outcome{RunId: runId, Decision: Adopted, Message: AdoptedMessage}
	dbOutcome := database.OutcomeAdopted
	if err != nil {
		outcome = Outcome{RunId: runId, Decision: Rejected, Reason: FailureKindOf(err), Message: RejectedMessage}
		dbOutcome = database.OutcomeRejected
		slog.Warn("challenger rejected", "run_id", runId, "reason", outcome.Reason, "error", err, "duration", time.Since(start))
	} else {
		slog.Info("challenger adopted", "run_id", runId, "duration", time.Since(start))
	}

	if runId != uuid.Nil {
		var message string
		if err != nil {
			message = err.Error()
		}
		if dbErr := database.FinishRetrainRun(ctx, r.db, runId, dbOutcome, outcome.Reason, message); dbErr != nil {
			slog.Error("error recording retrain outcome", "run_id", runId, "error", dbErr)
		}
	}

	return outcome
}

func (r *Retrainer) train(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("training pipeline panicked", "panic", p)
			err = fmt.Errorf("%w: training pipeline panicked: %v", ErrPipelineInternal, p)
		}
	}()

	if r.trainingDataPath != "" {
		if _, statErr := os.Stat(r.trainingDataPath); statErr != nil {
			if errors.Is(statErr, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s does not exist", ErrNoTrainingData, r.trainingDataPath)
			}
			return fmt.Errorf("%w: unable to stat training data: %v", ErrPipelineInternal, statErr)
		}
	}

	return r.pipeline.Train(ctx)
}
