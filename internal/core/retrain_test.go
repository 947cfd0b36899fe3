package core_test

import (
	"context"
	"fmt"
	"path/filepath"
	"rul-backend/internal/core"
	"rul-backend/internal/database"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTrainer struct {
	train func() error

	calls   atomic.Int32
	running atomic.Int32
	overlap atomic.Bool
}

func (f *fakeTrainer) Train(ctx context.Context) error {
	f.calls.Add(1)
	if f.running.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.running.Add(-1)

	return f.train()
}

func TestRetrainOutcomes(t *testing.T) {
	cases := []struct {
		name     string
		train    func() error
		decision core.Decision
		reason   string
		message  string
	}{
		{
			name:     "adopted",
			train:    func() error { return nil },
			decision: core.Adopted,
			message:  core.AdoptedMessage,
		},
		{
			name:     "challenger rejected",
			train:    func() error { return fmt.Errorf("%w: rmse 31.2 >= 30.8", core.ErrChallengerRejected) },
			decision: core.Rejected,
			reason:   core.FailureChallengerRejected,
			message:  core.RejectedMessage,
		},
		{
			name:     "pipeline crash",
			train:    func() error { return fmt.Errorf("%w: exit status 1", core.ErrPipelineInternal) },
			decision: core.Rejected,
			reason:   core.FailurePipelineInternal,
			message:  core.RejectedMessage,
		},
		{
			name:     "untagged error",
			train:    func() error { return fmt.Errorf("disk full") },
			decision: core.Rejected,
			reason:   core.FailurePipelineInternal,
			message:  core.RejectedMessage,
		},
		{
			name:     "panic",
			train:    func() error { panic("index out of range") },
			decision: core.Rejected,
			reason:   core.FailurePipelineInternal,
			message:  core.RejectedMessage,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := createDB(t)
			retrainer := core.NewRetrainer(db, &fakeTrainer{train: tc.train}, "")

			outcome := retrainer.Retrain(context.Background(), database.TriggerHttp)
			assert.Equal(t, tc.decision, outcome.Decision)
			assert.Equal(t, tc.reason, outcome.Reason)
			assert.Equal(t, tc.message, outcome.Message)
			require.NotEqual(t, uuid.Nil, outcome.RunId)

			runs, err := database.ListRetrainRuns(context.Background(), db, 10)
			require.NoError(t, err)
			require.Len(t, runs, 1)
			assert.Equal(t, outcome.RunId, runs[0].Id)
			assert.Equal(t, database.TriggerHttp, runs[0].Trigger)
			assert.Equal(t, tc.reason, runs[0].Reason)
			assert.True(t, runs[0].CompletionTime.Valid)
			if tc.decision == core.Adopted {
				assert.Equal(t, database.OutcomeAdopted, runs[0].Outcome)
			} else {
				assert.Equal(t, database.OutcomeRejected, runs[0].Outcome)
				assert.NotEmpty(t, runs[0].Error)
			}
		})
	}
}

func TestRetrainWithoutTrainingData(t *testing.T) {
	trainer := &fakeTrainer{train: func() error { return nil }}
	retrainer := core.NewRetrainer(createDB(t), trainer, filepath.Join(t.TempDir(), "train.csv"))

	outcome := retrainer.Retrain(context.Background(), database.TriggerScheduled)
	assert.Equal(t, core.Rejected, outcome.Decision)
	assert.Equal(t, core.FailureNoTrainingData, outcome.Reason)
	assert.Equal(t, int32(0), trainer.calls.Load())
}

func TestRetrainWithTrainingData(t *testing.T) {
	data := filepath.Join(t.TempDir(), "train.csv")
	writeFile(t, data, "unit,cycle,RUL\n")

	trainer := &fakeTrainer{train: func() error { return nil }}
	retrainer := core.NewRetrainer(createDB(t), trainer, data)

	outcome := retrainer.Retrain(context.Background(), database.TriggerHttp)
	assert.Equal(t, core.Adopted, outcome.Decision)
	assert.Equal(t, int32(1), trainer.calls.Load())
}

type contextTrainer struct {
	delay time.Duration
}

func (c *contextTrainer) Train(ctx context.Context) error {
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", core.ErrPipelineInternal, ctx.Err())
	}
}

func TestRetrainIgnoresCancellation(t *testing.T) {
	retrainer := core.NewRetrainer(createDB(t), &contextTrainer{delay: 200 * time.Millisecond}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome := retrainer.Retrain(ctx, database.TriggerHttp)
	assert.Equal(t, core.Adopted, outcome.Decision)
	assert.Empty(t, outcome.Reason)
}

func TestRetrainsAreSerialized(t *testing.T) {
	trainer := &fakeTrainer{train: func() error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}}
	retrainer := core.NewRetrainer(createDB(t), trainer, "")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			retrainer.Retrain(context.Background(), database.TriggerHttp)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), trainer.calls.Load())
	assert.False(t, trainer.overlap.Load())
}
