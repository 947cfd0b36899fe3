package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"rul-backend/internal/messaging"
	"time"
)

// TaskProcessor consumes retrain tasks from a queue and hands them to the
// Retrainer one at a time.
type TaskProcessor struct {
	retrainer *Retrainer
	publisher messaging.Publisher
	reciever  messaging.Reciever

	lastRetrain time.Time
}

func NewTaskProcessor(retrainer *Retrainer, publisher messaging.Publisher, reciever messaging.Reciever) *TaskProcessor {
	return &TaskProcessor{
		retrainer: retrainer,
		publisher: publisher,
		reciever:  reciever,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	switch task.Type() {
	case messaging.RetrainQueue:
		var payload messaging.RetrainTaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling retrain task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		proc.processRetrainTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	// A rejected challenger is a normal result, so every retrain is acked.
	slog.Info("successfully processed task", "queue", task.Type())
	if err := task.Ack(); err != nil {
		slog.Error("error acknowledging message from queue", "error", err)
	}
}

func (proc *TaskProcessor) processRetrainTask(ctx context.Context, payload messaging.RetrainTaskPayload) {
	// Tasks that piled up while a retrain was running are already covered by it.
	if !payload.RequestTime.IsZero() && payload.RequestTime.Before(proc.lastRetrain) {
		slog.Info("skipping stale retrain task", "trigger", payload.Trigger, "request_time", payload.RequestTime, "last_retrain", proc.lastRetrain)
		return
	}

	outcome := proc.retrainer.Retrain(ctx, payload.Trigger)
	proc.lastRetrain = time.Now().UTC()
	slog.Info("retrain task finished", "run_id", outcome.RunId, "decision", outcome.Decision, "reason", outcome.Reason)
}
