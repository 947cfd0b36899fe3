package messaging

import (
	"context"
	"log/slog"
	"time"
)

const TriggerScheduled = "scheduled"

// RetrainScheduler publishes a retrain task every interval until its context
// is cancelled.
type RetrainScheduler struct {
	publisher Publisher
	interval  time.Duration
}

func NewRetrainScheduler(publisher Publisher, interval time.Duration) *RetrainScheduler {
	return &RetrainScheduler{publisher: publisher, interval: interval}
}

// Start returns immediately. A non-positive interval disables scheduling.
func (s *RetrainScheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		slog.Info("retrain scheduling disabled")
		return
	}

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping retrain scheduler")
				return
			case tick := <-ticker.C:
				payload := RetrainTaskPayload{Trigger: TriggerScheduled, RequestTime: tick.UTC()}
				if err := s.publisher.PublishRetrainTask(ctx, payload); err != nil {
					slog.Error("error publishing scheduled retrain task", "error", err)
				}
			}
		}
	}()

	slog.Info("retrain scheduler started", "interval", s.interval)
}
