package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

func SaveUpload(ctx context.Context, db *gorm.DB, upload *Upload) error {
	if upload.Id == uuid.Nil {
		upload.Id = uuid.New()
	}
	if upload.CreationTime.IsZero() {
		upload.CreationTime = time.Now().UTC()
	}

	if err := db.WithContext(ctx).Create(upload).Error; err != nil {
		slog.Error("error saving upload", "session_id", upload.SessionId, "error", err)
		return fmt.Errorf("error saving upload: %w", err)
	}
	return nil
}

func LatestUpload(ctx context.Context, db *gorm.DB, sessionId uuid.UUID) (Upload, error) {
	var upload Upload
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("creation_time DESC").
		First(&upload).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return upload, ErrNotFound
		}
		return upload, fmt.Errorf("error querying latest upload: %w", err)
	}
	return upload, nil
}

func CreatePredictionRun(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, runContext, inputPath string) (PredictionRun, error) {
	run := PredictionRun{
		Id:           uuid.New(),
		SessionId:    sessionId,
		Context:      runContext,
		InputPath:    inputPath,
		Status:       RunRunning,
		CreationTime: time.Now().UTC(),
	}

	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating prediction run", "session_id", sessionId, "context", runContext, "error", err)
		return run, fmt.Errorf("error creating prediction run: %w", err)
	}
	return run, nil
}

func CompletePredictionRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, artifactPath string, rowCount int, columns []string) error {
	cols, err := json.Marshal(columns)
	if err != nil {
		return fmt.Errorf("error serializing columns: %w", err)
	}

	updates := map[string]any{
		"status":          RunCompleted,
		"artifact_path":   artifactPath,
		"row_count":       rowCount,
		"columns":         cols,
		"completion_time": time.Now().UTC(),
	}

	if err := db.WithContext(ctx).Model(&PredictionRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error completing prediction run", "run_id", runId, "error", err)
		return fmt.Errorf("error completing prediction run: %w", err)
	}
	return nil
}

func FailPredictionRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, failureKind, message string) error {
	updates := map[string]any{
		"status":          RunFailed,
		"failure_kind":    failureKind,
		"error":           message,
		"completion_time": time.Now().UTC(),
	}

	if err := db.WithContext(ctx).Model(&PredictionRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error marking prediction run failed", "run_id", runId, "error", err)
		return fmt.Errorf("error marking prediction run failed: %w", err)
	}
	return nil
}

func SetArchiveKey(ctx context.Context, db *gorm.DB, runId uuid.UUID, key string) error {
	if err := db.WithContext(ctx).
		Model(&PredictionRun{Id: runId}).
		Update("archive_key", sql.NullString{String: key, Valid: true}).Error; err != nil {
		return fmt.Errorf("error saving archive key: %w", err)
	}
	return nil
}

// LatestCompletedRun returns the most recent successful run for the session and
// context. Failed runs never shadow an earlier successful one.
func LatestCompletedRun(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, runContext string) (PredictionRun, error) {
	var run PredictionRun
	err := db.WithContext(ctx).
		Where("session_id = ? AND context = ? AND status = ?", sessionId, runContext, RunCompleted).
		Order("completion_time DESC").
		First(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return run, ErrNotFound
		}
		return run, fmt.Errorf("error querying latest prediction run: %w", err)
	}
	return run, nil
}

func ListPredictionRuns(ctx context.Context, db *gorm.DB, sessionId uuid.UUID, limit int) ([]PredictionRun, error) {
	var runs []PredictionRun
	if err := db.WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("creation_time DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing prediction runs: %w", err)
	}
	return runs, nil
}

func CreateRetrainRun(ctx context.Context, db *gorm.DB, trigger string) (RetrainRun, error) {
	run := RetrainRun{
		Id:           uuid.New(),
		Trigger:      trigger,
		CreationTime: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating retrain run", "trigger", trigger, "error", err)
		return run, fmt.Errorf("error creating retrain run: %w", err)
	}
	return run, nil
}

func FinishRetrainRun(ctx context.Context, db *gorm.DB, runId uuid.UUID, outcome, reason, message string) error {
	updates := map[string]any{
		"outcome":         outcome,
		"reason":          reason,
		"error":           message,
		"completion_time": time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Model(&RetrainRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error finishing retrain run", "run_id", runId, "error", err)
		return fmt.Errorf("error finishing retrain run: %w", err)
	}
	return nil
}

func ListRetrainRuns(ctx context.Context, db *gorm.DB, limit int) ([]RetrainRun, error) {
	var runs []RetrainRun
	if err := db.WithContext(ctx).Order("creation_time DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing retrain runs: %w", err)
	}
	return runs, nil
}
