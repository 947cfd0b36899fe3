package api

import (
	"database/sql"
	"rul-backend/internal/core"
	"rul-backend/internal/database"
	"rul-backend/pkg/api"
	"time"
)

func convertPrediction(runContext string, r core.Result) api.PredictionResponse {
	res := api.PredictionResponse{
		RunId:     r.RunId,
		Context:   runContext,
		Columns:   r.Preview.Columns,
		Rows:      r.Preview.Rows,
		TotalRows: r.Preview.TotalRows,
	}
	if s := r.Preview.Summary; s != nil {
		res.Summary = &api.PredictionSummary{
			Column: s.Column,
			Min:    s.Min,
			Max:    s.Max,
			Mean:   s.Mean,
			Median: s.Median,
		}
	}
	return res
}

func convertTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func convertPredictionRun(r database.PredictionRun) api.PredictionRun {
	return api.PredictionRun{
		Id:             r.Id,
		Context:        r.Context,
		Status:         r.Status,
		FailureKind:    r.FailureKind,
		RowCount:       r.RowCount,
		Archived:       r.ArchiveKey.Valid,
		CreationTime:   r.CreationTime,
		CompletionTime: convertTime(r.CompletionTime),
	}
}

func convertPredictionRuns(rs []database.PredictionRun) []api.PredictionRun {
	runs := make([]api.PredictionRun, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertPredictionRun(r))
	}
	return runs
}

func convertRetrainRun(r database.RetrainRun) api.RetrainRun {
	return api.RetrainRun{
		Id:             r.Id,
		Trigger:        r.Trigger,
		Outcome:        r.Outcome,
		Reason:         r.Reason,
		CreationTime:   r.CreationTime,
		CompletionTime: convertTime(r.CompletionTime),
	}
}

func convertRetrainRuns(rs []database.RetrainRun) []api.RetrainRun {
	runs := make([]api.RetrainRun, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRetrainRun(r))
	}
	return runs
}
