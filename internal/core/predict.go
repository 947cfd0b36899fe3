package core

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"rul-backend/internal/core/utils"
	"rul-backend/internal/database"
	"rul-backend/internal/storage"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"
)

const (
	DefaultPreviewRows      = 1000
	DefaultPredictionColumn = "RUL"

	archivePrefix = "predictions/"
	maxLockedKeys = 1024
)

type PredictorConfig struct {
	// BaseDatasetPath is the dataset used for base predictions.
	BaseDatasetPath string

	// ArtifactDir receives artifacts restored from the archive.
	ArtifactDir string

	PreviewRows      int
	PredictionColumn string

	// ArchiveBucket is ignored when the predictor has no archive.
	ArchiveBucket string
}

type Request struct {
	SessionId uuid.UUID
	Context   string
	InputPath string

	// PreviewRows overrides the configured preview size when it is smaller.
	PreviewRows int
}

type Summary struct {
	Column string
	Min    float64
	Max    float64
	Mean   float64
	Median float64
}

type Preview struct {
	Columns   []string
	Rows      [][]string
	TotalRows int
	Summary   *Summary
}

type Result struct {
	RunId        uuid.UUID
	ArtifactPath string
	Preview      Preview
}

type Artifact struct {
	RunId          uuid.UUID
	Context        string
	Path           string
	CompletionTime time.Time
}

// Predictor runs the prediction pipeline and tracks the latest artifact for
// every (session, context) pair in the run store.
type Predictor struct {
	db       *gorm.DB
	pipeline PredictionPipeline
	stager   *DatasetStager
	archive  storage.ObjectStore

	// Guards the canonical input path from staging until the pipeline has
	// consumed it.
	locks *utils.MutexMap

	cfg PredictorConfig
}

func NewPredictor(db *gorm.DB, pipeline PredictionPipeline, stager *DatasetStager, archive storage.ObjectStore, cfg PredictorConfig) *Predictor {
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = DefaultPreviewRows
	}
	if cfg.PredictionColumn == "" {
		cfg.PredictionColumn = DefaultPredictionColumn
	}

	return &Predictor{
		db:       db,
		pipeline: pipeline,
		stager:   stager,
		archive:  archive,
		locks:    utils.NewMutexMap(maxLockedKeys),
		cfg:      cfg,
	}
}

func (p *Predictor) PredictBase(ctx context.Context, sessionId uuid.UUID, previewRows int) (Result, error) {
	return p.Predict(ctx, Request{
		SessionId:   sessionId,
		Context:     database.BaseContext,
		InputPath:   p.cfg.BaseDatasetPath,
		PreviewRows: previewRows,
	})
}

// PredictCustom stages the session's most recent upload onto the canonical
// input path and predicts on it. The canonical path stays locked until the
// pipeline returns, so concurrent requests cannot swap each other's input.
func (p *Predictor) PredictCustom(ctx context.Context, sessionId uuid.UUID, previewRows int) (Result, error) {
	upload, err := database.LatestUpload(ctx, p.db, sessionId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Result{}, ErrInputUnavailable
		}
		return Result{}, fmt.Errorf("%w: %v", ErrPipelineInternal, err)
	}

	canonical := p.stager.CanonicalPath()

	var result Result
	err = p.locks.WithLock(canonical, func() error {
		staged, err := p.stager.Stage(ctx, upload.Path)
		if err != nil {
			slog.Error("error staging upload", "session_id", sessionId, "upload_id", upload.Id, "error", err)
			return err
		}

		result, err = p.Predict(ctx, Request{
			SessionId:   sessionId,
			Context:     database.CustomContext,
			InputPath:   staged,
			PreviewRows: previewRows,
		})
		return err
	})
	return result, err
}

func (p *Predictor) Predict(ctx context.Context, req Request) (Result, error) {
	if req.InputPath == "" {
		return Result{}, ErrInputUnavailable
	}

	run, err := database.CreatePredictionRun(ctx, p.db, req.SessionId, req.Context, req.InputPath)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrPipelineInternal, err)
	}

	slog.Info("starting prediction", "run_id", run.Id, "session_id", req.SessionId, "context", req.Context, "input", req.InputPath)
	start := time.Now()

	artifactPath, preview, err := p.runPipeline(ctx, req)
	if err != nil {
		kind := FailureKindOf(err)
		slog.Error("prediction failed", "run_id", run.Id, "failure_kind", kind, "error", err)
		if dbErr := database.FailPredictionRun(context.Background(), p.db, run.Id, kind, err.Error()); dbErr != nil {
			slog.Error("error recording prediction failure", "run_id", run.Id, "error", dbErr)
		}
		return Result{}, err
	}

	if err := database.CompletePredictionRun(ctx, p.db, run.Id, artifactPath, preview.TotalRows, preview.Columns); err != nil {
		if dbErr := database.FailPredictionRun(context.Background(), p.db, run.Id, FailurePipelineInternal, err.Error()); dbErr != nil {
			slog.Error("error recording prediction failure", "run_id", run.Id, "error", dbErr)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrPipelineInternal, err)
	}

	slog.Info("prediction completed", "run_id", run.Id, "artifact", artifactPath, "rows", preview.TotalRows, "duration", time.Since(start))

	p.archiveArtifact(ctx, run.Id, artifactPath)

	return Result{RunId: run.Id, ArtifactPath: artifactPath, Preview: preview}, nil
}

func (p *Predictor) runPipeline(ctx context.Context, req Request) (string, Preview, error) {
	artifactPath, err := p.pipeline.Predict(ctx, req.InputPath)
	if err != nil {
		return "", Preview{}, err
	}

	previewRows := p.cfg.PreviewRows
	if req.PreviewRows > 0 && req.PreviewRows < previewRows {
		previewRows = req.PreviewRows
	}

	preview, err := BuildPreview(artifactPath, previewRows, p.cfg.PredictionColumn)
	if err != nil {
		return "", Preview{}, err
	}
	return artifactPath, preview, nil
}

func (p *Predictor) archiveKey(runId uuid.UUID) string {
	return archivePrefix + runId.String() + ".csv"
}

func (p *Predictor) archiveArtifact(ctx context.Context, runId uuid.UUID, artifactPath string) {
	if p.archive == nil {
		return
	}

	file, err := os.Open(artifactPath)
	if err != nil {
		slog.Error("error opening artifact for archiving", "run_id", runId, "error", err)
		return
	}
	defer file.Close()

	key := p.archiveKey(runId)
	if err := p.archive.PutObject(ctx, p.cfg.ArchiveBucket, key, file); err != nil {
		slog.Error("error archiving artifact", "run_id", runId, "key", key, "error", err)
		return
	}

	if err := database.SetArchiveKey(ctx, p.db, runId, key); err != nil {
		slog.Error("error recording archive key", "run_id", runId, "error", err)
	}
}

// LatestArtifact returns the artifact of the most recent successful run for the
// session and context. A missing local file is restored from the archive when
// the run was archived.
func (p *Predictor) LatestArtifact(ctx context.Context, sessionId uuid.UUID, runContext string) (Artifact, error) {
	run, err := database.LatestCompletedRun(ctx, p.db, sessionId, runContext)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Artifact{}, ErrNoArtifact
		}
		return Artifact{}, err
	}

	artifact := Artifact{RunId: run.Id, Context: run.Context, Path: run.ArtifactPath}
	if run.CompletionTime.Valid {
		artifact.CompletionTime = run.CompletionTime.Time
	}

	if _, err := os.Stat(run.ArtifactPath); err == nil {
		return artifact, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, fmt.Errorf("error checking artifact %s: %w", run.ArtifactPath, err)
	}

	if p.archive == nil || !run.ArchiveKey.Valid {
		slog.Warn("artifact no longer exists", "run_id", run.Id, "path", run.ArtifactPath)
		return Artifact{}, ErrNoArtifact
	}

	restored := filepath.Join(p.cfg.ArtifactDir, run.Id.String()+".csv")
	if err := p.archive.DownloadObject(ctx, p.cfg.ArchiveBucket, run.ArchiveKey.String, restored); err != nil {
		slog.Error("error restoring artifact from archive", "run_id", run.Id, "key", run.ArchiveKey.String, "error", err)
		return Artifact{}, ErrNoArtifact
	}
	slog.Info("restored artifact from archive", "run_id", run.Id, "path", restored)

	artifact.Path = restored
	return artifact, nil
}

// BuildPreview reads the header and up to maxRows data rows of a predictions
// file, counts all of its rows and summarizes the prediction column.
func BuildPreview(path string, maxRows int, predictionColumn string) (Preview, error) {
	file, err := os.Open(path)
	if err != nil {
		return Preview{}, fmt.Errorf("%w: unable to open predictions %s: %v", ErrPipelineInternal, path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Preview{}, fmt.Errorf("%w: predictions file %s is empty", ErrPipelineInternal, path)
		}
		return Preview{}, fmt.Errorf("%w: unable to read predictions header: %v", ErrPipelineInternal, err)
	}

	preview := Preview{Columns: header, Rows: make([][]string, 0, min(maxRows, 64))}

	valueCol := slices.IndexFunc(header, func(c string) bool {
		return strings.EqualFold(strings.TrimSpace(c), predictionColumn)
	})
	var values []float64
	numeric := valueCol >= 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Preview{}, fmt.Errorf("%w: unable to read predictions row %d: %v", ErrPipelineInternal, preview.TotalRows+1, err)
		}

		preview.TotalRows++
		if len(preview.Rows) < maxRows {
			preview.Rows = append(preview.Rows, row)
		}

		if numeric {
			if valueCol >= len(row) {
				numeric = false
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(row[valueCol]), 64)
			if err != nil {
				numeric = false
				continue
			}
			values = append(values, v)
		}
	}

	if numeric && len(values) > 0 {
		preview.Summary = summarize(header[valueCol], values)
	}

	return preview, nil
}

func summarize(column string, values []float64) *Summary {
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	return &Summary{
		Column: column,
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Mean:   stat.Mean(sorted, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
	}
}
