package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"rul-backend/internal/core"
	"rul-backend/internal/database"
	"rul-backend/pkg/api"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	BasePredictionFailedMessage   = "Batch Prediction Failed! Issue occurred at our end!"
	CustomPredictionFailedMessage = "Correct format file not provided! Please provide file in csv format with appropriate structure"
	NoArtifactMessage             = "no prediction available for download"

	DefaultMaxUploadBytes = 30 * 1000 * 1000

	uploadFormField     = "file"
	downloadFileName    = "prediction.csv"
	defaultListLimit    = 50
	maxListLimit        = 500
	maxUploadNameLength = 100
)

type BackendService struct {
	db        *gorm.DB
	predictor *core.Predictor
	retrainer *core.Retrainer

	uploadDir      string
	maxUploadBytes int64
	requestTimeout time.Duration
}

func NewBackendService(db *gorm.DB, predictor *core.Predictor, retrainer *core.Retrainer, uploadDir string, maxUploadBytes int64) *BackendService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &BackendService{
		db:             db,
		predictor:      predictor,
		retrainer:      retrainer,
		uploadDir:      uploadDir,
		maxUploadBytes: maxUploadBytes,
	}
}

// WithRequestTimeout bounds prediction and upload requests. Retrains are not
// bounded and run to completion.
func (s *BackendService) WithRequestTimeout(timeout time.Duration) *BackendService {
	s.requestTimeout = timeout
	return s
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))

	r.Group(func(r chi.Router) {
		r.Use(SessionMiddleware)

		r.Group(func(r chi.Router) {
			if s.requestTimeout > 0 {
				r.Use(middleware.Timeout(s.requestTimeout))
			}

			r.Route("/predictions", func(r chi.Router) {
				r.Get("/", RestHandler(s.ListPredictions))
				r.Post("/base", RestHandler(s.PredictBase))
				r.Post("/custom", RestHandler(s.PredictCustom))
				r.Get("/{context}/download", s.DownloadPrediction)
			})

			r.With(limitBody(s.maxUploadBytes)).Post("/uploads", RestHandler(s.UploadDataset))
		})

		r.Route("/retrain", func(r chi.Router) {
			r.Post("/", RestHandler(s.Retrain))
			r.Get("/runs", RestHandler(s.ListRetrainRuns))
		})
	})
}

func limitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func (s *BackendService) PredictBase(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.PredictionParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be non-negative")
	}

	sessionId := SessionId(r)

	result, err := s.predictor.PredictBase(r.Context(), sessionId, params.Limit)
	if err != nil {
		slog.Error("base prediction failed", "session_id", sessionId, "failure_kind", core.FailureKindOf(err), "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, BasePredictionFailedMessage)
	}

	return convertPrediction(database.BaseContext, result), nil
}

func (s *BackendService) PredictCustom(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.PredictionParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "limit must be non-negative")
	}

	sessionId := SessionId(r)

	result, err := s.predictor.PredictCustom(r.Context(), sessionId, params.Limit)
	if err != nil {
		kind := core.FailureKindOf(err)
		slog.Warn("custom prediction failed", "session_id", sessionId, "failure_kind", kind, "error", err)
		if errors.Is(err, core.ErrInputUnavailable) {
			return nil, CodedErrorf(http.StatusBadRequest, CustomPredictionFailedMessage)
		}
		return nil, CodedErrorf(http.StatusUnprocessableEntity, CustomPredictionFailedMessage)
	}

	return convertPrediction(database.CustomContext, result), nil
}

var unsafeFileChars = regexp.MustCompile(`[^\w.-]+`)

// sanitizeFileName reduces a client supplied name to a single path element made
// of word characters, dots and hyphens.
func sanitizeFileName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, "._")
	if len(name) > maxUploadNameLength {
		name = name[len(name)-maxUploadNameLength:]
	}
	return name
}

func (s *BackendService) UploadDataset(r *http.Request) (any, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, CodedErrorf(http.StatusBadRequest, "request must be multipart/form-data with a '%s' field", uploadFormField)
	}

	if err := os.MkdirAll(s.uploadDir, os.ModePerm); err != nil {
		slog.Error("error creating upload directory", "dir", s.uploadDir, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "unable to store upload")
	}

	sessionId := SessionId(r)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, uploadReadError(err)
		}

		if part.FormName() != uploadFormField {
			part.Close()
			continue
		}

		fileName := sanitizeFileName(part.FileName())
		if fileName == "" {
			part.Close()
			return nil, CodedErrorf(http.StatusBadRequest, "no file selected for upload")
		}

		upload := database.Upload{
			Id:        uuid.New(),
			SessionId: sessionId,
			FileName:  fileName,
		}
		upload.Path = filepath.Join(s.uploadDir, fmt.Sprintf("%s_%s", upload.Id, fileName))

		size, err := saveUploadedFile(part, upload.Path)
		part.Close()
		if err != nil {
			os.Remove(upload.Path) //nolint:errcheck
			return nil, uploadReadError(err)
		}
		upload.Size = size

		if err := database.SaveUpload(r.Context(), s.db, &upload); err != nil {
			os.Remove(upload.Path) //nolint:errcheck
			return nil, CodedErrorf(http.StatusInternalServerError, "unable to record upload")
		}

		slog.Info("dataset uploaded", "session_id", sessionId, "upload_id", upload.Id, "file_name", fileName, "size", size)
		return api.UploadResponse{Id: upload.Id, FileName: fileName, Size: size}, nil
	}

	return nil, CodedErrorf(http.StatusBadRequest, "no '%s' field in upload", uploadFormField)
}

func saveUploadedFile(src io.Reader, path string) (int64, error) {
	dst, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	return io.Copy(dst, src)
}

func uploadReadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return CodedErrorf(http.StatusRequestEntityTooLarge, "upload exceeds the maximum size of %d bytes", maxBytesErr.Limit)
	}
	slog.Error("error reading upload", "error", err)
	return CodedErrorf(http.StatusBadRequest, "unable to read upload")
}

func (s *BackendService) DownloadPrediction(w http.ResponseWriter, r *http.Request) {
	runContext, err := URLParamEnum(r, "context", database.BaseContext, database.CustomContext)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionId := SessionId(r)

	artifact, err := s.predictor.LatestArtifact(r.Context(), sessionId, runContext)
	if err != nil {
		if errors.Is(err, core.ErrNoArtifact) {
			http.Error(w, NoArtifactMessage, http.StatusNotFound)
			return
		}
		slog.Error("error looking up prediction artifact", "session_id", sessionId, "context", runContext, "error", err)
		http.Error(w, "unable to retrieve prediction", http.StatusInternalServerError)
		return
	}

	file, err := os.Open(artifact.Path)
	if err != nil {
		slog.Error("error opening prediction artifact", "run_id", artifact.RunId, "path", artifact.Path, "error", err)
		http.Error(w, NoArtifactMessage, http.StatusNotFound)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadFileName))
	http.ServeContent(w, r, downloadFileName, artifact.CompletionTime, file)
}

func listLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, CodedErrorf(http.StatusBadRequest, "limit must be non-negative")
	case limit == 0:
		return defaultListLimit, nil
	default:
		return min(limit, maxListLimit), nil
	}
}

func (s *BackendService) ListPredictions(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}
	limit, err := listLimit(params.Limit)
	if err != nil {
		return nil, err
	}

	runs, err := database.ListPredictionRuns(r.Context(), s.db, SessionId(r), limit)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing prediction runs")
	}

	return convertPredictionRuns(runs), nil
}

func (s *BackendService) Retrain(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.RetrainParams](r)
	if err != nil {
		return nil, err
	}

	trigger := database.TriggerHttp
	switch params.Trigger {
	case "", database.TriggerHttp:
	case database.TriggerCli:
		trigger = database.TriggerCli
	default:
		return nil, CodedErrorf(http.StatusBadRequest, "invalid trigger '%s', must be one of '%s' or '%s'", params.Trigger, database.TriggerHttp, database.TriggerCli)
	}

	// The retrain outlives the request if the client goes away.
	start := time.Now()
	outcome := s.retrainer.Retrain(context.WithoutCancel(r.Context()), trigger)
	slog.Info("retrain request finished", "run_id", outcome.RunId, "trigger", trigger, "decision", outcome.Decision, "duration", time.Since(start))

	return api.RetrainResponse{
		RunId:    outcome.RunId,
		Decision: string(outcome.Decision),
		Reason:   outcome.Reason,
		Message:  outcome.Message,
	}, nil
}

func (s *BackendService) ListRetrainRuns(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.ListRunsParams](r)
	if err != nil {
		return nil, err
	}
	limit, err := listLimit(params.Limit)
	if err != nil {
		return nil, err
	}

	runs, err := database.ListRetrainRuns(r.Context(), s.db, limit)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing retrain runs")
	}

	return convertRetrainRuns(runs), nil
}
