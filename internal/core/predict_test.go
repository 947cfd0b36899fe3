package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"rul-backend/internal/core"
	"rul-backend/internal/database"
	"rul-backend/internal/storage"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "runs.db")), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

// fakePredictor copies its input into a new artifact, optionally appending a
// RUL column, unless err is set.
type fakePredictor struct {
	outputDir string
	delay     time.Duration
	err       error

	mu     sync.Mutex
	inputs []string
}

func (f *fakePredictor) Predict(ctx context.Context, inputPath string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, inputPath)
	f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrSchemaInvalid, err)
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	out, err := os.CreateTemp(f.outputDir, "prediction-*.csv")
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := out.Write(data); err != nil {
		return "", err
	}
	return out.Name(), nil
}

func rulCSV(rows int) string {
	var b strings.Builder
	b.WriteString("unit,cycle,RUL\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "%d,%d,%d\n", i, i*2, i)
	}
	return b.String()
}

type predictorFixture struct {
	db        *gorm.DB
	pipeline  *fakePredictor
	predictor *core.Predictor
	baseInput string
	uploadDir string
	canonical string
}

func newPredictorFixture(t *testing.T, archive storage.ObjectStore) *predictorFixture {
	t.Helper()
	dir := t.TempDir()

	f := &predictorFixture{
		db:        createDB(t),
		pipeline:  &fakePredictor{outputDir: t.TempDir()},
		baseInput: filepath.Join(dir, "base", "test.csv"),
		uploadDir: filepath.Join(dir, "uploads"),
		canonical: filepath.Join(dir, "uploads", "rul.csv"),
	}
	writeFile(t, f.baseInput, rulCSV(5))

	f.predictor = core.NewPredictor(f.db, f.pipeline, core.NewDatasetStager(f.canonical), archive, core.PredictorConfig{
		BaseDatasetPath: f.baseInput,
		ArtifactDir:     filepath.Join(dir, "artifacts"),
		ArchiveBucket:   "archive",
	})
	return f
}

func (f *predictorFixture) upload(t *testing.T, sessionId uuid.UUID, content string) string {
	t.Helper()
	path := filepath.Join(f.uploadDir, uuid.NewString()+".csv")
	writeFile(t, path, content)
	require.NoError(t, database.SaveUpload(context.Background(), f.db, &database.Upload{
		SessionId: sessionId,
		FileName:  "engine.csv",
		Path:      path,
		Size:      int64(len(content)),
	}))
	return path
}

func readArtifact(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestPredictBasePreview(t *testing.T) {
	f := newPredictorFixture(t, nil)
	writeFile(t, f.baseInput, rulCSV(1200))

	result, err := f.predictor.PredictBase(context.Background(), uuid.New(), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"unit", "cycle", "RUL"}, result.Preview.Columns)
	assert.Len(t, result.Preview.Rows, 1000)
	assert.Equal(t, 1200, result.Preview.TotalRows)
	assert.Equal(t, []string{"1000", "2000", "1000"}, result.Preview.Rows[999])

	require.NotNil(t, result.Preview.Summary)
	assert.Equal(t, "RUL", result.Preview.Summary.Column)
	assert.Equal(t, 1.0, result.Preview.Summary.Min)
	assert.Equal(t, 1200.0, result.Preview.Summary.Max)
	assert.InDelta(t, 600.5, result.Preview.Summary.Mean, 1e-9)

	assert.Equal(t, []string{f.baseInput}, f.pipeline.inputs)
}

func TestPredictPreviewLimit(t *testing.T) {
	f := newPredictorFixture(t, nil)

	result, err := f.predictor.PredictBase(context.Background(), uuid.New(), 2)
	require.NoError(t, err)
	assert.Len(t, result.Preview.Rows, 2)
	assert.Equal(t, 5, result.Preview.TotalRows)
}

func TestBuildPreviewSummary(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "odd.csv")
	writeFile(t, path, "unit,rul\n1,30\n2,10\n3,20\n")
	preview, err := core.BuildPreview(path, 10, "RUL")
	require.NoError(t, err)
	require.NotNil(t, preview.Summary)
	assert.Equal(t, 20.0, preview.Summary.Median)
	assert.Equal(t, 10.0, preview.Summary.Min)
	assert.Equal(t, 30.0, preview.Summary.Max)

	path = filepath.Join(dir, "text.csv")
	writeFile(t, path, "unit,RUL\n1,high\n2,10\n")
	preview, err = core.BuildPreview(path, 10, "RUL")
	require.NoError(t, err)
	assert.Nil(t, preview.Summary)
	assert.Equal(t, 2, preview.TotalRows)

	path = filepath.Join(dir, "no_column.csv")
	writeFile(t, path, "unit,cycle\n1,2\n")
	preview, err = core.BuildPreview(path, 10, "RUL")
	require.NoError(t, err)
	assert.Nil(t, preview.Summary)

	path = filepath.Join(dir, "empty.csv")
	writeFile(t, path, "")
	_, err = core.BuildPreview(path, 10, "RUL")
	assert.ErrorIs(t, err, core.ErrPipelineInternal)
}

func TestPredictLastCallWins(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	session := uuid.New()

	first, err := f.predictor.PredictBase(ctx, session, 0)
	require.NoError(t, err)
	second, err := f.predictor.PredictBase(ctx, session, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ArtifactPath, second.ArtifactPath)

	artifact, err := f.predictor.LatestArtifact(ctx, session, database.BaseContext)
	require.NoError(t, err)
	assert.Equal(t, second.RunId, artifact.RunId)
	assert.Equal(t, second.ArtifactPath, artifact.Path)
}

func TestPredictFailureKeepsPreviousArtifact(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	session := uuid.New()

	ok, err := f.predictor.PredictBase(ctx, session, 0)
	require.NoError(t, err)

	f.pipeline.err = fmt.Errorf("%w: exit 1", core.ErrPipelineInternal)
	_, err = f.predictor.PredictBase(ctx, session, 0)
	assert.ErrorIs(t, err, core.ErrPipelineInternal)

	artifact, err := f.predictor.LatestArtifact(ctx, session, database.BaseContext)
	require.NoError(t, err)
	assert.Equal(t, ok.ArtifactPath, artifact.Path)

	runs, err := database.ListPredictionRuns(ctx, f.db, session, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	statuses := []string{runs[0].Status, runs[1].Status}
	assert.ElementsMatch(t, []string{database.RunCompleted, database.RunFailed}, statuses)
	for _, run := range runs {
		if run.Status == database.RunFailed {
			assert.Equal(t, core.FailurePipelineInternal, run.FailureKind)
		}
	}
}

func TestPredictFailsRunWhenCompletionNotRecorded(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	session := uuid.New()

	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("fail_completion", func(tx *gorm.DB) {
		if updates, ok := tx.Statement.Dest.(map[string]any); ok && updates["status"] == database.RunCompleted {
			tx.AddError(errors.New("disk I/O error"))
		}
	}))

	_, err := f.predictor.PredictBase(ctx, session, 0)
	assert.ErrorIs(t, err, core.ErrPipelineInternal)

	runs, err := database.ListPredictionRuns(ctx, f.db, session, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, database.RunFailed, runs[0].Status)
	assert.Equal(t, core.FailurePipelineInternal, runs[0].FailureKind)
	assert.True(t, runs[0].CompletionTime.Valid)

	_, err = f.predictor.LatestArtifact(ctx, session, database.BaseContext)
	assert.ErrorIs(t, err, core.ErrNoArtifact)
}

func TestLatestArtifactWithoutPrediction(t *testing.T) {
	f := newPredictorFixture(t, nil)

	_, err := f.predictor.LatestArtifact(context.Background(), uuid.New(), database.CustomContext)
	assert.ErrorIs(t, err, core.ErrNoArtifact)
}

func TestPredictCustomWithoutUpload(t *testing.T) {
	f := newPredictorFixture(t, nil)

	_, err := f.predictor.PredictCustom(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, core.ErrInputUnavailable)
	assert.Empty(t, f.pipeline.inputs)
}

func TestPredictCustomStagesUpload(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	session := uuid.New()

	uploadPath := f.upload(t, session, rulCSV(3))

	result, err := f.predictor.PredictCustom(ctx, session, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Preview.TotalRows)
	assert.Equal(t, []string{f.canonical}, f.pipeline.inputs)
	assert.Equal(t, rulCSV(3), readArtifact(t, f.canonical))

	_, err = os.Stat(uploadPath)
	assert.True(t, os.IsNotExist(err))

	// The upload has been consumed by staging.
	_, err = f.predictor.PredictCustom(ctx, session, 0)
	assert.ErrorIs(t, err, core.ErrInputUnavailable)
}

func TestPredictCustomSchemaError(t *testing.T) {
	f := newPredictorFixture(t, nil)
	session := uuid.New()
	f.upload(t, session, "not,a,dataset\n")
	f.pipeline.err = fmt.Errorf("%w: missing sensor columns", core.ErrSchemaInvalid)

	_, err := f.predictor.PredictCustom(context.Background(), session, 0)
	assert.ErrorIs(t, err, core.ErrSchemaInvalid)

	_, err = f.predictor.LatestArtifact(context.Background(), session, database.CustomContext)
	assert.ErrorIs(t, err, core.ErrNoArtifact)
}

func TestBaseAndCustomAreIndependent(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	session := uuid.New()

	base, err := f.predictor.PredictBase(ctx, session, 0)
	require.NoError(t, err)

	f.upload(t, session, rulCSV(2))
	custom, err := f.predictor.PredictCustom(ctx, session, 0)
	require.NoError(t, err)

	baseArtifact, err := f.predictor.LatestArtifact(ctx, session, database.BaseContext)
	require.NoError(t, err)
	assert.Equal(t, base.ArtifactPath, baseArtifact.Path)

	customArtifact, err := f.predictor.LatestArtifact(ctx, session, database.CustomContext)
	require.NoError(t, err)
	assert.Equal(t, custom.ArtifactPath, customArtifact.Path)
}

func TestSessionsAreIndependent(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	_, err := f.predictor.PredictBase(ctx, a, 0)
	require.NoError(t, err)

	_, err = f.predictor.LatestArtifact(ctx, b, database.BaseContext)
	assert.ErrorIs(t, err, core.ErrNoArtifact)
}

func TestConcurrentCustomPredictionsUseOwnUpload(t *testing.T) {
	f := newPredictorFixture(t, nil)
	f.pipeline.delay = 20 * time.Millisecond
	ctx := context.Background()

	sessions := make([]uuid.UUID, 4)
	for i := range sessions {
		sessions[i] = uuid.New()
		f.upload(t, sessions[i], fmt.Sprintf("unit,RUL\n%d,%d\n", i, i))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(sessions))
	for i, session := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.predictor.PredictCustom(ctx, session, 0)
		}()
	}
	wg.Wait()

	for i, session := range sessions {
		require.NoError(t, errs[i])
		artifact, err := f.predictor.LatestArtifact(ctx, session, database.CustomContext)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("unit,RUL\n%d,%d\n", i, i), readArtifact(t, artifact.Path))
	}
}

func TestLatestArtifactRestoresFromArchive(t *testing.T) {
	archive, err := storage.NewLocalObjectStore(t.TempDir())
	require.NoError(t, err)

	f := newPredictorFixture(t, archive)
	ctx := context.Background()
	session := uuid.New()

	result, err := f.predictor.PredictBase(ctx, session, 0)
	require.NoError(t, err)

	objects, err := archive.ListObjects(ctx, "archive", "predictions/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "predictions/"+result.RunId.String()+".csv", objects[0].Name)

	require.NoError(t, os.Remove(result.ArtifactPath))

	artifact, err := f.predictor.LatestArtifact(ctx, session, database.BaseContext)
	require.NoError(t, err)
	assert.NotEqual(t, result.ArtifactPath, artifact.Path)
	assert.Equal(t, rulCSV(5), readArtifact(t, artifact.Path))
}

func TestLatestArtifactMissingWithoutArchive(t *testing.T) {
	f := newPredictorFixture(t, nil)
	ctx := context.Background()
	session := uuid.New()

	result, err := f.predictor.PredictBase(ctx, session, 0)
	require.NoError(t, err)
	require.NoError(t, os.Remove(result.ArtifactPath))

	_, err = f.predictor.LatestArtifact(ctx, session, database.BaseContext)
	assert.True(t, errors.Is(err, core.ErrNoArtifact))
}
