//go:build integration

package integrationtests

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"rul-backend/internal/api"
	"rul-backend/internal/core"
	"rul-backend/internal/messaging"
	"rul-backend/pkg/client"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionWorkflowOnPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t, ctx)

	pipeline := &echoPipeline{outputDir: t.TempDir()}
	uploadDir := filepath.Join(t.TempDir(), "uploads")
	predictor := core.NewPredictor(db, pipeline, core.NewDatasetStager(filepath.Join(uploadDir, "rul.csv")), nil, core.PredictorConfig{
		BaseDatasetPath: writeBaseDataset(t),
		ArtifactDir:     t.TempDir(),
	})
	retrainer := core.NewRetrainer(db, pipeline, "")

	queue := messaging.NewInMemoryQueue()
	processor := core.NewTaskProcessor(retrainer, queue, queue)
	go processor.Start()
	defer processor.Stop()

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		api.NewBackendService(db, predictor, retrainer, uploadDir, 0).AddRoutes(r)
	})
	server := httptest.NewServer(router)
	defer server.Close()

	c := client.New(server.URL)

	res, err := c.PredictBase(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalRows)
	assert.Len(t, res.Rows, 2)
	require.NotNil(t, res.Summary)
	assert.Equal(t, 69.0, res.Summary.Min)
	assert.Equal(t, 112.0, res.Summary.Max)

	input := filepath.Join(t.TempDir(), "engine.csv")
	custom := "unit,cycle,RUL\n4,40,12\n"
	require.NoError(t, os.WriteFile(input, []byte(custom), 0644))

	_, err = c.Upload(ctx, input)
	require.NoError(t, err)

	res, err = c.PredictCustom(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalRows)

	// Invalid data keeps the previous custom artifact downloadable.
	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("x,y\n1,2\n"), 0644))
	_, err = c.Upload(ctx, bad)
	require.NoError(t, err)

	_, err = c.PredictCustom(ctx, 0)
	var clientErr *client.Error
	require.True(t, errors.As(err, &clientErr))
	assert.Equal(t, http.StatusUnprocessableEntity, clientErr.StatusCode)

	out := new(bytes.Buffer)
	_, err = c.Download(ctx, client.CustomContext, out)
	require.NoError(t, err)
	assert.Equal(t, custom, out.String())

	runs, err := c.ListPredictions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	// Scheduled and on-demand retrains share the same run history.
	require.NoError(t, queue.PublishRetrainTask(ctx, messaging.RetrainTaskPayload{Trigger: messaging.TriggerScheduled, RequestTime: time.Now()}))

	retrain, err := c.Retrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(core.Adopted), retrain.Decision)

	require.Eventually(t, func() bool {
		runs, err := c.ListRetrainRuns(ctx, 0)
		return err == nil && len(runs) == 2
	}, 10*time.Second, 100*time.Millisecond)
}

func TestConcurrentCustomPredictionsOnPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t, ctx)

	pipeline := &echoPipeline{outputDir: t.TempDir()}
	uploadDir := filepath.Join(t.TempDir(), "uploads")
	predictor := core.NewPredictor(db, pipeline, core.NewDatasetStager(filepath.Join(uploadDir, "rul.csv")), nil, core.PredictorConfig{
		BaseDatasetPath: writeBaseDataset(t),
		ArtifactDir:     t.TempDir(),
	})

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		api.NewBackendService(db, predictor, core.NewRetrainer(db, pipeline, ""), uploadDir, 0).AddRoutes(r)
	})
	server := httptest.NewServer(router)
	defer server.Close()

	const sessions = 8

	var wg sync.WaitGroup
	outputs := make([]string, sessions)
	errs := make([]error, sessions)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := client.New(server.URL)

			input := filepath.Join(t.TempDir(), "engine.csv")
			if err := os.WriteFile(input, []byte("unit,cycle,RUL\n"+string(rune('a'+i))+",1,1\n"), 0644); err != nil {
				errs[i] = err
				return
			}
			if _, err := c.Upload(ctx, input); err != nil {
				errs[i] = err
				return
			}
			if _, err := c.PredictCustom(ctx, 0); err != nil {
				errs[i] = err
				return
			}

			out := new(bytes.Buffer)
			if _, err := c.Download(ctx, client.CustomContext, out); err != nil {
				errs[i] = err
				return
			}
			outputs[i] = out.String()
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "unit,cycle,RUL\n"+string(rune('a'+i))+",1,1\n", outputs[i])
	}
}
