// Package baseline is a reference pipeline plugin. It predicts remaining useful
// life with a piecewise linear model: an engine's RUL is the number of cycles
// left before its last recorded cycle, capped at a constant learned in training.
package baseline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"rul-backend/plugin/shared"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultCap = 125

	unitColumn  = "unit"
	cycleColumn = "cycle"
	rulColumn   = "RUL"
)

var capCandidates = []float64{90, 100, 110, 120, 125, 130, 140, 150, 175, 200}

type Model struct {
	Cap  float64
	RMSE float64
}

type Pipeline struct {
	ModelPath        string
	TrainingDataPath string
	OutputDir        string
}

var _ shared.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) loadModel() (Model, error) {
	data, err := os.ReadFile(p.ModelPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Model{Cap: DefaultCap, RMSE: math.Inf(1)}, nil
		}
		return Model{}, fmt.Errorf("error reading model: %w", err)
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return Model{}, fmt.Errorf("error parsing model %s: %w", p.ModelPath, err)
	}
	return model, nil
}

func (p *Pipeline) saveModel(model Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.ModelPath), os.ModePerm); err != nil {
		return err
	}

	tmp := p.ModelPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p.ModelPath)
}

type table struct {
	header []string
	rows   [][]string

	units  []string
	cycles []float64
}

func columnIndex(header []string, name string) int {
	return slices.IndexFunc(header, func(c string) bool {
		return strings.EqualFold(strings.TrimSpace(c), name)
	})
}

func readTable(path string) (table, error) {
	file, err := os.Open(path)
	if err != nil {
		return table{}, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return table{}, fmt.Errorf("%w: %s is empty", shared.ErrSchemaInvalid, path)
		}
		return table{}, fmt.Errorf("%w: %v", shared.ErrSchemaInvalid, err)
	}

	unitCol, cycleCol := columnIndex(header, unitColumn), columnIndex(header, cycleColumn)
	if unitCol < 0 || cycleCol < 0 {
		return table{}, fmt.Errorf("%w: expected '%s' and '%s' columns, found %v", shared.ErrSchemaInvalid, unitColumn, cycleColumn, header)
	}

	t := table{header: header}
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return table{}, fmt.Errorf("%w: %v", shared.ErrSchemaInvalid, err)
		}

		cycle, err := strconv.ParseFloat(strings.TrimSpace(row[cycleCol]), 64)
		if err != nil {
			return table{}, fmt.Errorf("%w: line %d: invalid cycle '%s'", shared.ErrSchemaInvalid, line, row[cycleCol])
		}

		t.rows = append(t.rows, row)
		t.units = append(t.units, strings.TrimSpace(row[unitCol]))
		t.cycles = append(t.cycles, cycle)
	}

	return t, nil
}

// estimate returns the capped cycles remaining for every row of t.
func estimate(t table, ceiling float64) []float64 {
	last := make(map[string]float64)
	for i, unit := range t.units {
		last[unit] = max(last[unit], t.cycles[i])
	}

	out := make([]float64, len(t.units))
	for i, unit := range t.units {
		out[i] = min(max(last[unit]-t.cycles[i], 0), ceiling)
	}
	return out
}

func rmse(predicted, actual []float64) float64 {
	return floats.Distance(predicted, actual, 2) / math.Sqrt(float64(len(actual)))
}

func (p *Pipeline) Predict(inputPath string) (string, error) {
	model, err := p.loadModel()
	if err != nil {
		return "", err
	}

	t, err := readTable(inputPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(p.OutputDir, os.ModePerm); err != nil {
		return "", err
	}
	out, err := os.CreateTemp(p.OutputDir, "prediction-*.csv")
	if err != nil {
		return "", err
	}
	defer out.Close()

	header := t.header
	rulCol := columnIndex(header, rulColumn)
	if rulCol < 0 {
		header = append(slices.Clone(header), rulColumn)
	}

	writer := csv.NewWriter(out)
	if err := writer.Write(header); err != nil {
		return "", err
	}
	for i, rul := range estimate(t, model.Cap) {
		value := strconv.FormatFloat(rul, 'f', -1, 64)
		row := t.rows[i]
		if rulCol < 0 {
			row = append(slices.Clone(row), value)
		} else {
			row[rulCol] = value
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	slog.Info("baseline prediction complete", "input", inputPath, "output", out.Name(), "rows", len(t.rows), "cap", model.Cap)
	return out.Name(), nil
}

// Train fits the cap on the training data and replaces the saved model only if
// the new cap has a lower error than the saved model on the same data.
func (p *Pipeline) Train() error {
	t, err := readTable(p.TrainingDataPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", shared.ErrNoTrainingData, p.TrainingDataPath)
		}
		return err
	}
	if len(t.rows) == 0 {
		return fmt.Errorf("%w: %s has no rows", shared.ErrNoTrainingData, p.TrainingDataPath)
	}

	rulCol := columnIndex(t.header, rulColumn)
	if rulCol < 0 {
		return fmt.Errorf("%w: training data needs a '%s' column", shared.ErrSchemaInvalid, rulColumn)
	}
	actual := make([]float64, len(t.rows))
	for i, row := range t.rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[rulCol]), 64)
		if err != nil {
			return fmt.Errorf("%w: row %d: invalid RUL '%s'", shared.ErrSchemaInvalid, i+1, row[rulCol])
		}
		actual[i] = v
	}

	current, err := p.loadModel()
	if err != nil {
		return err
	}
	if !math.IsInf(current.RMSE, 1) {
		current.RMSE = rmse(estimate(t, current.Cap), actual)
	}

	challenger := Model{RMSE: math.Inf(1)}
	for _, ceiling := range capCandidates {
		if score := rmse(estimate(t, ceiling), actual); score < challenger.RMSE {
			challenger = Model{Cap: ceiling, RMSE: score}
		}
	}

	slog.Info("baseline training complete", "current_cap", current.Cap, "current_rmse", current.RMSE, "challenger_cap", challenger.Cap, "challenger_rmse", challenger.RMSE)

	if challenger.RMSE >= current.RMSE {
		return fmt.Errorf("%w: rmse %.3f is not below %.3f", shared.ErrChallengerRejected, challenger.RMSE, current.RMSE)
	}

	if err := p.saveModel(challenger); err != nil {
		return fmt.Errorf("error saving model: %w", err)
	}
	return nil
}
