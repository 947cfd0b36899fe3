package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	inputPlaceholder = "{input}"
	maxStderrTail    = 2048

	// How long to wait for the output pipes to close after the command exits
	// or is killed. Background processes it left behind may hold them open.
	pipeWaitDelay = 2 * time.Second
)

type CommandSpec struct {
	Command []string `yaml:"command"`
	Workdir string   `yaml:"workdir"`
	Env     []string `yaml:"env"`
	Timeout string   `yaml:"timeout"`

	// Exit codes that carry meaning beyond "failed". Zero disables the mapping.
	SchemaErrorExitCode        int `yaml:"schema_error_exit_code"`
	ChallengerRejectedExitCode int `yaml:"challenger_rejected_exit_code"`

	// Only used by the training command.
	TrainingData string `yaml:"training_data"`
}

type CommandPipelineConfig struct {
	Predict CommandSpec `yaml:"predict"`
	Train   CommandSpec `yaml:"train"`
}

func LoadCommandPipelineConfig(path string) (CommandPipelineConfig, error) {
	var cfg CommandPipelineConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading pipeline file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing pipeline file: %w", err)
	}

	if len(cfg.Predict.Command) == 0 {
		return cfg, fmt.Errorf("pipeline file %s is missing predict.command", path)
	}
	if len(cfg.Train.Command) == 0 {
		slog.Warn("pipeline file has no train.command, retraining will always be rejected", "path", path)
	}

	for _, spec := range []CommandSpec{cfg.Predict, cfg.Train} {
		if spec.Timeout != "" {
			if _, err := time.ParseDuration(spec.Timeout); err != nil {
				return cfg, fmt.Errorf("invalid timeout '%s' in pipeline file: %w", spec.Timeout, err)
			}
		}
	}

	return cfg, nil
}

// CommandPipelines runs the prediction and training pipelines as external
// processes. The prediction command must print the path of the predictions
// file as the last line of its stdout.
type CommandPipelines struct {
	cfg CommandPipelineConfig
}

var _ Pipelines = (*CommandPipelines)(nil)

func NewCommandPipelines(cfg CommandPipelineConfig) *CommandPipelines {
	return &CommandPipelines{cfg: cfg}
}

func (p *CommandPipelines) Predict(ctx context.Context, inputPath string) (string, error) {
	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return "", fmt.Errorf("%w: invalid input path %s: %v", ErrPipelineInternal, inputPath, err)
	}

	args := make([]string, 0, len(p.cfg.Predict.Command)+1)
	substituted := false
	for _, arg := range p.cfg.Predict.Command {
		if strings.Contains(arg, inputPlaceholder) {
			arg = strings.ReplaceAll(arg, inputPlaceholder, absInput)
			substituted = true
		}
		args = append(args, arg)
	}
	if !substituted {
		args = append(args, absInput)
	}

	stdout, err := runCommand(ctx, p.cfg.Predict, args)
	if err != nil {
		return "", err
	}

	output := lastLine(stdout)
	if output == "" {
		return "", fmt.Errorf("%w: prediction command did not report an output path", ErrPipelineInternal)
	}
	if !filepath.IsAbs(output) && p.cfg.Predict.Workdir != "" {
		output = filepath.Join(p.cfg.Predict.Workdir, output)
	}

	if _, err := os.Stat(output); err != nil {
		return "", fmt.Errorf("%w: reported output %s is not readable: %v", ErrPipelineInternal, output, err)
	}

	return output, nil
}

func (p *CommandPipelines) Train(ctx context.Context) error {
	if len(p.cfg.Train.Command) == 0 {
		return fmt.Errorf("%w: no training command configured", ErrPipelineInternal)
	}

	if data := p.cfg.Train.TrainingData; data != "" {
		if _, err := os.Stat(data); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s does not exist", ErrNoTrainingData, data)
			}
			return fmt.Errorf("%w: unable to stat training data %s: %v", ErrPipelineInternal, data, err)
		}
	}

	_, err := runCommand(ctx, p.cfg.Train, p.cfg.Train.Command)
	return err
}

func (p *CommandPipelines) Release() {}

func runCommand(ctx context.Context, spec CommandSpec, args []string) (string, error) {
	if spec.Timeout != "" {
		timeout, err := time.ParseDuration(spec.Timeout)
		if err == nil && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = spec.Workdir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = pipeWaitDelay
	killProcessGroupOnCancel(cmd)

	start := time.Now()
	err := cmd.Run()
	slog.Info("pipeline command finished", "command", args[0], "duration", time.Since(start), "error", err)
	if errors.Is(err, exec.ErrWaitDelay) {
		slog.Warn("pipeline command exited but left processes holding its output open", "command", args[0])
		err = nil
	}
	if err == nil {
		return stdout.String(), nil
	}

	tail := stderrTail(stderr.Bytes())

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("%w: command %s interrupted: %v", ErrPipelineInternal, args[0], ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		switch {
		case spec.SchemaErrorExitCode != 0 && code == spec.SchemaErrorExitCode:
			return "", fmt.Errorf("%w: %s", ErrSchemaInvalid, tail)
		case spec.ChallengerRejectedExitCode != 0 && code == spec.ChallengerRejectedExitCode:
			return "", fmt.Errorf("%w: %s", ErrChallengerRejected, tail)
		default:
			return "", fmt.Errorf("%w: command %s exited with code %d: %s", ErrPipelineInternal, args[0], code, tail)
		}
	}

	return "", fmt.Errorf("%w: unable to run command %s: %v", ErrPipelineInternal, args[0], err)
}

func lastLine(output string) string {
	var last string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			last = line
		}
	}
	return last
}

func stderrTail(stderr []byte) string {
	if len(stderr) > maxStderrTail {
		stderr = stderr[len(stderr)-maxStderrTail:]
	}
	return strings.TrimSpace(string(stderr))
}
