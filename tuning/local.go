// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	// defaultTrainerImage runs a transformers/peft training entrypoint.
	defaultTrainerImage = "huggingface/transformers-pytorch-gpu:latest"

	// containerDataDir is where training shards are mounted in the container.
	containerDataDir = "/data"
)

// LocalRunner executes a single training run in a Docker container.
//
// It is meant for validating a tuning configuration on a small data sample
// before submitting the managed job.
type LocalRunner struct {
	client *client.Client
	image  string
	logger *slog.Logger

	memoryLimit int64
	cpuLimit    int64
}

// LocalResult is the outcome of a local training run.
type LocalResult struct {
	ExitCode int
	Output   string
	Duration time.Duration
}

// LocalRunnerOption is a functional option for configuring LocalRunner.
type LocalRunnerOption func(*LocalRunner)

// WithRunnerDockerClient sets a custom Docker client.
func WithRunnerDockerClient(client *client.Client) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.client = client
	}
}

// WithRunnerImage sets the trainer image.
func WithRunnerImage(img string) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.image = img
	}
}

// WithRunnerLogger sets a custom logger for the runner.
func WithRunnerLogger(logger *slog.Logger) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.logger = logger
	}
}

// WithRunnerMemoryLimit sets the container memory limit (in bytes).
func WithRunnerMemoryLimit(limit int64) LocalRunnerOption {
	return func(r *LocalRunner) {
		r.memoryLimit = limit
	}
}

// NewLocalRunner creates a runner backed by the local Docker daemon.
func NewLocalRunner(opts ...LocalRunnerOption) (*LocalRunner, error) {
	runner := &LocalRunner{
		image:       defaultTrainerImage,
		logger:      slog.Default(),
		memoryLimit: 16 * 1024 * 1024 * 1024,
		cpuLimit:    4000000000,
	}
	for _, opt := range opts {
		opt(runner)
	}

	if runner.client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return nil, fmt.Errorf("create Docker client: %w", err)
		}
		runner.client = cli
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := runner.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to Docker: %w", err)
	}

	return runner, nil
}

// trainerEnv maps a tuning configuration onto the trainer's environment.
func trainerEnv(config *Config) []string {
	hp := config.Hyperparameters
	env := []string{
		"MODEL_NAME=" + config.SourceModel,
		"TUNING_METHOD=" + string(config.Method),
		"DATA_DIR=" + containerDataDir,
		"LEARNING_RATE=" + strconv.FormatFloat(hp.LearningRate, 'g', -1, 64),
		"BATCH_SIZE=" + strconv.Itoa(hp.BatchSize),
		"EPOCHS=" + strconv.Itoa(hp.Epochs),
	}
	if hp.GradientAccumulation > 0 {
		env = append(env, "GRADIENT_ACCUMULATION="+strconv.Itoa(hp.GradientAccumulation))
	}
	if config.LoRA != nil {
		env = append(env,
			"LORA_RANK="+strconv.Itoa(config.LoRA.Rank),
			"LORA_ALPHA="+strconv.Itoa(config.LoRA.Alpha),
			"LORA_DROPOUT="+strconv.FormatFloat(config.LoRA.DropoutRate, 'g', -1, 64),
			"LORA_TARGET_MODULES="+strings.Join(config.LoRA.TargetModules, ","),
		)
	}
	if config.Quantization != nil && config.Quantization.LoadIn8Bit {
		env = append(env, "LOAD_IN_8BIT=1")
	}
	if config.Quantization != nil && config.Quantization.LoadIn4Bit {
		env = append(env, "LOAD_IN_4BIT=1")
	}
	return env
}

// Run executes one training run over the shards in dataDir and blocks until
// the container exits.
func (r *LocalRunner) Run(ctx context.Context, config *Config, dataDir string) (*LocalResult, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	start := time.Now()

	if err := r.ensureImage(ctx); err != nil {
		return nil, fmt.Errorf("ensure image: %w", err)
	}

	containerConfig := &container.Config{
		Image: r.image,
		Env:   trainerEnv(config),
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   r.memoryLimit,
			NanoCPUs: r.cpuLimit,
		},
		Mounts: []mount.Mount{
			{
				Type:     mount.TypeBind,
				Source:   dataDir,
				Target:   containerDataDir,
				ReadOnly: true,
			},
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer r.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	r.logger.InfoContext(ctx, "Local training run started",
		slog.String("container_id", resp.ID),
		slog.String("image", r.image),
	)

	statusCh, errCh := r.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	output, err := r.containerOutput(ctx, resp.ID)
	if err != nil {
		return nil, err
	}

	result := &LocalResult{
		ExitCode: exitCode,
		Output:   output,
		Duration: time.Since(start),
	}

	r.logger.InfoContext(ctx, "Local training run finished",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// ensureImage ensures the trainer image is available locally.
func (r *LocalRunner) ensureImage(ctx context.Context) error {
	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		if slices.Contains(img.RepoTags, r.image) {
			return nil
		}
	}

	reader, err := r.client.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// containerOutput collects the container's combined stdout and stderr.
func (r *LocalRunner) containerOutput(ctx context.Context, containerID string) (string, error) {
	logs, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("read container logs: %w", err)
	}
	defer logs.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil {
		return "", fmt.Errorf("demux container logs: %w", err)
	}
	return buf.String(), nil
}

// Close closes the underlying Docker client.
func (r *LocalRunner) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
