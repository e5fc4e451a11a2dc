// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/go-peft/peft-go/artifact"
	"github.com/go-peft/peft-go/dataset"
	"github.com/go-peft/peft-go/endpoint"
	"github.com/go-peft/peft-go/packer"
	"github.com/go-peft/peft-go/prompt"
	"github.com/go-peft/peft-go/tokenizer"
	"github.com/go-peft/peft-go/tuning"
)

// packBatchSize is the number of sequences fed to the packer per call. The
// packer carries the partial tail block across calls, so no tokens are lost
// at batch boundaries.
const packBatchSize = 64

// Pipeline wires the preparation, training, and serving stages together.
type Pipeline struct {
	cfg     *Config
	codec   tokenizer.Codec
	builder *prompt.Builder
	logger  *slog.Logger

	artifacts *artifact.Service
	tuner     *tuning.Service
	endpoints endpoint.Service
	baseline  *endpoint.Baseline
}

// Option is a functional option for configuring the Pipeline.
type Option func(*Pipeline)

// WithCodec overrides the tokenizer codec.
func WithCodec(codec tokenizer.Codec) Option {
	return func(p *Pipeline) {
		p.codec = codec
	}
}

// WithBuilder overrides the prompt builder.
func WithBuilder(builder *prompt.Builder) Option {
	return func(p *Pipeline) {
		p.builder = builder
	}
}

// WithLogger sets a custom logger for the pipeline.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithArtifactService sets the shard staging service for cloud stages.
func WithArtifactService(s *artifact.Service) Option {
	return func(p *Pipeline) {
		p.artifacts = s
	}
}

// WithTuningService sets the tuning service for cloud stages.
func WithTuningService(s *tuning.Service) Option {
	return func(p *Pipeline) {
		p.tuner = s
	}
}

// WithEndpointService sets the endpoint service for cloud stages.
func WithEndpointService(s endpoint.Service) Option {
	return func(p *Pipeline) {
		p.endpoints = s
	}
}

// WithBaseline sets the untuned-model client used for comparison queries.
func WithBaseline(b *endpoint.Baseline) Option {
	return func(p *Pipeline) {
		p.baseline = b
	}
}

// New creates a pipeline for the given configuration. Only the prepare
// settings are validated here; cloud stages validate their own requirements
// when invoked.
func New(cfg *Config, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.ValidatePrepare(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.codec == nil {
		p.codec = tokenizer.NewBPECodec(tokenizer.DefaultEncoding)
	}
	if p.builder == nil {
		builder, err := prompt.NewBuilder()
		if err != nil {
			return nil, fmt.Errorf("create prompt builder: %w", err)
		}
		p.builder = builder
	}

	return p, nil
}

// PrepareResult is the outcome of the prepare stage.
type PrepareResult struct {
	// Shards are the packed training shards, ready for upload
	Shards []artifact.Shard

	// TestRecords is the held-out evaluation split
	TestRecords []dataset.Record

	// Records is the number of records that survived filtering
	Records int

	// Blocks is the number of full training blocks emitted
	Blocks int

	// DroppedTokens is the size of the final partial block that was dropped
	DroppedTokens int
}

// Prepare loads the dataset and turns the training split into packed,
// shard-encoded training blocks.
func (p *Pipeline) Prepare(ctx context.Context) (*PrepareResult, error) {
	if p.cfg.DatasetPath == "" {
		return nil, fmt.Errorf("dataset path is required")
	}

	records, err := dataset.LoadFile(p.cfg.DatasetPath)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	records = dataset.Filter(records)
	if len(records) == 0 {
		return nil, fmt.Errorf("no usable records in %s", p.cfg.DatasetPath)
	}

	split, err := dataset.SplitRecords(records, p.cfg.TestFraction, p.cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("split dataset: %w", err)
	}

	p.logger.InfoContext(ctx, "Dataset loaded",
		slog.Int("records", len(records)),
		slog.Int("train", len(split.Train)),
		slog.Int("test", len(split.Test)),
	)

	sequences, err := p.tokenizeAll(ctx, split.Train)
	if err != nil {
		return nil, err
	}

	blocks, dropped, err := p.packAll(sequences)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("training split too small for a single %d-token block", p.cfg.BlockSize)
	}

	shards, err := encodeShards(blocks, p.cfg.BlocksPerShard)
	if err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "Dataset packed",
		slog.Int("blocks", len(blocks)),
		slog.Int("shards", len(shards)),
		slog.Int("dropped_tokens", dropped),
	)

	return &PrepareResult{
		Shards:        shards,
		TestRecords:   split.Test,
		Records:       len(records),
		Blocks:        len(blocks),
		DroppedTokens: dropped,
	}, nil
}

// tokenizeAll renders and tokenizes the training records concurrently,
// preserving record order in the output.
func (p *Pipeline) tokenizeAll(ctx context.Context, records []dataset.Record) ([]packer.Sequence, error) {
	sequences := make([]packer.Sequence, len(records))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(runtime.GOMAXPROCS(0))

	for i, rec := range records {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := p.builder.TrainingText(rec)
			if err != nil {
				return fmt.Errorf("record %s: %w", rec.ID, err)
			}
			seq, err := tokenizer.EncodeSequence(p.codec, text)
			if err != nil {
				return fmt.Errorf("tokenize record %s: %w", rec.ID, err)
			}
			sequences[i] = seq
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return sequences, nil
}

// packAll feeds sequences through the packer in batches and reports how many
// tokens the dropped final partial block held.
func (p *Pipeline) packAll(sequences []packer.Sequence) ([]packer.Block, int, error) {
	pk, err := packer.New(p.cfg.BlockSize)
	if err != nil {
		return nil, 0, err
	}

	var blocks []packer.Block
	for start := 0; start < len(sequences); start += packBatchSize {
		end := min(start+packBatchSize, len(sequences))
		blocks = append(blocks, pk.Pack(sequences[start:end])...)
	}

	dropped := len(pk.Remainder().InputIDs)
	return blocks, dropped, nil
}

// encodeShards splits blocks into JSON Lines shards.
func encodeShards(blocks []packer.Block, blocksPerShard int) ([]artifact.Shard, error) {
	var shards []artifact.Shard
	for start := 0; start < len(blocks); start += blocksPerShard {
		end := min(start+blocksPerShard, len(blocks))

		var buf bytes.Buffer
		if err := packer.EncodeShard(&buf, blocks[start:end]); err != nil {
			return nil, fmt.Errorf("encode shard %d: %w", len(shards), err)
		}
		shards = append(shards, artifact.Shard{
			Name: fmt.Sprintf("train-%05d.jsonl", len(shards)),
			Data: buf.Bytes(),
		})
	}
	return shards, nil
}

// Upload stages prepared shards and returns the run ID and its URI.
func (p *Pipeline) Upload(ctx context.Context, shards []artifact.Shard) (runID, runURI string, err error) {
	if p.artifacts == nil {
		return "", "", fmt.Errorf("artifact service is not configured")
	}

	runID = artifact.NewRunID()
	runURI, err = p.artifacts.UploadShards(ctx, runID, shards)
	if err != nil {
		return "", "", fmt.Errorf("upload shards: %w", err)
	}
	return runID, runURI, nil
}

// Train submits the tuning job over the staged run and waits for the tuned
// model.
func (p *Pipeline) Train(ctx context.Context, jobName, runURI string) (*tuning.TunedModel, error) {
	if p.tuner == nil {
		return nil, fmt.Errorf("tuning service is not configured")
	}

	config := tuning.NewConfig(runURI)
	config.SourceModel = p.cfg.SourceModel

	if _, err := p.tuner.CreateJob(ctx, jobName, config); err != nil {
		return nil, fmt.Errorf("create tuning job: %w", err)
	}
	if err := p.tuner.WaitForCompletion(ctx, jobName, p.cfg.JobTimeout); err != nil {
		return nil, err
	}

	return p.tuner.TunedModel(ctx, jobName)
}

// Deploy serves the tuned model on a prediction endpoint.
func (p *Pipeline) Deploy(ctx context.Context, model *tuning.TunedModel) (*endpoint.Endpoint, error) {
	if p.endpoints == nil {
		return nil, fmt.Errorf("endpoint service is not configured")
	}

	return p.endpoints.Deploy(ctx, &endpoint.DeployRequest{
		EndpointID:  p.cfg.EndpointID,
		ModelURI:    model.ModelURI,
		SourceModel: model.SourceModel,
	})
}

// Query summarizes a dialogue through the deployed endpoint.
func (p *Pipeline) Query(ctx context.Context, endpointName, dialogue string) (string, error) {
	if p.endpoints == nil {
		return "", fmt.Errorf("endpoint service is not configured")
	}

	text, err := p.builder.InferenceText(dialogue)
	if err != nil {
		return "", err
	}

	resp, err := p.endpoints.Predict(ctx, endpointName, &endpoint.PredictRequest{
		Prompt:       text,
		MaxNewTokens: 128,
	})
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	return resp.Text, nil
}

// QueryBaseline summarizes a dialogue through the untuned foundation model,
// using the same inference prompt as Query, so the two outputs can be
// compared side by side.
func (p *Pipeline) QueryBaseline(ctx context.Context, dialogue string) (string, error) {
	if p.baseline == nil {
		return "", fmt.Errorf("baseline client is not configured")
	}

	text, err := p.builder.InferenceText(dialogue)
	if err != nil {
		return "", err
	}

	out, err := p.baseline.Generate(ctx, text, &endpoint.PredictRequest{
		MaxNewTokens: 128,
	})
	if err != nil {
		return "", fmt.Errorf("baseline generate: %w", err)
	}
	return out, nil
}

// Teardown deletes the endpoint and the staged training data.
func (p *Pipeline) Teardown(ctx context.Context, endpointName, runID string) error {
	if endpointName != "" && p.endpoints != nil {
		if err := p.endpoints.DeleteEndpoint(ctx, endpointName); err != nil {
			return fmt.Errorf("delete endpoint: %w", err)
		}
	}
	if runID != "" && p.artifacts != nil {
		if _, err := p.artifacts.DeleteRun(ctx, runID); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
	}
	return nil
}

// RunResult is the outcome of a full pipeline run.
type RunResult struct {
	RunID    string
	RunURI   string
	JobName  string
	Model    *tuning.TunedModel
	Endpoint *endpoint.Endpoint
	Sample   string
}

// Run executes every stage in order. The endpoint and staged data are left
// in place for querying; call Teardown when done.
func (p *Pipeline) Run(ctx context.Context, jobName string) (*RunResult, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	prepared, err := p.Prepare(ctx)
	if err != nil {
		return nil, err
	}

	runID, runURI, err := p.Upload(ctx, prepared.Shards)
	if err != nil {
		return nil, err
	}

	model, err := p.Train(ctx, jobName, runURI)
	if err != nil {
		return nil, err
	}

	ep, err := p.Deploy(ctx, model)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		RunID:    runID,
		RunURI:   runURI,
		JobName:  jobName,
		Model:    model,
		Endpoint: ep,
	}

	if len(prepared.TestRecords) > 0 {
		sample, err := p.Query(ctx, ep.Name, prepared.TestRecords[0].Dialogue)
		if err != nil {
			return result, fmt.Errorf("sample query: %w", err)
		}
		result.Sample = sample
	}

	return result, nil
}
