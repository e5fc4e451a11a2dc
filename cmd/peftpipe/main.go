// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Command peftpipe drives the dialogue-summarization fine-tuning workflow:
// packing the dataset, staging it, running the tuning job, and serving the
// tuned model.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/go-peft/peft-go/artifact"
	"github.com/go-peft/peft-go/endpoint"
	"github.com/go-peft/peft-go/pipeline"
	"github.com/go-peft/peft-go/pkg/logging"
	"github.com/go-peft/peft-go/tuning"
)

var (
	projectID    string
	location     string
	bucket       string
	datasetPath  string
	blockSize    int
	testFraction float64
	sourceModel  string
	endpointID   string
	seed         int64
	jobTimeout   time.Duration
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "peftpipe",
	Short: "Fine-tune a dialogue summarizer with LoRA adapters",
	Long: heredoc.Doc(`
		peftpipe packs a chat-dialogue dataset into fixed-length token blocks,
		stages the blocks in Cloud Storage, runs a parameter-efficient tuning
		job over them, and deploys the tuned model behind a prediction
		endpoint.

		Each stage is also available as its own subcommand so a run can be
		resumed or inspected midway.`),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
		cmd.SetContext(logging.NewContext(cmd.Context(), logger))
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&projectID, "project", os.Getenv("GOOGLE_CLOUD_PROJECT"), "Google Cloud project ID")
	pf.StringVar(&location, "location", "us-central1", "Google Cloud region")
	pf.StringVar(&bucket, "bucket", "", "GCS bucket for staged training data")
	pf.StringVar(&datasetPath, "dataset", "", "path to the dialogue dataset (JSON Lines)")
	pf.IntVar(&blockSize, "block-size", 1536, "packed block length in tokens")
	pf.Float64Var(&testFraction, "test-fraction", 0.1, "fraction of records held out for evaluation")
	pf.StringVar(&sourceModel, "source-model", tuning.DefaultSourceModel, "base model to fine-tune")
	pf.StringVar(&endpointID, "endpoint-id", "bloomz-summarizer", "identifier for the serving endpoint")
	pf.Int64Var(&seed, "seed", 42, "seed for the train/test shuffle")
	pf.DurationVar(&jobTimeout, "job-timeout", 6*time.Hour, "maximum wait for the tuning job")
	pf.BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(prepareCmd, uploadCmd, trainCmd, deployCmd, queryCmd, teardownCmd, runCmd)
}

func buildConfig() *pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.ProjectID = projectID
	cfg.Location = location
	cfg.Bucket = bucket
	cfg.DatasetPath = datasetPath
	cfg.BlockSize = blockSize
	cfg.TestFraction = testFraction
	cfg.SourceModel = sourceModel
	cfg.EndpointID = endpointID
	cfg.Seed = seed
	cfg.JobTimeout = jobTimeout
	return cfg
}

// newPipeline builds a pipeline carrying the command's logger.
func newPipeline(cmd *cobra.Command, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	opts = append(opts, pipeline.WithLogger(logging.FromContext(cmd.Context())))
	return pipeline.New(buildConfig(), opts...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var prepareOut string

var prepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Pack the dataset into training shards on disk",
	Long: heredoc.Doc(`
		Loads the dialogue dataset, renders each record into the
		summarization prompt, tokenizes and packs the training split into
		fixed-length blocks, and writes the resulting JSON Lines shards to
		the output directory.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPipeline(cmd)
		if err != nil {
			return err
		}

		result, err := p.Prepare(cmd.Context())
		if err != nil {
			return err
		}

		if err := os.MkdirAll(prepareOut, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		for _, shard := range result.Shards {
			path := filepath.Join(prepareOut, shard.Name)
			if err := os.WriteFile(path, shard.Data, 0o644); err != nil {
				return fmt.Errorf("write shard %s: %w", shard.Name, err)
			}
		}

		fmt.Printf("Packed %d records into %d blocks across %d shards (%d tokens dropped)\n",
			result.Records, result.Blocks, len(result.Shards), result.DroppedTokens)
		fmt.Printf("Shards written to %s\n", prepareOut)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Pack the dataset and stage the shards in Cloud Storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		artifacts, err := artifact.NewService(ctx, bucket)
		if err != nil {
			return err
		}
		defer artifacts.Close()

		p, err := newPipeline(cmd, pipeline.WithArtifactService(artifacts))
		if err != nil {
			return err
		}

		result, err := p.Prepare(ctx)
		if err != nil {
			return err
		}
		runID, runURI, err := p.Upload(ctx, result.Shards)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s staged at %s (%d shards)\n", runID, runURI, len(result.Shards))
		return nil
	},
}

var (
	trainRunURI  string
	trainJobName string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Submit the tuning job and wait for the tuned model",
	RunE: func(cmd *cobra.Command, args []string) error {
		if trainRunURI == "" {
			return fmt.Errorf("--run-uri is required")
		}
		ctx := cmd.Context()

		tuner, err := tuning.NewService(ctx, projectID, location)
		if err != nil {
			return err
		}
		defer tuner.Close()

		p, err := newPipeline(cmd, pipeline.WithTuningService(tuner))
		if err != nil {
			return err
		}

		model, err := p.Train(ctx, trainJobName, trainRunURI)
		if err != nil {
			return err
		}

		fmt.Printf("Tuned model %s at %s\n", model.Name, model.ModelURI)
		return nil
	},
}

var (
	deployModelURI string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy tuned adapter weights behind a prediction endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deployModelURI == "" {
			return fmt.Errorf("--model-uri is required")
		}
		ctx := cmd.Context()

		endpoints, err := endpoint.NewService(ctx, projectID, location)
		if err != nil {
			return err
		}
		defer endpoints.Close()

		p, err := newPipeline(cmd, pipeline.WithEndpointService(endpoints))
		if err != nil {
			return err
		}

		ep, err := p.Deploy(ctx, &tuning.TunedModel{
			ModelURI:    deployModelURI,
			SourceModel: sourceModel,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Endpoint %s is %s\n", ep.Name, ep.State)
		return nil
	},
}

var (
	queryEndpoint string
	queryDialogue string
	queryBaseline bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Summarize a dialogue through the deployed endpoint",
	Long: heredoc.Doc(`
		Renders the dialogue into the inference prompt and sends it to the
		endpoint. Reads the dialogue from --dialogue, or from stdin when the
		flag is empty.

		With --baseline the same prompt is also sent to the untuned
		foundation model so the two summaries can be compared. The baseline
		uses the GOOGLE_API_KEY environment variable.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dialogue := queryDialogue
		if dialogue == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read dialogue from stdin: %w", err)
			}
			dialogue = string(data)
		}
		if dialogue == "" {
			return fmt.Errorf("a dialogue is required")
		}

		endpoints, err := endpoint.NewService(ctx, projectID, location)
		if err != nil {
			return err
		}
		defer endpoints.Close()

		opts := []pipeline.Option{pipeline.WithEndpointService(endpoints)}
		if queryBaseline {
			baseline, err := endpoint.NewBaseline(ctx, "")
			if err != nil {
				return err
			}
			opts = append(opts, pipeline.WithBaseline(baseline))
		}

		p, err := newPipeline(cmd, opts...)
		if err != nil {
			return err
		}

		summary, err := p.Query(ctx, queryEndpoint, dialogue)
		if err != nil {
			return err
		}

		if queryBaseline {
			base, err := p.QueryBaseline(ctx, dialogue)
			if err != nil {
				return err
			}
			fmt.Printf("Tuned:    %s\n", summary)
			fmt.Printf("Baseline: %s\n", base)
			return nil
		}

		fmt.Println(summary)
		return nil
	},
}

var (
	teardownEndpoint string
	teardownRunID    string
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Delete the endpoint and the staged training data",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := []pipeline.Option{}
		if teardownEndpoint != "" {
			endpoints, err := endpoint.NewService(ctx, projectID, location)
			if err != nil {
				return err
			}
			defer endpoints.Close()
			opts = append(opts, pipeline.WithEndpointService(endpoints))
		}
		if teardownRunID != "" {
			artifacts, err := artifact.NewService(ctx, bucket)
			if err != nil {
				return err
			}
			defer artifacts.Close()
			opts = append(opts, pipeline.WithArtifactService(artifacts))
		}

		p, err := newPipeline(cmd, opts...)
		if err != nil {
			return err
		}

		if err := p.Teardown(ctx, teardownEndpoint, teardownRunID); err != nil {
			return err
		}

		fmt.Println("Teardown complete")
		return nil
	},
}

var runJobName string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the full pipeline end to end",
	Long: heredoc.Doc(`
		Runs prepare, upload, train, deploy, and a sample query in order.
		The endpoint and staged data are left running; use teardown to
		remove them.`),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		artifacts, err := artifact.NewService(ctx, bucket)
		if err != nil {
			return err
		}
		defer artifacts.Close()

		tuner, err := tuning.NewService(ctx, projectID, location)
		if err != nil {
			return err
		}
		defer tuner.Close()

		endpoints, err := endpoint.NewService(ctx, projectID, location)
		if err != nil {
			return err
		}
		defer endpoints.Close()

		p, err := newPipeline(cmd,
			pipeline.WithArtifactService(artifacts),
			pipeline.WithTuningService(tuner),
			pipeline.WithEndpointService(endpoints),
		)
		if err != nil {
			return err
		}

		result, err := p.Run(ctx, runJobName)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s staged at %s\n", result.RunID, result.RunURI)
		fmt.Printf("Tuned model: %s\n", result.Model.ModelURI)
		fmt.Printf("Endpoint: %s\n", result.Endpoint.Name)
		if result.Sample != "" {
			fmt.Printf("Sample summary: %s\n", result.Sample)
		}
		return nil
	},
}

func init() {
	prepareCmd.Flags().StringVar(&prepareOut, "out", "shards", "output directory for packed shards")

	trainCmd.Flags().StringVar(&trainRunURI, "run-uri", "", "gs:// URI of the staged training run")
	trainCmd.Flags().StringVar(&trainJobName, "job-name", "bloomz-lora", "name for the tuning job")

	deployCmd.Flags().StringVar(&deployModelURI, "model-uri", "", "gs:// URI of the tuned adapter weights")

	queryCmd.Flags().StringVar(&queryEndpoint, "endpoint", "", "fully qualified endpoint resource name")
	queryCmd.Flags().StringVar(&queryDialogue, "dialogue", "", "dialogue text to summarize")
	queryCmd.Flags().BoolVar(&queryBaseline, "baseline", false, "also query the untuned foundation model for comparison")

	teardownCmd.Flags().StringVar(&teardownEndpoint, "endpoint", "", "fully qualified endpoint resource name")
	teardownCmd.Flags().StringVar(&teardownRunID, "run-id", "", "staged run to delete")

	runCmd.Flags().StringVar(&runJobName, "job-name", "bloomz-lora", "name for the tuning job")
}
