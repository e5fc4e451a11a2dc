// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/genai"
)

const (
	// EnvGoogleAPIKey is the environment variable name for the Google API key.
	EnvGoogleAPIKey = "GOOGLE_API_KEY"

	// DefaultBaselineModel is the untuned model used for comparisons.
	DefaultBaselineModel = "gemini-2.0-flash"
)

// Baseline queries an untuned foundation model so tuned-endpoint output can
// be compared against it.
type Baseline struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// BaselineOption is a functional option for configuring Baseline.
type BaselineOption func(*Baseline)

// WithBaselineModel overrides the comparison model.
func WithBaselineModel(model string) BaselineOption {
	return func(b *Baseline) {
		b.model = model
	}
}

// WithBaselineLogger sets a custom logger.
func WithBaselineLogger(logger *slog.Logger) BaselineOption {
	return func(b *Baseline) {
		b.logger = logger
	}
}

// NewBaseline creates a baseline client. If apiKey is empty the
// [EnvGoogleAPIKey] environment variable is used.
func NewBaseline(ctx context.Context, apiKey string, opts ...BaselineOption) (*Baseline, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvGoogleAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("either apiKey arg or %q environment variable must be set", EnvGoogleAPIKey)
		}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	baseline := &Baseline{
		client: client,
		model:  DefaultBaselineModel,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(baseline)
	}

	return baseline, nil
}

// Generate runs the prompt through the baseline model and returns the
// completion text.
func (b *Baseline) Generate(ctx context.Context, prompt string, req *PredictRequest) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	config := generateConfig(req)

	b.logger.InfoContext(ctx, "Querying baseline model",
		slog.String("model", b.model),
		slog.Int("prompt_chars", len(prompt)),
	)

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	return resp.Text(), nil
}

// generateConfig maps a predict request onto genai generation settings.
// Unset fields are left to the model defaults.
func generateConfig(req *PredictRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req == nil {
		return config
	}
	if req.MaxNewTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxNewTokens)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.TopP))
	}
	return config
}
