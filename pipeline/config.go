// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"time"

	"github.com/go-peft/peft-go/tuning"
)

// Config holds the settings for a pipeline run.
type Config struct {
	// ProjectID is the Google Cloud project ID
	ProjectID string `json:"project_id"`

	// Location is the Google Cloud region
	Location string `json:"location"`

	// Bucket is the GCS bucket for staged training data
	Bucket string `json:"bucket"`

	// DatasetPath is the local path of the dialogue dataset (JSON Lines)
	DatasetPath string `json:"dataset_path"`

	// BlockSize is the packed block length in tokens
	BlockSize int `json:"block_size"`

	// TestFraction is the fraction of records held out for evaluation
	TestFraction float64 `json:"test_fraction"`

	// BlocksPerShard is the number of blocks per uploaded shard
	BlocksPerShard int `json:"blocks_per_shard"`

	// SourceModel is the base model to fine-tune
	SourceModel string `json:"source_model"`

	// EndpointID is the short identifier of the serving endpoint
	EndpointID string `json:"endpoint_id"`

	// Seed drives the train/test shuffle
	Seed int64 `json:"seed"`

	// JobTimeout bounds the wait for the tuning job
	JobTimeout time.Duration `json:"job_timeout"`
}

// DefaultConfig returns a configuration with the standard defaults.
func DefaultConfig() *Config {
	return &Config{
		Location:       "us-central1",
		BlockSize:      1536,
		TestFraction:   0.1,
		BlocksPerShard: 256,
		SourceModel:    tuning.DefaultSourceModel,
		EndpointID:     "bloomz-summarizer",
		Seed:           42,
		JobTimeout:     6 * time.Hour,
	}
}

// Validate checks the configuration for a full pipeline run.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project ID is required")
	}
	if c.Location == "" {
		return fmt.Errorf("location is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	if c.DatasetPath == "" {
		return fmt.Errorf("dataset path is required")
	}
	return c.ValidatePrepare()
}

// ValidatePrepare checks only the settings the prepare stage needs.
func (c *Config) ValidatePrepare() error {
	if c.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive")
	}
	if c.TestFraction < 0 || c.TestFraction >= 1 {
		return fmt.Errorf("test fraction must be in [0, 1)")
	}
	if c.BlocksPerShard <= 0 {
		return fmt.Errorf("blocks per shard must be positive")
	}
	if c.SourceModel == "" {
		return fmt.Errorf("source model is required")
	}
	return nil
}
