// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package tuning

import (
	"time"
)

// Method represents the fine-tuning method to use.
type Method string

const (
	MethodLoRA  Method = "lora"
	MethodQLoRA Method = "qlora"
	MethodFull  Method = "full_fine_tuning"
)

// JobState represents the state of a tuning job.
type JobState string

const (
	StateQueued    JobState = "QUEUED"
	StateRunning   JobState = "RUNNING"
	StateSucceeded JobState = "SUCCEEDED"
	StateFailed    JobState = "FAILED"
	StateCancelled JobState = "CANCELLED"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// DataSourceType represents the type of training data source.
type DataSourceType string

const (
	DataSourceGCS   DataSourceType = "gcs"
	DataSourceLocal DataSourceType = "local"
)

// DataSource points at the staged training shards for a job.
type DataSource struct {
	// Type is the data source type
	Type DataSourceType `json:"type"`

	// URI is the source location (gs://bucket/prefix/run or a local path)
	URI string `json:"uri"`
}

// LoRAConfig represents LoRA adapter configuration.
type LoRAConfig struct {
	// Rank is the rank of the low-rank decomposition
	Rank int `json:"rank"`

	// Alpha is the LoRA scaling parameter
	Alpha int `json:"alpha"`

	// DropoutRate is the dropout applied to the adapter layers
	DropoutRate float64 `json:"dropout_rate"`

	// TargetModules are the model modules to attach adapters to
	TargetModules []string `json:"target_modules"`

	// TaskType is the modeling task, e.g. "CAUSAL_LM"
	TaskType string `json:"task_type,omitempty"`
}

// QuantizationConfig represents base-model quantization for QLoRA.
type QuantizationConfig struct {
	// LoadIn8Bit indicates whether to load the base model in 8-bit
	LoadIn8Bit bool `json:"load_in_8bit"`

	// LoadIn4Bit indicates whether to load the base model in 4-bit
	LoadIn4Bit bool `json:"load_in_4bit"`

	// ComputeDtype is the compute dtype used with quantized weights
	ComputeDtype string `json:"compute_dtype,omitempty"`
}

// Hyperparameters represents training hyperparameters.
type Hyperparameters struct {
	// LearningRate is the peak learning rate
	LearningRate float64 `json:"learning_rate"`

	// BatchSize is the per-device training batch size
	BatchSize int `json:"batch_size"`

	// GradientAccumulation is the number of steps to accumulate gradients
	GradientAccumulation int `json:"gradient_accumulation,omitempty"`

	// Epochs is the number of training epochs
	Epochs int `json:"epochs"`

	// WarmupRatio is the fraction of steps spent warming up
	WarmupRatio float64 `json:"warmup_ratio,omitempty"`

	// LoggingSteps is the number of steps between log lines
	LoggingSteps int `json:"logging_steps,omitempty"`
}

// ResourceConfig represents compute resource configuration for a job.
type ResourceConfig struct {
	// MachineType is the machine type for training
	MachineType string `json:"machine_type,omitempty"`

	// AcceleratorType is the accelerator type
	AcceleratorType string `json:"accelerator_type,omitempty"`

	// AcceleratorCount is the number of accelerators
	AcceleratorCount int `json:"accelerator_count,omitempty"`

	// DiskSizeGB is the boot disk size in GB
	DiskSizeGB int `json:"disk_size_gb,omitempty"`
}

// Config represents the complete configuration of a tuning job.
type Config struct {
	// SourceModel is the base model to fine-tune
	SourceModel string `json:"source_model"`

	// Method is the fine-tuning method
	Method Method `json:"method"`

	// TrainingData points at the packed training shards
	TrainingData *DataSource `json:"training_data"`

	// Hyperparameters for the trainer
	Hyperparameters *Hyperparameters `json:"hyperparameters,omitempty"`

	// LoRA adapter configuration, required for lora and qlora
	LoRA *LoRAConfig `json:"lora,omitempty"`

	// Quantization for the base model, required for qlora
	Quantization *QuantizationConfig `json:"quantization,omitempty"`

	// Resources for the training machine
	Resources *ResourceConfig `json:"resources,omitempty"`

	// OutputURI is where the tuned adapter weights are written
	OutputURI string `json:"output_uri,omitempty"`

	// DisplayName is the human-readable job name
	DisplayName string `json:"display_name,omitempty"`

	// Labels for organization
	Labels map[string]string `json:"labels,omitempty"`
}

// Job represents a fine-tuning job.
type Job struct {
	// Name is the unique identifier
	Name string `json:"name"`

	// DisplayName is the human-readable name
	DisplayName string `json:"display_name"`

	// State is the current job state
	State JobState `json:"state"`

	// Config is the tuning configuration
	Config *Config `json:"config"`

	// CreateTime is when the job was created
	CreateTime time.Time `json:"create_time"`

	// StartTime is when the job started
	StartTime time.Time `json:"start_time,omitzero"`

	// EndTime is when the job reached a terminal state
	EndTime time.Time `json:"end_time,omitzero"`

	// UpdateTime is when the job was last updated
	UpdateTime time.Time `json:"update_time"`

	// TunedModel is the resulting model, set once the job succeeds
	TunedModel *TunedModel `json:"tuned_model,omitempty"`

	// Progress contains training progress information
	Progress *Progress `json:"progress,omitempty"`

	// Error contains error information if the job failed
	Error string `json:"error,omitempty"`

	// Labels for organization
	Labels map[string]string `json:"labels,omitempty"`
}

// TunedModel represents a fine-tuned model produced by a job.
type TunedModel struct {
	// Name is the model identifier
	Name string `json:"name"`

	// DisplayName is the human-readable name
	DisplayName string `json:"display_name"`

	// SourceModel is the base model that was fine-tuned
	SourceModel string `json:"source_model"`

	// Method is the method used for fine-tuning
	Method Method `json:"method"`

	// ModelURI is the location of the adapter weights
	ModelURI string `json:"model_uri"`

	// CreateTime is when the model was created
	CreateTime time.Time `json:"create_time"`

	// Metrics contains final evaluation metrics
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Progress represents training progress information.
type Progress struct {
	// CurrentEpoch is the current training epoch
	CurrentEpoch int `json:"current_epoch"`

	// TotalEpochs is the total number of epochs
	TotalEpochs int `json:"total_epochs"`

	// TrainingLoss is the most recent training loss
	TrainingLoss float64 `json:"training_loss"`

	// LearningRate is the current learning rate
	LearningRate float64 `json:"learning_rate"`

	// Elapsed is the time since training started
	Elapsed time.Duration `json:"elapsed"`

	// LastUpdateTime is when progress was last updated
	LastUpdateTime time.Time `json:"last_update_time"`
}

// ListOptions defines options for listing tuning jobs.
type ListOptions struct {
	// State filters jobs to those in the given state
	State JobState `json:"state,omitempty"`

	// PageSize limits the number of results
	PageSize int `json:"page_size,omitempty"`
}

// DefaultSourceModel is the base model fine-tuned when none is configured.
const DefaultSourceModel = "bigscience/bloomz-7b1"

// NewBloomzLoRAConfig returns the LoRA configuration used for BLOOMZ models.
// The attention projection in BLOOM is a single fused query_key_value module.
func NewBloomzLoRAConfig() *LoRAConfig {
	return &LoRAConfig{
		Rank:          16,
		Alpha:         32,
		DropoutRate:   0.05,
		TargetModules: []string{"query_key_value"},
		TaskType:      "CAUSAL_LM",
	}
}

// NewInt8Quantization returns a quantization configuration that loads the
// base model in 8-bit.
func NewInt8Quantization() *QuantizationConfig {
	return &QuantizationConfig{
		LoadIn8Bit:   true,
		ComputeDtype: "float16",
	}
}

// NewHyperparameters returns the default training hyperparameters.
func NewHyperparameters() *Hyperparameters {
	return &Hyperparameters{
		LearningRate:         2e-4,
		BatchSize:            2,
		GradientAccumulation: 4,
		Epochs:               3,
		WarmupRatio:          0.03,
		LoggingSteps:         10,
	}
}

// NewConfig creates a tuning configuration for a QLoRA run of the default
// source model over the given training data URI.
func NewConfig(trainingURI string) *Config {
	return &Config{
		SourceModel: DefaultSourceModel,
		Method:      MethodQLoRA,
		TrainingData: &DataSource{
			Type: DataSourceGCS,
			URI:  trainingURI,
		},
		Hyperparameters: NewHyperparameters(),
		LoRA:            NewBloomzLoRAConfig(),
		Quantization:    NewInt8Quantization(),
		Resources: &ResourceConfig{
			MachineType:      "g2-standard-12",
			AcceleratorType:  "NVIDIA_L4",
			AcceleratorCount: 1,
			DiskSizeGB:       200,
		},
		Labels: make(map[string]string),
	}
}
