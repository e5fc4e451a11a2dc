// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"time"
)

// State represents the lifecycle state of an endpoint.
type State string

const (
	StateCreating State = "CREATING"
	StateActive   State = "ACTIVE"
	StateDeleting State = "DELETING"
	StateFailed   State = "FAILED"
)

// Endpoint represents a deployed model endpoint.
type Endpoint struct {
	// Name is the fully qualified endpoint resource name
	Name string `json:"name"`

	// DisplayName is the human-readable name
	DisplayName string `json:"display_name"`

	// ModelURI is the location of the deployed adapter weights
	ModelURI string `json:"model_uri"`

	// SourceModel is the base model the adapter was trained from
	SourceModel string `json:"source_model"`

	// State is the current endpoint state
	State State `json:"state"`

	// MachineType is the serving machine type
	MachineType string `json:"machine_type"`

	// MinReplicas is the minimum number of serving replicas
	MinReplicas int `json:"min_replicas"`

	// MaxReplicas is the maximum number of serving replicas
	MaxReplicas int `json:"max_replicas"`

	// CreateTime is when the endpoint was created
	CreateTime time.Time `json:"create_time"`

	// UpdateTime is when the endpoint was last updated
	UpdateTime time.Time `json:"update_time"`
}

// DeployRequest configures a model deployment.
type DeployRequest struct {
	// EndpointID is the short identifier for the endpoint
	EndpointID string `json:"endpoint_id"`

	// ModelURI is the location of the tuned adapter weights
	ModelURI string `json:"model_uri"`

	// SourceModel is the base model the adapter was trained from
	SourceModel string `json:"source_model"`

	// MachineType is the serving machine type
	MachineType string `json:"machine_type,omitempty"`

	// MinReplicas is the minimum number of serving replicas
	MinReplicas int `json:"min_replicas,omitempty"`

	// MaxReplicas is the maximum number of serving replicas
	MaxReplicas int `json:"max_replicas,omitempty"`
}

// PredictRequest is a summarization inference request.
type PredictRequest struct {
	// Prompt is the fully rendered inference prompt
	Prompt string `json:"prompt"`

	// MaxNewTokens caps the generated completion length
	MaxNewTokens int `json:"max_new_tokens,omitempty"`

	// Temperature controls sampling randomness
	Temperature float64 `json:"temperature,omitempty"`

	// TopP is the nucleus sampling threshold
	TopP float64 `json:"top_p,omitempty"`
}

// PredictResponse is the result of a summarization inference request.
type PredictResponse struct {
	// Text is the generated completion
	Text string `json:"text"`

	// Endpoint is the endpoint that served the request
	Endpoint string `json:"endpoint"`

	// Latency is the serving round trip time
	Latency time.Duration `json:"latency"`
}

// ListOptions defines options for listing endpoints.
type ListOptions struct {
	// State filters endpoints to those in the given state
	State State `json:"state,omitempty"`
}
