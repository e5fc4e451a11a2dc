// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	// DefaultPrefix is the object prefix under which runs are staged.
	DefaultPrefix = "peft-runs"

	// shardContentType is the content type of uploaded shards (JSON Lines).
	shardContentType = "application/jsonl"

	// uploadConcurrency bounds parallel shard uploads.
	uploadConcurrency = 4
)

// Shard is a named blob of encoded training blocks ready for upload.
type Shard struct {
	// Name is the object basename, e.g. "train-00001.jsonl".
	Name string

	// Data is the JSON Lines payload.
	Data []byte
}

// Service stages training shards in a GCS bucket.
type Service struct {
	client     *storage.Client
	bucket     *storage.BucketHandle
	bucketName string
	prefix     string
	logger     *slog.Logger
}

// ServiceOption is a functional option for configuring the Service.
type ServiceOption func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPrefix overrides the object prefix under which runs are staged.
func WithPrefix(prefix string) ServiceOption {
	return func(s *Service) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// NewService creates a new [Service] for the given bucket. It uses
// Application Default Credentials for authentication.
func NewService(ctx context.Context, bucketName string, opts ...ServiceOption) (*Service, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes: []string{
			storage.ScopeFullControl,
			storage.ScopeReadWrite,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get credentials for storage: %w", err)
	}

	client, err := storage.NewGRPCClient(ctx, option.WithAuthCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	service := &Service{
		client:     client,
		bucket:     client.Bucket(bucketName),
		bucketName: bucketName,
		prefix:     DefaultPrefix,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// NewRunID mints a run identifier for a fresh preparation run.
func NewRunID() string {
	return uuid.NewString()
}

// RunURI returns the gs:// URI of a run's staged shards.
func (s *Service) RunURI(runID string) string {
	return fmt.Sprintf("gs://%s/%s/%s", s.bucketName, s.prefix, runID)
}

// objectName constructs the object name of a shard within a run.
func (s *Service) objectName(runID, shardName string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, runID, shardName)
}

// UploadShard uploads a single shard and returns its gs:// URI.
func (s *Service) UploadShard(ctx context.Context, runID string, shard Shard) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run ID is required")
	}
	if shard.Name == "" {
		return "", fmt.Errorf("shard name is required")
	}

	blob := s.bucket.Object(s.objectName(runID, shard.Name))
	w := blob.NewWriter(ctx)
	w.ContentType = shardContentType

	if _, err := io.Copy(w, bytes.NewReader(shard.Data)); err != nil {
		w.Close()
		return "", fmt.Errorf("write shard %s: %w", shard.Name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize shard %s: %w", shard.Name, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucketName, blob.ObjectName())
	s.logger.InfoContext(ctx, "Uploaded shard",
		slog.String("uri", uri),
		slog.Int("bytes", len(shard.Data)),
	)
	return uri, nil
}

// UploadShards uploads shards concurrently and returns the run URI. Upload
// order is not significant; shard names keep the blocks addressable.
func (s *Service) UploadShards(ctx context.Context, runID string, shards []Shard) (string, error) {
	if len(shards) == 0 {
		return "", fmt.Errorf("no shards to upload")
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(uploadConcurrency)

	for _, shard := range shards {
		eg.Go(func() error {
			_, err := s.UploadShard(ctx, runID, shard)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return "", fmt.Errorf("upload run %s: %w", runID, err)
	}

	uri := s.RunURI(runID)
	s.logger.InfoContext(ctx, "Run staged",
		slog.String("run_id", runID),
		slog.String("uri", uri),
		slog.Int("shards", len(shards)),
	)
	return uri, nil
}

// ListShards returns the shard names staged for a run, sorted.
func (s *Service) ListShards(ctx context.Context, runID string) ([]string, error) {
	prefix := fmt.Sprintf("%s/%s/", s.prefix, runID)
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		objAttrs, err := it.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("list run %s: %w", runID, err)
		}
		names = append(names, strings.TrimPrefix(objAttrs.Name, prefix))
	}
	sort.Strings(names)

	return names, nil
}

// Download fetches a staged shard back from the bucket.
func (s *Service) Download(ctx context.Context, runID, shardName string) ([]byte, error) {
	blob := s.bucket.Object(s.objectName(runID, shardName))
	r, err := blob.NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("open shard %s: %w", shardName, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read shard %s: %w", shardName, err)
	}
	return data, nil
}

// DeleteRun removes every staged shard of a run and reports how many objects
// were deleted.
func (s *Service) DeleteRun(ctx context.Context, runID string) (int, error) {
	names, err := s.ListShards(ctx, runID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, name := range names {
		blob := s.bucket.Object(s.objectName(runID, name))
		if err := blob.Delete(ctx); err != nil {
			return deleted, fmt.Errorf("delete shard %s: %w", name, err)
		}
		deleted++
	}

	s.logger.InfoContext(ctx, "Run deleted",
		slog.String("run_id", runID),
		slog.Int("objects", deleted),
	)
	return deleted, nil
}

// Close closes the underlying storage client.
func (s *Service) Close() error {
	return s.client.Close()
}
