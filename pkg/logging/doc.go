// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging carries a [log/slog.Logger] through context.Context.
//
// The pipeline stages and services all log through slog; storing the logger
// in the context lets a command configure one logger up front and have it
// reach every stage it invokes.
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
//	ctx = logging.NewContext(ctx, logger)
//
//	logging.FromContext(ctx).Info("run staged", "shards", n)
package logging
