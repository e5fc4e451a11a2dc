// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package peft is a Go toolkit for parameter-efficient fine-tuning pipelines:
// preparing causal-LM training data, staging it in object storage, driving a
// managed tuning job, and serving the tuned model from a hosted endpoint.
package peft

// Version is the version of the PEFT pipeline toolkit.
var Version = "v0.0.0"
