// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package tuning manages parameter-efficient fine-tuning jobs.
//
// The Service submits and tracks LoRA and QLoRA jobs against staged training
// data, polls them to completion, and hands back the tuned model reference.
// A LocalRunner is also provided that executes a single training run in a
// Docker container, useful for validating a configuration before committing
// GPU hours to a managed job.
package tuning
