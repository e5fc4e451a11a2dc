// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline orchestrates the fine-tuning workflow end to end.
//
// The stages are: prepare (load, filter, prompt, tokenize, and pack the
// dialogue dataset into fixed-length blocks), upload (stage the packed
// shards), train (submit the tuning job and wait for it), deploy (serve the
// tuned model), query (summarize a dialogue through the endpoint), and
// teardown (delete the endpoint and staged data).
package pipeline
