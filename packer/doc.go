// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package packer concatenates tokenized training examples and slices them
// into fixed-length blocks for causal language-model training.
//
// Packing maximizes accelerator utilization: instead of padding each example
// to the block length, consecutive examples are concatenated (in order) and
// the stream is cut into blocks of exactly the configured length. The
// trailing partial block of each batch is carried over and prepended to the
// next batch, so no tokens are lost between batches; only the tokens still
// held in the remainder when the dataset is exhausted go unused.
//
// Labels of each emitted block are a copy of its input IDs. Shifting labels
// by one position for next-token prediction is the training framework's
// responsibility, not the packer's.
//
// # Usage
//
//	p, err := packer.New(1536)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for batch := range batches {
//		blocks := p.Pack(batch)
//		// write blocks to a shard
//	}
//	// tokens still in p.Remainder() are intentionally dropped
//
// Packer is not safe for concurrent use; feed it from a single goroutine.
package packer
