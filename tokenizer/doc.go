// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenizer encodes prompt text into token IDs for block packing.
//
// The BPE implementation is backed by tiktoken encodings. The packer only
// needs token IDs and an all-ones attention mask; padding and loss masking
// are the training framework's concern.
package tokenizer
