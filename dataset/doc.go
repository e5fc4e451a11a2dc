// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package dataset loads dialogue-summarization records for fine-tuning.
//
// The expected input is JSON Lines: one object per line with "dialogue" and
// "summary" fields (an optional "id" is preserved when present). Records can
// be filtered, deterministically shuffled, and split into train/test sets
// before prompt rendering and tokenization.
package dataset
