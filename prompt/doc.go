// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package prompt renders training and inference prompts for causal-LM
// fine-tuning.
//
// Templates use simple {variable} substitution. The default template frames
// dialogue summarization: the dialogue and reference summary are spliced
// into a fixed instruction scaffold, and training texts are terminated with
// an end-of-sequence marker so example boundaries survive block packing.
package prompt
