// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package endpoint deploys tuned models and serves summarization queries.
//
// The Service creates managed prediction endpoints for tuned adapter
// weights, routes inference requests to them, and tears them down when the
// experiment is over. A Baseline client is also provided for comparing the
// tuned model's summaries against an untuned foundation model.
package endpoint
