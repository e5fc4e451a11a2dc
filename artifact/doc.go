// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact stages training shards in Google Cloud Storage.
//
// Each preparation run gets a UUID-based run ID; its shards live under
// <prefix>/<run-id>/ in the configured bucket and the whole run can be
// listed, downloaded, or deleted (teardown) as a unit. The run URI
// (gs://bucket/prefix/run-id) is what the tuning job consumes as its
// training data source.
package artifact
