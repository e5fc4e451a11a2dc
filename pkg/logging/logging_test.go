// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestFromContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := NewContext(t.Context(), logger)
	FromContext(ctx).Info("staged", slog.Int("shards", 3))

	if !strings.Contains(buf.String(), "shards=3") {
		t.Errorf("log output missing attribute: %q", buf.String())
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(t.Context()) == nil {
		t.Error("FromContext() returned nil for bare context")
	}
}
