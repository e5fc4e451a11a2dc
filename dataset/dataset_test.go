// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestReadJSONL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []Record
		wantErr bool
	}{
		{
			name:  "valid records",
			input: `{"id":"1","dialogue":"A: hi\nB: hello","summary":"A greets B"}` + "\n" + `{"dialogue":"A: bye","summary":"A leaves"}` + "\n",
			want: []Record{
				{ID: "1", Dialogue: "A: hi\nB: hello", Summary: "A greets B"},
				{Dialogue: "A: bye", Summary: "A leaves"},
			},
		},
		{
			name:  "blank lines skipped",
			input: "\n" + `{"dialogue":"d","summary":"s"}` + "\n\n",
			want:  []Record{{Dialogue: "d", Summary: "s"}},
		},
		{
			name:    "malformed line",
			input:   `{"dialogue":"d","summary":"s"}` + "\nnot json\n",
			wantErr: true,
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadJSONL(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ReadJSONL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ReadJSONL() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadJSONL_ErrorNamesLine(t *testing.T) {
	input := `{"dialogue":"d","summary":"s"}` + "\n{broken\n"
	_, err := ReadJSONL(strings.NewReader(input))
	if err == nil {
		t.Fatal("ReadJSONL() should fail on malformed input")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error %q should name the failing line", err)
	}
}

func TestFilter(t *testing.T) {
	records := []Record{
		{Dialogue: "A: hi", Summary: "greeting"},
		{Dialogue: "", Summary: "no dialogue"},
		{Dialogue: "A: bye", Summary: ""},
		{Dialogue: "   ", Summary: "whitespace only"},
	}

	got := Filter(records)
	want := []Record{{Dialogue: "A: hi", Summary: "greeting"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitRecords(t *testing.T) {
	records := make([]Record, 100)
	for i := range records {
		records[i] = Record{ID: string(rune('a' + i%26)), Dialogue: "d", Summary: "s"}
	}

	split, err := SplitRecords(records, 0.1, 42)
	if err != nil {
		t.Fatalf("SplitRecords() error = %v", err)
	}

	if len(split.Test) != 10 {
		t.Errorf("test size = %d, want 10", len(split.Test))
	}
	if len(split.Train) != 90 {
		t.Errorf("train size = %d, want 90", len(split.Train))
	}

	// Same seed, same partition.
	again, err := SplitRecords(records, 0.1, 42)
	if err != nil {
		t.Fatalf("SplitRecords() error = %v", err)
	}
	if diff := cmp.Diff(split, again); diff != "" {
		t.Errorf("SplitRecords() not deterministic (-first +second):\n%s", diff)
	}
}

func TestSplitRecords_SlicesDoNotAlias(t *testing.T) {
	records := make([]Record, 10)
	for i := range records {
		records[i] = Record{ID: string(rune('a' + i)), Dialogue: "d", Summary: "s"}
	}

	split, err := SplitRecords(records, 0.2, 42)
	if err != nil {
		t.Fatalf("SplitRecords() error = %v", err)
	}

	first := split.Train[0]
	split.Test = append(split.Test, Record{ID: "extra", Dialogue: "d", Summary: "s"})

	if split.Train[0] != first {
		t.Errorf("append to Test clobbered Train[0]: got %+v, want %+v", split.Train[0], first)
	}
}

func TestSplitRecords_InvalidFraction(t *testing.T) {
	tests := []struct {
		name     string
		fraction float64
	}{
		{name: "negative", fraction: -0.1},
		{name: "one", fraction: 1.0},
		{name: "above one", fraction: 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := SplitRecords(nil, tt.fraction, 0); err == nil {
				t.Errorf("SplitRecords(fraction=%v) should fail", tt.fraction)
			}
		})
	}
}
