// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

// Record is a single dialogue-summarization example.
type Record struct {
	// ID is an optional stable identifier carried through from the source.
	ID string `json:"id,omitempty"`

	// Dialogue is the chat transcript to be summarized.
	Dialogue string `json:"dialogue"`

	// Summary is the reference summary.
	Summary string `json:"summary"`
}

// Split holds the train/test partition of a dataset.
type Split struct {
	Train []Record `json:"train"`
	Test  []Record `json:"test"`
}

// ReadJSONL decodes records from JSON Lines input. Blank lines are skipped;
// a malformed line fails with its line number.
func ReadJSONL(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []Record
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(strings.TrimSpace(string(data))) == 0 {
			continue
		}
		var rec Record
		if err := sonic.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode record at line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

// LoadFile reads a JSON Lines dataset from disk.
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	records, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return records, nil
}

// Filter drops records with an empty dialogue or summary. The input slice is
// not modified.
func Filter(records []Record) []Record {
	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Dialogue) == "" || strings.TrimSpace(rec.Summary) == "" {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// SplitRecords shuffles records with the given seed and partitions them so
// that testFraction of the dataset lands in the test set. The same seed
// always produces the same partition.
func SplitRecords(records []Record, testFraction float64, seed int64) (Split, error) {
	if testFraction < 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("test fraction must be in [0, 1), got %v", testFraction)
	}

	shuffled := make([]Record, len(records))
	copy(shuffled, records)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	// The test slice is clipped so appending to it cannot reach into Train.
	testSize := int(float64(len(shuffled)) * testFraction)
	return Split{
		Train: shuffled[testSize:],
		Test:  shuffled[:testSize:testSize],
	}, nil
}
