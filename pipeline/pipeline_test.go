// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-peft/peft-go/packer"
)

// byteCodec tokenizes one byte per token, keeping tests hermetic.
type byteCodec struct{}

func (byteCodec) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := range len(text) {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (byteCodec) Decode(ids []int) (string, error) {
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte(id)
	}
	return string(b), nil
}

func (byteCodec) Count(text string) (int, error) { return len(text), nil }

func (byteCodec) EOSID() (int, error) { return 0, nil }

func writeTestDataset(t *testing.T, n int) string {
	t.Helper()

	var buf bytes.Buffer
	for i := range n {
		fmt.Fprintf(&buf,
			`{"id":"rec-%d","dialogue":"A: are we still on for lunch today?\nB: yes, see you at noon","summary":"A and B confirm lunch at noon."}`+"\n",
			i)
	}
	// Blank dialogue records are filtered out before packing.
	buf.WriteString(`{"id":"bad","dialogue":"","summary":"nothing"}` + "\n")

	path := filepath.Join(t.TempDir(), "dialogues.jsonl")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	return path
}

func newTestPipeline(t *testing.T, datasetPath string) *Pipeline {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DatasetPath = datasetPath
	cfg.BlockSize = 64
	cfg.BlocksPerShard = 4
	cfg.TestFraction = 0.2

	p, err := New(cfg, WithCodec(byteCodec{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func TestPipeline_Prepare(t *testing.T) {
	p := newTestPipeline(t, writeTestDataset(t, 50))

	result, err := p.Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if result.Records != 50 {
		t.Errorf("Records = %d, want 50 (filtered record should not count)", result.Records)
	}
	if len(result.TestRecords) != 10 {
		t.Errorf("TestRecords = %d, want 10", len(result.TestRecords))
	}
	if result.Blocks == 0 {
		t.Fatal("Prepare() produced no blocks")
	}
	if len(result.Shards) == 0 {
		t.Fatal("Prepare() produced no shards")
	}
	if result.DroppedTokens >= p.cfg.BlockSize {
		t.Errorf("DroppedTokens = %d, want less than block size %d", result.DroppedTokens, p.cfg.BlockSize)
	}
}

func TestPipeline_Prepare_BlockShape(t *testing.T) {
	p := newTestPipeline(t, writeTestDataset(t, 50))

	result, err := p.Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	totalBlocks := 0
	for _, shard := range result.Shards {
		blocks, err := packer.DecodeShard(bytes.NewReader(shard.Data))
		if err != nil {
			t.Fatalf("DecodeShard(%s) error = %v", shard.Name, err)
		}
		totalBlocks += len(blocks)

		for i, block := range blocks {
			if len(block.InputIDs) != p.cfg.BlockSize {
				t.Fatalf("shard %s block %d has %d tokens, want %d",
					shard.Name, i, len(block.InputIDs), p.cfg.BlockSize)
			}
			for j := range block.InputIDs {
				if block.Labels[j] != block.InputIDs[j] {
					t.Fatalf("shard %s block %d label mismatch at %d", shard.Name, i, j)
				}
			}
		}
	}

	if totalBlocks != result.Blocks {
		t.Errorf("decoded %d blocks across shards, want %d", totalBlocks, result.Blocks)
	}
}

func TestPipeline_Prepare_Deterministic(t *testing.T) {
	path := writeTestDataset(t, 30)

	first, err := newTestPipeline(t, path).Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	second, err := newTestPipeline(t, path).Prepare(t.Context())
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}

	if first.Blocks != second.Blocks {
		t.Errorf("block counts differ across runs: %d vs %d", first.Blocks, second.Blocks)
	}
	if len(first.Shards) != len(second.Shards) {
		t.Fatalf("shard counts differ across runs: %d vs %d", len(first.Shards), len(second.Shards))
	}
	for i := range first.Shards {
		if !bytes.Equal(first.Shards[i].Data, second.Shards[i].Data) {
			t.Errorf("shard %d differs across runs with the same seed", i)
		}
	}
}

func TestPipeline_Prepare_EmptyDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}

	p := newTestPipeline(t, path)
	if _, err := p.Prepare(t.Context()); err == nil {
		t.Error("Prepare() expected error for empty dataset")
	}
}

func TestPipeline_CloudStagesRequireServices(t *testing.T) {
	p := newTestPipeline(t, writeTestDataset(t, 10))

	if _, _, err := p.Upload(t.Context(), nil); err == nil {
		t.Error("Upload() expected error without artifact service")
	}
	if _, err := p.Train(t.Context(), "job", "gs://b/run"); err == nil {
		t.Error("Train() expected error without tuning service")
	}
	if _, err := p.Deploy(t.Context(), nil); err == nil {
		t.Error("Deploy() expected error without endpoint service")
	}
	if _, err := p.Query(t.Context(), "ep", "dialogue"); err == nil {
		t.Error("Query() expected error without endpoint service")
	}
	if _, err := p.QueryBaseline(t.Context(), "dialogue"); err == nil {
		t.Error("QueryBaseline() expected error without baseline client")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name: "complete config",
			mutate: func(c *Config) {
				c.ProjectID = "p"
				c.Bucket = "b"
				c.DatasetPath = "d.jsonl"
			},
			wantErr: false,
		},
		{
			name:    "missing project",
			mutate:  func(c *Config) { c.Bucket = "b"; c.DatasetPath = "d.jsonl" },
			wantErr: true,
		},
		{
			name: "negative block size",
			mutate: func(c *Config) {
				c.ProjectID = "p"
				c.Bucket = "b"
				c.DatasetPath = "d.jsonl"
				c.BlockSize = -1
			},
			wantErr: true,
		},
		{
			name: "test fraction of one",
			mutate: func(c *Config) {
				c.ProjectID = "p"
				c.Bucket = "b"
				c.DatasetPath = "d.jsonl"
				c.TestFraction = 1.0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
