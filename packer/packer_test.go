// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// seq builds a Sequence with an all-ones attention mask.
func seq(ids ...int) Sequence {
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return Sequence{InputIDs: ids, AttentionMask: mask}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		blockSize int
		wantErr   bool
	}{
		{name: "valid block size", blockSize: 1536, wantErr: false},
		{name: "block size one", blockSize: 1, wantErr: false},
		{name: "zero block size", blockSize: 0, wantErr: true},
		{name: "negative block size", blockSize: -8, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.blockSize)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%d) error = %v, wantErr %v", tt.blockSize, err, tt.wantErr)
				return
			}
			if !tt.wantErr && p.BlockSize() != tt.blockSize {
				t.Errorf("BlockSize() = %d, want %d", p.BlockSize(), tt.blockSize)
			}
		})
	}
}

func TestPacker_Pack(t *testing.T) {
	tests := []struct {
		name          string
		blockSize     int
		batch         []Sequence
		wantBlocks    [][]int
		wantRemainder []int
	}{
		{
			name:          "exact single block",
			blockSize:     4,
			batch:         []Sequence{seq(1, 2, 3, 4)},
			wantBlocks:    [][]int{{1, 2, 3, 4}},
			wantRemainder: []int{},
		},
		{
			name:          "batch shorter than block emits nothing",
			blockSize:     8,
			batch:         []Sequence{seq(1, 2, 3)},
			wantBlocks:    [][]int{},
			wantRemainder: []int{1, 2, 3},
		},
		{
			name:          "concatenation spans sequences",
			blockSize:     4,
			batch:         []Sequence{seq(1, 2), seq(3, 4, 5), seq(6)},
			wantBlocks:    [][]int{{1, 2, 3, 4}},
			wantRemainder: []int{5, 6},
		},
		{
			name:          "multiple blocks from one batch",
			blockSize:     3,
			batch:         []Sequence{seq(1, 2, 3, 4, 5, 6, 7)},
			wantBlocks:    [][]int{{1, 2, 3}, {4, 5, 6}},
			wantRemainder: []int{7},
		},
		{
			name:          "empty batch",
			blockSize:     4,
			batch:         nil,
			wantBlocks:    [][]int{},
			wantRemainder: []int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.blockSize)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			blocks := p.Pack(tt.batch)

			got := make([][]int, len(blocks))
			for i, b := range blocks {
				got[i] = b.InputIDs
			}
			if diff := cmp.Diff(tt.wantBlocks, got); diff != "" {
				t.Errorf("Pack() blocks mismatch (-want +got):\n%s", diff)
			}

			rest := p.Remainder()
			if diff := cmp.Diff(tt.wantRemainder, rest.InputIDs); diff != "" {
				t.Errorf("Remainder() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPacker_RemainderCarry(t *testing.T) {
	p, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// First batch leaves a two-token remainder.
	blocks := p.Pack([]Sequence{seq(1, 2, 3, 4, 5, 6)})
	if len(blocks) != 1 {
		t.Fatalf("first Pack() emitted %d blocks, want 1", len(blocks))
	}

	// Remainder {5, 6} must come before the next batch's tokens.
	blocks = p.Pack([]Sequence{seq(7, 8, 9)})
	if len(blocks) != 1 {
		t.Fatalf("second Pack() emitted %d blocks, want 1", len(blocks))
	}
	want := []int{5, 6, 7, 8}
	if diff := cmp.Diff(want, blocks[0].InputIDs); diff != "" {
		t.Errorf("carried block mismatch (-want +got):\n%s", diff)
	}

	rest := p.Remainder()
	if diff := cmp.Diff([]int{9}, rest.InputIDs); diff != "" {
		t.Errorf("Remainder() mismatch (-want +got):\n%s", diff)
	}
}

func TestPacker_NoTokenLoss(t *testing.T) {
	const blockSize = 7
	p, err := New(blockSize)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Feed uneven batches and verify the emitted blocks plus the final
	// remainder reproduce the input stream exactly.
	var fed []int
	next := 0
	batches := [][]int{{3}, {5, 2}, {11}, {1, 1, 1}, {6}}

	var emitted []int
	for _, lens := range batches {
		batch := make([]Sequence, 0, len(lens))
		for _, n := range lens {
			ids := make([]int, n)
			for i := range ids {
				ids[i] = next
				next++
			}
			fed = append(fed, ids...)
			batch = append(batch, seq(ids...))
		}
		for _, b := range p.Pack(batch) {
			if len(b.InputIDs) != blockSize {
				t.Fatalf("block length = %d, want %d", len(b.InputIDs), blockSize)
			}
			emitted = append(emitted, b.InputIDs...)
		}
	}

	emitted = append(emitted, p.Remainder().InputIDs...)
	if diff := cmp.Diff(fed, emitted); diff != "" {
		t.Errorf("token stream mismatch (-fed +emitted):\n%s", diff)
	}
}

func TestPacker_LabelsAreIndependentCopy(t *testing.T) {
	p, err := New(3)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	blocks := p.Pack([]Sequence{seq(1, 2, 3)})
	if len(blocks) != 1 {
		t.Fatalf("Pack() emitted %d blocks, want 1", len(blocks))
	}

	block := blocks[0]
	if diff := cmp.Diff(block.InputIDs, block.Labels); diff != "" {
		t.Fatalf("Labels differ from InputIDs (-ids +labels):\n%s", diff)
	}

	block.Labels[0] = 99
	if block.InputIDs[0] == 99 {
		t.Error("mutating Labels changed InputIDs; labels must be a copy")
	}
}

func TestPacker_AttentionMaskFollowsInput(t *testing.T) {
	p, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	blocks := p.Pack([]Sequence{seq(1, 2, 3, 4, 5)})
	for _, b := range blocks {
		if len(b.AttentionMask) != len(b.InputIDs) {
			t.Errorf("mask length %d != input length %d", len(b.AttentionMask), len(b.InputIDs))
		}
		for i, m := range b.AttentionMask {
			if m != 1 {
				t.Errorf("mask[%d] = %d, want 1", i, m)
			}
		}
	}
}

func TestPacker_Reset(t *testing.T) {
	p, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	p.Pack([]Sequence{seq(1, 2, 3)})
	if got := p.Remainder(); len(got.InputIDs) == 0 {
		t.Fatal("expected a remainder before Reset()")
	}

	p.Reset()
	if got := p.Remainder(); len(got.InputIDs) != 0 {
		t.Errorf("Remainder() after Reset() = %v, want empty", got.InputIDs)
	}
}

func TestShard_RoundTrip(t *testing.T) {
	p, err := New(4)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	blocks := p.Pack([]Sequence{seq(1, 2, 3, 4, 5, 6, 7, 8, 9)})

	var buf bytes.Buffer
	if err := EncodeShard(&buf, blocks); err != nil {
		t.Fatalf("EncodeShard() error = %v", err)
	}

	decoded, err := DecodeShard(&buf)
	if err != nil {
		t.Fatalf("DecodeShard() error = %v", err)
	}

	if diff := cmp.Diff(blocks, decoded); diff != "" {
		t.Errorf("shard round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeShard_BadLine(t *testing.T) {
	_, err := DecodeShard(bytes.NewBufferString("{\"input_ids\": [1]}\nnot json\n"))
	if err == nil {
		t.Error("DecodeShard() should fail on malformed line")
	}
}

func BenchmarkPacker_Pack(b *testing.B) {
	p, err := New(1536)
	if err != nil {
		b.Fatalf("New() error = %v", err)
	}

	ids := make([]int, 400)
	for i := range ids {
		ids[i] = i
	}
	batch := []Sequence{seq(ids...), seq(ids...), seq(ids...), seq(ids...)}

	for b.Loop() {
		p.Pack(batch)
		p.Reset()
	}
}
