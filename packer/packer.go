// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"fmt"
)

// Sequence is a single tokenized example.
type Sequence struct {
	// InputIDs are the token IDs of the example.
	InputIDs []int `json:"input_ids"`

	// AttentionMask marks which positions carry real tokens. Packed
	// sequences are never padded, so this is normally all ones.
	AttentionMask []int `json:"attention_mask"`
}

// Block is a fixed-length training block produced by packing.
type Block struct {
	// InputIDs are exactly BlockSize token IDs.
	InputIDs []int `json:"input_ids"`

	// AttentionMask is the packed attention mask, same length as InputIDs.
	AttentionMask []int `json:"attention_mask"`

	// Labels are a copy of InputIDs; the trainer shifts them for
	// next-token loss.
	Labels []int `json:"labels"`
}

// Packer folds batches of tokenized sequences into fixed-length blocks,
// carrying the trailing partial block across batches.
type Packer struct {
	blockSize int

	// Remainder carried from the previous Pack call. Tokens are only ever
	// appended and consumed front-to-back.
	restIDs  []int
	restMask []int
}

// New creates a Packer that emits blocks of exactly blockSize tokens.
func New(blockSize int) (*Packer, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	return &Packer{blockSize: blockSize}, nil
}

// BlockSize returns the configured block length.
func (p *Packer) BlockSize() int {
	return p.blockSize
}

// Pack concatenates the batch onto the carried remainder, emits every full
// block of BlockSize tokens, and retains the trailing partial block as the
// new remainder. The batch order is preserved and no token is reordered or
// dropped.
func (p *Packer) Pack(batch []Sequence) []Block {
	total := len(p.restIDs)
	for _, seq := range batch {
		total += len(seq.InputIDs)
	}

	ids := make([]int, 0, total)
	mask := make([]int, 0, total)
	ids = append(ids, p.restIDs...)
	mask = append(mask, p.restMask...)
	for _, seq := range batch {
		ids = append(ids, seq.InputIDs...)
		mask = append(mask, seq.AttentionMask...)
	}

	blocks := make([]Block, 0, len(ids)/p.blockSize)
	for len(ids) >= p.blockSize {
		blockIDs := ids[:p.blockSize:p.blockSize]
		blockMask := mask[:p.blockSize:p.blockSize]

		labels := make([]int, p.blockSize)
		copy(labels, blockIDs)

		blocks = append(blocks, Block{
			InputIDs:      blockIDs,
			AttentionMask: blockMask,
			Labels:        labels,
		})

		ids = ids[p.blockSize:]
		mask = mask[p.blockSize:]
	}

	p.restIDs = ids
	p.restMask = mask

	return blocks
}

// Remainder returns a copy of the tokens carried over from the last Pack
// call. At end of dataset these tokens are the only ones not emitted.
func (p *Packer) Remainder() Sequence {
	ids := make([]int, len(p.restIDs))
	copy(ids, p.restIDs)
	mask := make([]int, len(p.restMask))
	copy(mask, p.restMask)
	return Sequence{InputIDs: ids, AttentionMask: mask}
}

// Reset discards any carried remainder.
func (p *Packer) Reset() {
	p.restIDs = nil
	p.restMask = nil
}
