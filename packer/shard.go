// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package packer

import (
	"bufio"
	"fmt"
	"io"

	"github.com/go-json-experiment/json"
)

// EncodeShard writes blocks as JSON Lines, one block per line. This is the
// on-disk and object-storage format consumed by the training container.
func EncodeShard(w io.Writer, blocks []Block) error {
	bw := bufio.NewWriter(w)
	for i, block := range blocks {
		if err := json.MarshalWrite(bw, block, json.DefaultOptionsV2()); err != nil {
			return fmt.Errorf("marshal block %d: %w", i, err)
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DecodeShard reads a JSON Lines shard back into blocks.
func DecodeShard(r io.Reader) ([]Block, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var blocks []Block
	line := 0
	for sc.Scan() {
		line++
		data := sc.Bytes()
		if len(data) == 0 {
			continue
		}
		var block Block
		if err := json.Unmarshal(data, &block, json.DefaultOptionsV2()); err != nil {
			return nil, fmt.Errorf("unmarshal block at line %d: %w", line, err)
		}
		blocks = append(blocks, block)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return blocks, nil
}
