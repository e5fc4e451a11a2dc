// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/go-peft/peft-go/packer"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

const endOfTextToken = "<|endoftext|>"

// Codec encodes and decodes token IDs.
type Codec interface {
	// Encode converts text to token IDs.
	Encode(text string) ([]int, error)

	// Decode converts token IDs back to text.
	Decode(ids []int) (string, error)

	// Count returns the number of tokens in text.
	Count(text string) (int, error)

	// EOSID returns the end-of-sequence token ID.
	EOSID() (int, error)
}

// BPECodec is a Codec backed by a tiktoken BPE encoding. The encoding data
// may be downloaded on first use, so initialization is lazy.
type BPECodec struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	eosID   int
	initErr error
}

var _ Codec = (*BPECodec)(nil)

// NewBPECodec creates a codec for the named tiktoken encoding.
func NewBPECodec(encoding string) *BPECodec {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &BPECodec{encoding: encoding}
}

func (c *BPECodec) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = fmt.Errorf("init encoding %s: %w", c.encoding, err)
			return
		}
		c.enc = enc

		eos := enc.Encode(endOfTextToken, []string{endOfTextToken}, nil)
		if len(eos) != 1 {
			c.initErr = fmt.Errorf("encoding %s has no single %s token", c.encoding, endOfTextToken)
			return
		}
		c.eosID = eos[0]
	})
	return c.initErr
}

// Encode implements [Codec].
func (c *BPECodec) Encode(text string) ([]int, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.enc.Encode(text, nil, nil), nil
}

// Decode implements [Codec].
func (c *BPECodec) Decode(ids []int) (string, error) {
	if err := c.init(); err != nil {
		return "", err
	}
	return c.enc.Decode(ids), nil
}

// Count implements [Codec].
func (c *BPECodec) Count(text string) (int, error) {
	ids, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// EOSID implements [Codec].
func (c *BPECodec) EOSID() (int, error) {
	if err := c.init(); err != nil {
		return 0, err
	}
	return c.eosID, nil
}

// EncodeSequence encodes text into a packer.Sequence with an all-ones
// attention mask.
func EncodeSequence(c Codec, text string) (packer.Sequence, error) {
	ids, err := c.Encode(text)
	if err != nil {
		return packer.Sequence{}, err
	}
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return packer.Sequence{InputIDs: ids, AttentionMask: mask}, nil
}
