// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package tokenizer

import (
	"testing"
)

// newTestCodec skips the test when the encoding data is unavailable (first
// use downloads it).
func newTestCodec(t *testing.T) *BPECodec {
	t.Helper()
	c := NewBPECodec(DefaultEncoding)
	if err := c.init(); err != nil {
		t.Skipf("encoding data unavailable: %v", err)
	}
	return c
}

func TestBPECodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	text := "Summarize the chat dialogue:\nA: lunch?\nB: sure"
	ids, err := c.Encode(text)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if len(ids) == 0 {
		t.Fatal("Encode() returned no tokens")
	}

	decoded, err := c.Decode(ids)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded != text {
		t.Errorf("Decode(Encode()) = %q, want %q", decoded, text)
	}
}

func TestBPECodec_Count(t *testing.T) {
	c := newTestCodec(t)

	text := "Summarize the chat dialogue"
	n, err := c.Count(text)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}

	ids, err := c.Encode(text)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if n != len(ids) {
		t.Errorf("Count() = %d, want %d", n, len(ids))
	}
}

func TestBPECodec_EOSID(t *testing.T) {
	c := newTestCodec(t)

	eos, err := c.EOSID()
	if err != nil {
		t.Fatalf("EOSID() error = %v", err)
	}
	if eos <= 0 {
		t.Errorf("EOSID() = %d, want a positive token ID", eos)
	}
}

func TestEncodeSequence(t *testing.T) {
	c := newTestCodec(t)

	seq, err := EncodeSequence(c, "hello world")
	if err != nil {
		t.Fatalf("EncodeSequence() error = %v", err)
	}
	if len(seq.InputIDs) != len(seq.AttentionMask) {
		t.Fatalf("mask length %d != ids length %d", len(seq.AttentionMask), len(seq.InputIDs))
	}
	for i, m := range seq.AttentionMask {
		if m != 1 {
			t.Errorf("mask[%d] = %d, want 1", i, m)
		}
	}
}
