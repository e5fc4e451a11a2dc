// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"

	"github.com/go-peft/peft-go/dataset"
)

// EOSMarker terminates every training text so the packer never fuses two
// examples without a boundary the model can learn.
const EOSMarker = "</s>"

// DefaultSummarizationTemplate is the instruction scaffold used for chat
// dialogue summarization.
var DefaultSummarizationTemplate = heredoc.Doc(`
	Summarize the chat dialogue:
	{dialogue}
	---
	Summary:
	{summary}`)

// Builder renders records into prompt texts.
type Builder struct {
	tmpl *Template
}

// BuilderOption is a functional option for configuring the Builder.
type BuilderOption func(*Builder)

// WithTemplate overrides the default summarization template. The template
// must declare both {dialogue} and {summary}.
func WithTemplate(tmpl *Template) BuilderOption {
	return func(b *Builder) {
		b.tmpl = tmpl
	}
}

// NewBuilder creates a Builder with the default summarization template.
func NewBuilder(opts ...BuilderOption) (*Builder, error) {
	tmpl, err := Parse(DefaultSummarizationTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse default template: %w", err)
	}

	b := &Builder{tmpl: tmpl}
	for _, opt := range opts {
		opt(b)
	}

	vars := b.tmpl.Variables()
	for _, required := range []string{"dialogue", "summary"} {
		found := false
		for _, v := range vars {
			if v == required {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("template must declare {%s}", required)
		}
	}

	return b, nil
}

// TrainingText renders the full prompt for a record, reference summary
// included, terminated with the EOS marker.
func (b *Builder) TrainingText(rec dataset.Record) (string, error) {
	text, err := b.tmpl.Apply(map[string]string{
		"dialogue": rec.Dialogue,
		"summary":  rec.Summary,
	})
	if err != nil {
		return "", fmt.Errorf("render training text: %w", err)
	}
	return text + EOSMarker, nil
}

// InferenceText renders the prompt up to the summary slot, leaving the model
// to generate the completion. No EOS marker is appended.
func (b *Builder) InferenceText(dialogue string) (string, error) {
	text, err := b.tmpl.Apply(map[string]string{
		"dialogue": dialogue,
		"summary":  "",
	})
	if err != nil {
		return "", fmt.Errorf("render inference text: %w", err)
	}
	return strings.TrimRight(text, " \n"), nil
}
