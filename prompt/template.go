// Copyright 2025 The Go PEFT Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	varPattern     = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	varNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// Template is a parsed prompt template with {variable} placeholders.
type Template struct {
	text string
	vars []string
}

// Parse validates the template text and extracts its variables.
func Parse(text string) (*Template, error) {
	if err := validate(text); err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	return &Template{
		text: text,
		vars: extractVariables(text),
	}, nil
}

// Variables returns the placeholder names in order of first appearance.
func (t *Template) Variables() []string {
	vars := make([]string, len(t.vars))
	copy(vars, t.vars)
	return vars
}

// Text returns the raw template text.
func (t *Template) Text() string {
	return t.text
}

// Apply substitutes values for every placeholder. All template variables
// must be present in values; missing variables are an error. Substitution is
// a single pass, so a value containing placeholder syntax is carried through
// verbatim.
func (t *Template) Apply(values map[string]string) (string, error) {
	var missing []string
	for _, name := range t.vars {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	result := varPattern.ReplaceAllStringFunc(t.text, func(match string) string {
		return values[match[1:len(match)-1]]
	})
	return result, nil
}

// extractVariables returns the unique variable names in first-seen order.
func extractVariables(text string) []string {
	matches := varPattern.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool)
	var vars []string
	for _, match := range matches {
		name := match[1]
		if !seen[name] {
			seen[name] = true
			vars = append(vars, name)
		}
	}
	return vars
}

// validate checks brace balance and placeholder names.
func validate(text string) error {
	depth := 0
	for i, ch := range text {
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("unmatched closing brace at position %d", i)
			}
		}
	}
	if depth > 0 {
		return fmt.Errorf("unmatched opening brace(s)")
	}

	for _, match := range regexp.MustCompile(`\{([^}]*)\}`).FindAllStringSubmatch(text, -1) {
		name := match[1]
		if name == "" {
			return fmt.Errorf("empty variable name")
		}
		if !varNamePattern.MatchString(name) {
			return fmt.Errorf("invalid variable name: %s", name)
		}
	}
	return nil
}
