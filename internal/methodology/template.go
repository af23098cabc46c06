// Package methodology composes teaching-strategy prompts from versioned
// templates and parses strategy-specific responses.
package methodology

import (
	"errors"
	"strings"
)

// ErrTemplateNotFound means no active template exists for a methodology.
var ErrTemplateNotFound = errors.New("template not found")

// Methodology names.
const (
	Default            = "default"
	SequentialThinking = "sequential_thinking"
	Analogy            = "analogy"
	Socratic           = "socratic"
	Scaffolding        = "scaffolding"
	WorkedExamples     = "worked_examples"
)

// Known lists every methodology shipped with default templates.
var Known = []string{Default, SequentialThinking, Analogy, Socratic, Scaffolding, WorkedExamples}

// Normalize lowercases a methodology name and maps the empty string to
// Default.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "_")
	if name == "" {
		return Default
	}
	return name
}

// IsStructured reports whether a methodology expects tagged output.
func IsStructured(name string) bool {
	return Normalize(name) == WorkedExamples
}

// PromptTemplate is one version of a methodology's prompt. Identity is
// (Methodology, Version); at most one version per methodology is active.
type PromptTemplate struct {
	Name         string `json:"name"`
	Methodology  string `json:"methodology"`
	TemplateText string `json:"template_text"`
	Description  string `json:"description"`
	Version      int    `json:"version"`
	IsActive     bool   `json:"is_active"`
}
