// Package tools provides the tool registry — schema validation, alias
// normalization, and fuzzy suggestions — plus the built-in workspace tools
// (shell, file I/O, search).
package tools

import (
	"context"
	"fmt"

	"github.com/haasonsaas/aacode/internal/contextstore"
)

// Tool is an executable capability exposed to the model.
type Tool interface {
	// Name returns the canonical tool name.
	Name() string

	// Description returns what the tool does, shown in tool listings.
	Description() string

	// Execute runs the tool. Params carry canonical parameter names; the
	// registry normalizes aliases before execution. Failures are reported
	// through Result.IsError, not the error return, unless the tool itself
	// is broken.
	Execute(ctx context.Context, params map[string]any) (*Result, error)
}

// Result is the outcome of one tool execution.
type Result struct {
	// Content is the full agent-visible observation text.
	Content string

	// IsError marks the result as a failure the model should react to.
	IsError bool

	// Kind classifies the payload for truncation thresholds and archive
	// naming. Zero value means normal output.
	Kind contextstore.Kind

	// ArchivePath is set when the tool archived a large payload; the
	// content then carries a preview plus this path.
	ArchivePath string
}

// Errorf builds an error result.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}
