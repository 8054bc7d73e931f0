package config

import (
	"fmt"
	"strings"
	"time"
)

// ParsedHive is the raw hive description decoded from CUE, before the hive
// package types and validates it.
type ParsedHive struct {
	// Raw maps top-level keys to decoded values. "meta" (or legacy
	// "network") holds metadata, "defaults" the shared layer, every other
	// key a node definition.
	Raw map[string]interface{} `json:"raw"`

	// SourceFiles are the CUE files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the description was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any parse or validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a parse or validation error with location
// information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "meta.nixpkgs").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String renders the error with whatever location information is present.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		fmt.Fprintf(&b, "%s:", e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, "%d:%d:", e.Line, e.Column)
		}
		b.WriteString(" ")
	}
	if e.Path != "" {
		fmt.Fprintf(&b, "%s: ", e.Path)
	}
	b.WriteString(e.Message)
	return b.String()
}

// ParseError aggregates the validation errors of a failed parse.
type ParseError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if len(e.Errors) == 0 {
		return "parse failed"
	}
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return fmt.Sprintf("parse failed: %s", strings.Join(msgs, "; "))
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
