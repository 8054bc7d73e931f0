package hive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apiary/apiary/pkg/schema"
)

// ErrorClass classifies a hive error for propagation policy decisions.
type ErrorClass string

const (
	// ErrorClassStructural indicates a hive-wide structural error that
	// aborts resolution before any node is attempted.
	ErrorClassStructural ErrorClass = "structural"

	// ErrorClassInvalidRef indicates a package-set reference that is not
	// one of the accepted shapes (path, constructor, literal).
	ErrorClassInvalidRef ErrorClass = "invalid-ref"

	// ErrorClassValidation indicates collected constraint violations for a
	// single node; sibling nodes keep resolving.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassUnresolved indicates a selection that references a node
	// whose build artifact was never produced.
	ErrorClassUnresolved ErrorClass = "unresolved"
)

// Error codes for programmatic handling.
const (
	CodeConflictingMetaKeys  = "CONFLICTING_META_KEYS"
	CodeMalformedMeta        = "MALFORMED_META"
	CodeInvalidPackageSetRef = "INVALID_PACKAGE_SET_REF"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeUnresolvedArtifact   = "UNRESOLVED_ARTIFACT"
	CodeBuildFailed          = "BUILD_FAILED"
)

// Error is a classified hive error with enough context to locate the
// offending entry without inspecting internals.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Code is a stable error code.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Node is the node the error belongs to, if node-scoped.
	Node string `json:"node,omitempty"`

	// Field is the configuration field path involved, if any.
	Field string `json:"field,omitempty"`

	// Violations are the collected constraint failures for validation errors.
	Violations []schema.Violation `json:"violations,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.Node != "" {
		fmt.Fprintf(&b, " (node=%s)", e.Node)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field=%s)", e.Field)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	for _, v := range e.Violations {
		fmt.Fprintf(&b, "\n  - %s", v.String())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on class and code so sentinel-style checks work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// WithNode adds node context to the error.
func (e *Error) WithNode(node string) *Error {
	e.Node = node
	return e
}

// WithField adds field path context to the error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// NewConflictingMetaKeys reports both "meta" and the legacy "network" block
// being present in the same hive input.
func NewConflictingMetaKeys() *Error {
	return &Error{
		Class:   ErrorClassStructural,
		Code:    CodeConflictingMetaKeys,
		Message: `cannot use both "meta" and "network" to define hive metadata`,
	}
}

// NewMalformedMeta reports a hive metadata block that failed schema
// validation. Structural: aborts the whole hive.
func NewMalformedMeta(violations []schema.Violation) *Error {
	return &Error{
		Class:      ErrorClassStructural,
		Code:       CodeMalformedMeta,
		Message:    "hive metadata failed validation",
		Violations: violations,
	}
}

// NewInvalidPackageSetRef reports a package-set field that is none of the
// accepted shapes. The context label names the offending field to the caller.
func NewInvalidPackageSetRef(contextLabel string, cause error) *Error {
	return &Error{
		Class:   ErrorClassInvalidRef,
		Code:    CodeInvalidPackageSetRef,
		Message: fmt.Sprintf("%s is not a valid package set reference (expected path, constructor, or literal)", contextLabel),
		Field:   contextLabel,
		Err:     cause,
	}
}

// NewValidationFailed reports collected violations for one node. All
// violations for the node are carried so a single pass reports every
// offending field at once.
func NewValidationFailed(node string, violations []schema.Violation) *Error {
	return &Error{
		Class:      ErrorClassValidation,
		Code:       CodeValidationFailed,
		Message:    fmt.Sprintf("node %s failed validation with %d violation(s)", node, len(violations)),
		Node:       node,
		Violations: violations,
	}
}

// NewUnresolvedArtifact reports a selection of a node whose build step did
// not complete successfully.
func NewUnresolvedArtifact(node string) *Error {
	return &Error{
		Class:   ErrorClassUnresolved,
		Code:    CodeUnresolvedArtifact,
		Message: fmt.Sprintf("node %s has no resolved build artifact", node),
		Node:    node,
	}
}

// NewBuildFailed wraps a build-system failure for one node.
func NewBuildFailed(node string, cause error) *Error {
	return &Error{
		Class:   ErrorClassUnresolved,
		Code:    CodeBuildFailed,
		Message: fmt.Sprintf("building node %s failed", node),
		Node:    node,
		Err:     cause,
	}
}

// IsStructural returns true for hive-wide errors that abort resolution
// before any node is attempted.
func IsStructural(err error) bool {
	return classOf(err) == ErrorClassStructural
}

// IsValidationFailed returns true for node-scoped validation errors.
func IsValidationFailed(err error) bool {
	return classOf(err) == ErrorClassValidation
}

// IsInvalidRef returns true for invalid package-set reference errors.
func IsInvalidRef(err error) bool {
	return classOf(err) == ErrorClassInvalidRef
}

// IsUnresolvedArtifact returns true when a selection hit a missing artifact.
func IsUnresolvedArtifact(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeUnresolvedArtifact
	}
	return false
}

func classOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
