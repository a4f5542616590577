// Package loaderrors defines the loader's error taxonomy (spec §7):
// ParseError, ResolveError, EvaluationError, ProfileError, Cancellation,
// NotFoundError, and InternalError. Each carries a CodeLocation where the
// spec requires one, and each can be matched with errors.As by callers
// that need to distinguish error classes rather than just report them.
package loaderrors

import (
	"fmt"

	"github.com/qploader/qploader/internal/item"
)

// ParseError is raised by the item reader: a file failed to parse.
// Recovery is local to one file per spec §4.1.
type ParseError struct {
	Location item.CodeLocation
	Message  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse error: %s", e.Location, e.Message)
}

// ResolveError covers missing files, unknown modules, cyclic
// inheritance, cyclic profile bases, duplicate products/sources, and
// conflicting fileTagsFilter declarations. Always carries a location.
type ResolveError struct {
	Location item.CodeLocation
	Message  string
	// Secondary is set for errors that reference a second location (e.g.
	// duplicate product names referencing both declarations).
	Secondary *item.CodeLocation
}

func (e *ResolveError) Error() string {
	if e.Secondary != nil {
		return fmt.Sprintf("%s: %s (also declared at %s)", e.Location, e.Message, *e.Secondary)
	}
	return fmt.Sprintf("%s: %s", e.Location, e.Message)
}

// EvaluationError wraps a script exception surfaced during property
// evaluation, with a location synthesized from the script engine's
// backtrace.
type EvaluationError struct {
	Location item.CodeLocation
	Message  string
	Stack    []StackFrame
}

// StackFrame is one (message, file, line) tuple extracted from a script
// engine backtrace (spec §4.3).
type StackFrame struct {
	Message string
	File    string
	Line    int
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: evaluation error: %s", e.Location, e.Message)
}

// ProfileError aggregates unknown-property assignments made via a
// profile or a build-configuration override. Reported when the owning
// module is loaded into a product (spec §4.4
// checkProfileErrorsForModule).
type ProfileError struct {
	ModuleName  string
	ProductName string
	ProfileName string
	Unknown     []string
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf(
		"loading module %q for product %q failed due to invalid values in profile %q: %v",
		e.ModuleName, e.ProductName, e.ProfileName, e.Unknown,
	)
}

// CancellationError marks a deliberate abort, distinct from ResolveError
// so callers can tell it from a genuine failure. No loader stage
// constructs one: the loader does not poll for cancellation, and a
// cancelled context only reaches the script engine's Eval call.
type CancellationError struct {
	Stage string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("loading cancelled during %s", e.Stage)
}

// NotFoundError is raised when RestoreOnly is requested (Setup does not
// restore a stored build graph), or when an existing build-graph store
// has an incompatible file format.
type NotFoundError struct {
	Path    string
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: no stored build graph", e.Path)
}

// InternalError signals an invariant violation in the loader itself.
type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Message)
}

// AggregateError collects multiple per-product errors raised during one
// project resolution so a single invocation can report as many problems
// as possible (spec §7 propagation policy).
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	s := fmt.Sprintf("%d error(s) occurred:", len(e.Errors))
	for _, err := range e.Errors {
		s += "\n  - " + err.Error()
	}
	return s
}

// Unwrap exposes the wrapped errors to errors.Is/errors.As chains.
func (e *AggregateError) Unwrap() []error { return e.Errors }
