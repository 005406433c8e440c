// Package validation provides helpers for contract enforcement in
// constructors and configuration phases.
package validation

import "fmt"

// AssertNotNil panics if the provided pointer is nil. Intended for mandatory
// dependencies in constructors, where a nil is a programmer error rather than
// a runtime condition.
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotEmpty panics if the provided string is empty. Same contract as
// AssertNotNil: misconfiguration, not a recoverable error.
func AssertNotEmpty(s, name string) {
	if s == "" {
		panic(fmt.Sprintf("critical error: %s cannot be empty", name))
	}
}
