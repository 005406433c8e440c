// Package expression evaluates audience filter expressions against an
// attribute snapshot. The engine only depends on the Evaluator contract; the
// CEL implementation is a detail behind it and can be swapped without
// touching the audience matcher.
package expression

import (
	"context"

	"github.com/tollgate-sdk/tollgate/model"
)

// Evaluator is the boolean contract of audience expressions: deterministic
// for a given attribute snapshot, no side effects per call.
//
// An empty expression matches unconditionally. A non-nil error means the
// expression could not be evaluated (malformed source, runtime failure);
// callers must treat that as no-match and keep scanning, never crash.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, attrs model.Attributes) (bool, error)
}
