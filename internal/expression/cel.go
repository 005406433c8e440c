package expression

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/tollgate-sdk/tollgate/model"
)

// Compile-time check to verify that CELEvaluator implements Evaluator.
var _ Evaluator = (*CELEvaluator)(nil)

// CELEvaluator evaluates audience expressions written in CEL. Three map
// variables are in scope: user, device and params.
//
// Compiled programs are memoized per expression string: trigger configs
// contain a small fixed set of expressions that are evaluated on every
// tracked event, so compilation cost is paid once per config refresh.
type CELEvaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEvaluator builds the CEL environment with the audience attribute
// namespaces declared.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("user", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("device", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("expression: failed to create CEL environment: %w", err)
	}

	return &CELEvaluator{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Evaluate compiles (or reuses) the expression and runs it against the
// attribute snapshot. Non-boolean results are evaluation failures: the
// contract is strictly context -> bool.
func (e *CELEvaluator) Evaluate(_ context.Context, expr string, attrs model.Attributes) (bool, error) {
	if expr == "" {
		return true, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"user":   nonNilMap(attrs.User),
		"device": nonNilMap(attrs.Device),
		"params": nonNilMap(attrs.Params),
	})
	if err != nil {
		return false, fmt.Errorf("expression: evaluation failed: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression: result is %T, want bool", out.Value())
	}
	return result, nil
}

// program returns the memoized compiled program for the expression, compiling
// it under the write lock on first use.
func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have compiled it while we waited for the lock.
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expression: compile failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expression: program construction failed: %w", err)
	}

	e.programs[expr] = prg
	return prg, nil
}

// nonNilMap keeps nil attribute maps from surfacing as CEL null values.
func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
