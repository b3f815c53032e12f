// Package expression evaluates the "=" prefixed expressions found in inbound
// connector properties using expr-lang.
package expression

import (
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/goliatone/go-connectors/core"
)

// Evaluator compiles expressions once and caches the programs.
type Evaluator struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{programs: make(map[string]*vm.Program)}
}

// IsExpression reports whether value is an expression rather than a literal.
func IsExpression(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "=")
}

// Strip removes the expression marker.
func Strip(value string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "="))
}

func (e *Evaluator) Evaluate(expression string, vars map[string]any) (any, error) {
	program, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	out, err := expr.Run(program, vars)
	if err != nil {
		return nil, fmt.Errorf("expression: run %q: %w", Strip(expression), err)
	}
	return out, nil
}

func (e *Evaluator) EvaluateBool(expression string, vars map[string]any) (bool, error) {
	out, err := e.Evaluate(expression, vars)
	if err != nil {
		return false, err
	}
	switch typed := out.(type) {
	case bool:
		return typed, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression: %q returned %T, want bool", Strip(expression), out)
	}
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	source := Strip(expression)
	if source == "" {
		return nil, fmt.Errorf("expression: empty expression")
	}

	e.mu.RLock()
	program, ok := e.programs[source]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("expression: compile %q: %w", source, err)
	}
	e.mu.Lock()
	e.programs[source] = program
	e.mu.Unlock()
	return program, nil
}

var _ core.Evaluator = (*Evaluator)(nil)
