// Package expr compiles the optional CEL conditions attached to inspection
// rules. A condition narrows when a rule applies beyond its path and method
// filters, e.g. `request.query.contains("export") && client.role != "admin"`.
package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Environment builds and compiles CEL programs against the per-request
// inspection state.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables exposed to rule conditions:
// request (method, path, query), client (id, role), and claims (decoded
// bearer token).
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("client", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL condition that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the condition for execution, ensuring it yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return Program{}, fmt.Errorf("expr: expression required")
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", expr, issues.Err())
	}
	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return Program{}, fmt.Errorf("expr: %q must return bool, got %s", expr, cel.FormatCELType(t))
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", expr, err)
	}
	return Program{source: expr, program: program}, nil
}

// EvalBool executes the condition against the provided activation.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }
