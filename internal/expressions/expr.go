package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/renvik/presend/pkg/schema"
)

// ExprEngine is the default fragment engine, built on expr-lang/expr.
// Variable references (vars.token, env.host), nil coalescing (??),
// string operations, and pipe chaining (|) all come from the library.
// Compiled programs depend only on the fragment text, never on cycle
// data, so the program cache is shared across cycles and goroutines.
type ExprEngine struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

var _ Engine = (*ExprEngine)(nil)

// NewExprEngine creates a new Expr fragment engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{programs: make(map[string]*vm.Program)}
}

// Name returns the engine identifier.
func (e *ExprEngine) Name() string {
	return "expr"
}

// Evaluate runs a fragment against the variable context. All top-level
// context keys are available as variables; unknown references resolve
// to nil rather than failing at compile time so that optional variables
// can be guarded with ??.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if env == nil {
		env = map[string]any{}
	}

	prog := e.lookup(expression)
	if prog == nil {
		var err error
		if prog, err = e.compile(expression, env); err != nil {
			return nil, err
		}
	}

	out, err := vm.Run(prog, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

func (e *ExprEngine) lookup(expression string) *vm.Program {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.programs[expression]
}

// compile builds and caches the program for a fragment. The env map is
// only used to shape the compilation environment.
func (e *ExprEngine) compile(expression string, env map[string]any) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have compiled it between locks.
	if prog, ok := e.programs[expression]; ok {
		return prog, nil
	}

	prog, err := expr.Compile(expression,
		expr.Env(env),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.programs[expression] = prog
	return prog, nil
}
