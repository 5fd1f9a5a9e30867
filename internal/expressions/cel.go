package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/renvik/presend/pkg/schema"
)

// celNamespaces are the top-level variables exposed to CEL fragments,
// matching the context layout produced by the context builder.
var celNamespaces = []string{"vars", "env", "secrets", "request"}

// CELEngine evaluates "cel:" fragments using Google's Common Expression
// Language. It suits guard-style fragments (conditional header values,
// method switches) where CEL's type checking helps.
// Thread-safe: compiled programs are cached and reused across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL fragment engine with a sandboxed environment.
// The environment exposes four top-level variables:
//   - vars:    map(string, dyn) — merged variables (stores, base, overrides)
//   - env:     map(string, dyn) — active environment profile values
//   - secrets: map(string, dyn) — vault-resolved secret values
//   - request: map(string, dyn) — metadata of the request being rendered
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	opts := make([]cel.EnvOption, 0, len(celNamespaces))
	for _, ns := range celNamespaces {
		opts = append(opts, cel.Variable(ns, mapType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Evaluate compiles (or retrieves from cache) a CEL expression and
// evaluates it against the variable context. Context keys outside the
// known namespaces are ignored; missing namespaces default to empty maps
// so fragments never hit CEL nil-ref runtime errors.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, env map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(env))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeEvaluation,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation creates the evaluation activation from the context.
// Missing namespaces default to empty maps.
func buildActivation(env map[string]any) map[string]any {
	activation := make(map[string]any, len(celNamespaces))
	for _, ns := range celNamespaces {
		if v, ok := env[ns]; ok && v != nil {
			activation[ns] = v
		} else {
			activation[ns] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
