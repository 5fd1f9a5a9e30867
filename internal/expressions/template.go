package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/renvik/presend/pkg/schema"
)

// Renderer rewrites ${{...}} fragments embedded in request strings.
// Each fragment is routed to an engine by name prefix ("cel:", "jq:");
// fragments without a prefix go to the default engine. Literal text
// around fragments passes through untouched, and strings containing no
// fragment are returned as-is without any engine call.
type Renderer struct {
	fallback Engine
	engines  map[string]Engine
}

// NewRenderer creates a Renderer with the given default engine and any
// alternate engines selectable by "<name>:" fragment prefix.
func NewRenderer(fallback Engine, alternates ...Engine) *Renderer {
	engines := make(map[string]Engine, len(alternates))
	for _, e := range alternates {
		engines[e.Name()] = e
	}
	return &Renderer{fallback: fallback, engines: engines}
}

// HasTemplate reports whether s contains at least one ${{ marker.
func HasTemplate(s string) bool {
	return strings.Contains(s, "${{")
}

// Render evaluates every ${{...}} fragment in input and splices the
// stringified results back into the surrounding text. Fragment results
// are memoized in the per-cycle memo when one is provided.
func (r *Renderer) Render(ctx context.Context, input string, env map[string]any, memo Memo) (string, error) {
	if !HasTemplate(input) {
		return input, nil
	}

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3 // skip "${{"

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeTemplate, "unclosed ${{ expression")
		}
		end += start

		frag := strings.TrimSpace(input[start:end])

		if strings.Contains(frag, "${{") {
			return "", schema.NewError(schema.ErrCodeTemplate,
				"nested templates not allowed: ${{...}} cannot contain ${{")
		}
		if frag == "" {
			return "", schema.NewError(schema.ErrCodeTemplate, "empty template fragment: ${{  }}")
		}

		val, err := r.evalFragment(ctx, frag, env, memo)
		if err != nil {
			return "", err
		}

		result.WriteString(stringifyInline(val))
		i = end + 2 // skip "}}"
	}

	return result.String(), nil
}

// Eval evaluates input and returns the raw engine value when the whole
// string is exactly one fragment; otherwise it behaves like Render.
// Used by on-demand evaluation, where callers want typed results.
func (r *Renderer) Eval(ctx context.Context, input string, env map[string]any, memo Memo) (any, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "${{") && strings.HasSuffix(trimmed, "}}") {
		frag := strings.TrimSpace(trimmed[3 : len(trimmed)-2])
		if frag != "" && !strings.Contains(frag, "${{") && !strings.Contains(frag, "}}") {
			return r.evalFragment(ctx, frag, env, memo)
		}
	}
	return r.Render(ctx, input, env, memo)
}

// evalFragment routes one fragment to its engine, consulting the memo first.
func (r *Renderer) evalFragment(ctx context.Context, frag string, env map[string]any, memo Memo) (any, error) {
	engine, expression := r.route(frag)

	if memo != nil {
		if val, ok := memo.Get(frag, engine.Name()); ok {
			return val, nil
		}
	}

	val, err := engine.Evaluate(ctx, expression, env)
	if err != nil {
		return nil, err
	}

	if memo != nil {
		memo.Set(frag, engine.Name(), val)
	}
	return val, nil
}

// route picks the engine for a fragment. Only registered engine names
// followed by a colon count as a prefix; any other colon belongs to the
// expression itself.
func (r *Renderer) route(frag string) (Engine, string) {
	for name, engine := range r.engines {
		if strings.HasPrefix(frag, name+":") {
			return engine, strings.TrimSpace(frag[len(name)+1:])
		}
	}
	return r.fallback, frag
}

// stringifyInline converts an evaluated fragment value into the text
// spliced into the surrounding string. Strings are embedded without
// quotes; complex values are JSON-encoded inline.
func stringifyInline(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", v)
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
