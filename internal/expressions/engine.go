package expressions

import "context"

// Engine evaluates a single expression fragment against the variable
// context of the current cycle.
// Three implementations: Expr (default), CEL ("cel:"), GoJQ ("jq:").
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, env map[string]any) (any, error)
}

// Memo is the per-cycle memoization surface handed to the renderer.
// Satisfied by cache.Cycle. Entries never outlive one evaluation cycle.
type Memo interface {
	Get(key, group string) (any, bool)
	Set(key, group string, val any)
}
