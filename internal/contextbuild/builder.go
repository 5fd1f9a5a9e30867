package contextbuild

import (
	"context"
	"log/slog"

	"github.com/renvik/presend/internal/secrets"
	"github.com/renvik/presend/internal/variables"
	"github.com/renvik/presend/pkg/schema"
)

// Config wires the sources a Builder draws from.
type Config struct {
	// Stores are consulted in order; later stores win on name clashes.
	Stores []variables.Store
	// Base are config-level variables layered over every store.
	Base map[string]any
	// Environment is the active environment profile, exposed under "env".
	Environment map[string]any
	// Vault resolves secret values into the "secrets" namespace.
	// Nil means the namespace stays empty.
	Vault secrets.Vault
}

// Builder assembles the evaluation context for one cycle. The produced
// map has four namespaces — vars, env, secrets, request — and is treated
// as read-only by everything downstream, so one build per cycle is safe
// to share across the concurrent field evaluations.
type Builder struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Builder.
func New(cfg Config, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger}
}

// Build produces the context for a cycle. Precedence within "vars",
// later wins: stores (in order) < base < overrides. req may be nil for
// on-demand evaluation; overrides may be nil.
func (b *Builder) Build(ctx context.Context, req *schema.Request, overrides map[string]any) (map[string]any, error) {
	vars := make(map[string]any)

	for _, store := range b.cfg.Stores {
		stored, err := store.All(ctx)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeContextBuild,
				"load variables: %s", err.Error()).WithCause(err)
		}
		for name, val := range stored {
			vars[name] = deepCopy(val)
		}
	}
	for name, val := range b.cfg.Base {
		vars[name] = deepCopy(val)
	}
	for name, val := range overrides {
		vars[name] = deepCopy(val)
	}

	secretVals, err := b.resolveSecrets(ctx)
	if err != nil {
		return nil, err
	}

	reqMeta := map[string]any{}
	if req != nil {
		reqMeta["name"] = req.Name
	}

	return map[string]any{
		"vars":    vars,
		"env":     deepCopyMap(b.cfg.Environment),
		"secrets": secretVals,
		"request": reqMeta,
	}, nil
}

// resolveSecrets decrypts every vault entry into a plain map.
func (b *Builder) resolveSecrets(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if b.cfg.Vault == nil {
		return out, nil
	}

	keys, err := b.cfg.Vault.List(ctx)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeContextBuild,
			"list secrets: %s", err.Error()).WithCause(err)
	}
	for _, key := range keys {
		val, err := b.cfg.Vault.Resolve(ctx, key)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeContextBuild,
				"resolve secret %q: %s", key, err.Error()).WithCause(err)
		}
		out[key] = string(val)
	}
	return out, nil
}

// deepCopyMap copies a map[string]any recursively. nil in, empty out —
// namespaces are always present so engines never see nil.
func deepCopyMap(m map[string]any) map[string]any {
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopy(v)
	}
	return cp
}

// deepCopy copies maps and slices recursively; primitives pass through.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopy(item)
		}
		return cp
	default:
		return v
	}
}
