package variables

import "context"

// Store is the variables manager persistence contract. Variable values
// are arbitrary JSON-compatible values keyed by name.
// All implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, name string) (any, error)
	Set(ctx context.Context, name string, value any) error
	Delete(ctx context.Context, name string) error
	All(ctx context.Context) (map[string]any, error)
	Close() error
}
