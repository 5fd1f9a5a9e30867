package variables

import (
	"context"
	"sync"

	"github.com/renvik/presend/pkg/schema"
)

// MemoryStore is an in-memory Store, used standalone in tests and as the
// default backend when no persistence is configured. It also persists
// secret blobs for the vault.
type MemoryStore struct {
	mu      sync.RWMutex
	vars    map[string]any
	secrets map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vars:    make(map[string]any),
		secrets: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(_ context.Context, name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.vars[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, name string, value any) error {
	s.mu.Lock()
	s.vars[name] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
	}
	delete(s.vars, name)
	return nil
}

func (s *MemoryStore) All(_ context.Context) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// --- secret persistence (secrets.SecretStore) ---

func (s *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.secrets[key] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.secrets[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	return keys, nil
}

var _ Store = (*MemoryStore)(nil)
