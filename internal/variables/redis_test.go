package variables

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRedisStore_SetGet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "host", "api.example.com"))
	require.NoError(t, s.Set(ctx, "limits", map[string]any{"rps": 10}))

	val, err := s.Get(ctx, "host")
	require.NoError(t, err)
	assert.Equal(t, "api.example.com", val)

	val, err = s.Get(ctx, "limits")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"rps": float64(10)}, val)
}

func TestRedisStore_GetMissing(t *testing.T) {
	s := newTestRedisStore(t)

	_, err := s.Get(context.Background(), "nope")
	assertNotFound(t, err)
}

func TestRedisStore_Delete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "host", "h"))
	require.NoError(t, s.Delete(ctx, "host"))
	assertNotFound(t, s.Delete(ctx, "host"))
}

func TestRedisStore_All(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", 1))
	require.NoError(t, s.Set(ctx, "b", "two"))

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "two"}, all)
}

func TestNewRedisStore_BadAddr(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	require.Error(t, err)
}
