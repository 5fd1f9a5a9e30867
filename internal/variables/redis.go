package variables

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/renvik/presend/pkg/schema"
)

const defaultRedisKey = "presend:variables"

// RedisStore persists variables in a single Redis hash, one field per
// variable, values JSON-encoded. Suits deployments where several
// renderers share one variable set.
type RedisStore struct {
	client *redis.Client
	key    string
}

// RedisConfig configures the Redis variable store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string // hash key, defaults to "presend:variables"
}

// NewRedisStore connects to Redis and returns a Store backed by it.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	key := cfg.Key
	if key == "" {
		key = defaultRedisKey
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"redis ping failed for %q: %s", cfg.Addr, err.Error()).WithCause(err)
	}

	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Get(ctx context.Context, name string) (any, error) {
	raw, err := s.client.HGet(ctx, s.key, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"redis get %q: %s", name, err.Error()).WithCause(err)
	}
	return decodeValue(name, raw)
}

func (s *RedisStore) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"marshal variable %q: %s", name, err.Error()).WithCause(err)
	}
	if err := s.client.HSet(ctx, s.key, name, string(raw)).Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"redis set %q: %s", name, err.Error()).WithCause(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	n, err := s.client.HDel(ctx, s.key, name).Result()
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"redis delete %q: %s", name, err.Error()).WithCause(err)
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "variable %q not found", name)
	}
	return nil
}

func (s *RedisStore) All(ctx context.Context) (map[string]any, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"redis list variables: %s", err.Error()).WithCause(err)
	}

	out := make(map[string]any, len(fields))
	for name, raw := range fields {
		val, err := decodeValue(name, raw)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// decodeValue unmarshals a stored JSON value.
func decodeValue(name, raw string) (any, error) {
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"corrupt variable %q: %s", name, err.Error()).WithCause(err)
	}
	return val, nil
}

var _ Store = (*RedisStore)(nil)
