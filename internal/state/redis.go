package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/praxis-labs/praxis-go/internal/domain"
)

const defaultKeyPrefix = "praxis:state"

// RedisFactory creates run-scoped stores over a shared Redis client. Each run
// maps to one hash; Redis acknowledges every command before the call returns,
// which gives the synchronous-flush guarantee.
type RedisFactory struct {
	client *goredis.Client
	prefix string
}

func NewRedisFactory(client *goredis.Client, prefix string) (*RedisFactory, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisFactory{client: client, prefix: prefix}, nil
}

func (f *RedisFactory) ForRun(runID string) Store {
	return &redisStore{client: f.client, key: f.prefix + ":" + strings.TrimSpace(runID)}
}

type redisStore struct {
	client *goredis.Client
	key    string
}

func (s *redisStore) Get(ctx context.Context, key string) (any, error) {
	raw, err := s.client.HGet(ctx, s.key, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("hget %s: %w", key, err)
	}
	return decodeValue([]byte(raw))
}

func (s *redisStore) Set(ctx context.Context, key string, value any) error {
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.HSet(ctx, s.key, key, raw).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.key, key).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Update(ctx context.Context, values domain.Metadata) error {
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		raw, err := encodeValue(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		fields[k] = raw
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("hset bulk: %w", err)
	}
	return nil
}

func (s *redisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (s *redisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hkeys: %w", err)
	}
	return keys, nil
}

func (s *redisStore) Export(ctx context.Context) (domain.Metadata, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make(domain.Metadata, len(raw))
	for k, v := range raw {
		value, err := decodeValue([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		out[k] = value
	}
	return out, nil
}

func encodeValue(value any) ([]byte, error) {
	return json.Marshal(value)
}

func decodeValue(raw []byte) (any, error) {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
