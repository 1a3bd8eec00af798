package control

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "praxis:control"

// RedisChannel stores one pending command per run in Redis.
type RedisChannel struct {
	client *goredis.Client
	prefix string
}

func NewRedisChannel(client *goredis.Client, prefix string) (*RedisChannel, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisChannel{client: client, prefix: prefix}, nil
}

func (c *RedisChannel) key(runID string) string {
	return c.prefix + ":" + strings.TrimSpace(runID)
}

func (c *RedisChannel) Get(ctx context.Context, runID string) (Command, error) {
	raw, err := c.client.Get(ctx, c.key(runID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return CommandNone, nil
		}
		return CommandNone, fmt.Errorf("get command: %w", err)
	}
	return NormalizeCommand(raw), nil
}

func (c *RedisChannel) Set(ctx context.Context, runID string, cmd Command) error {
	if NormalizeCommand(string(cmd)) == CommandNone {
		return fmt.Errorf("invalid command %q", cmd)
	}
	if err := c.client.Set(ctx, c.key(runID), string(cmd), 0).Err(); err != nil {
		return fmt.Errorf("set command: %w", err)
	}
	return nil
}

func (c *RedisChannel) Clear(ctx context.Context, runID string) error {
	if err := c.client.Del(ctx, c.key(runID)).Err(); err != nil {
		return fmt.Errorf("clear command: %w", err)
	}
	return nil
}
