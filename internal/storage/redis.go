package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"campaign-sdk/internal/segment"
)

// KeyPrefix namespaces cached user states, e.g. "userstate:<project>:<user>".
const KeyPrefix = "userstate"

// RedisCache implements StateCache on Redis strings holding JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects and pings once so a bad address fails at startup.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, projectID, userID string) (segment.UserState, bool, error) {
	var state segment.UserState
	raw, err := c.client.Get(ctx, stateKey(projectID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, false, nil
	}
	if err != nil {
		return state, false, fmt.Errorf("get user state: %w", err)
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, false, fmt.Errorf("decode user state: %w", err)
	}
	return state, true, nil
}

func (c *RedisCache) Set(ctx context.Context, projectID, userID string, state segment.UserState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode user state: %w", err)
	}
	if err := c.client.Set(ctx, stateKey(projectID, userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set user state: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, projectID, userID string) error {
	if err := c.client.Del(ctx, stateKey(projectID, userID)).Err(); err != nil {
		return fmt.Errorf("invalidate user state: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
