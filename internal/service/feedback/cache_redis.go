package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

const redisKeyPrefix = "interview:feedback:"

// RedisCache keeps compiled feedback across restarts of the service, within the TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, interviewID string) (model.Feedback, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+interviewID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Feedback{}, false, nil
	}
	if err != nil {
		return model.Feedback{}, false, err
	}
	var fb model.Feedback
	if err := json.Unmarshal(raw, &fb); err != nil {
		return model.Feedback{}, false, fmt.Errorf("decode cached feedback: %w", err)
	}
	return fb, true, nil
}

func (c *RedisCache) Set(ctx context.Context, fb model.Feedback) error {
	raw, err := json.Marshal(fb)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+fb.InterviewID, raw, c.ttl).Err()
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
