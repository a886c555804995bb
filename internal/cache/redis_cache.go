package cache

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisEventDedupe struct {
	client *redis.Client
}

func NewRedisEventDedupe(addr string, password string, db int) *RedisEventDedupe {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisEventDedupe{client: client}
}

func (c *RedisEventDedupe) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisEventDedupe) Close() error {
	return c.client.Close()
}

func (c *RedisEventDedupe) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return c.client.SetNX(ctx, "stocklink:event:"+eventID, 1, ttl).Result()
}
