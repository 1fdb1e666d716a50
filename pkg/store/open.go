package store

import (
	"context"
	"errors"
	"fmt"

	redis_wrapper "github.com/joripage/mini-exchange/pkg/infra/redis"
)

const (
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Open builds the store selected by driver. Redis connections are retried
// with backoff until ctx ends.
func Open(ctx context.Context, driver string, redisCfg *redis_wrapper.RedisConfig) (ExchangeStore, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis, "":
		if redisCfg == nil {
			return nil, errors.New("redis store selected but no redis section configured")
		}
		rdb, err := redis_wrapper.InitRedisWithBackoff(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return NewRedisStore(rdb), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
