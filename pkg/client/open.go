package client

import (
	"context"
	"errors"
	"fmt"

	redis_wrapper "github.com/joripage/mini-exchange/pkg/infra/redis"
)

// OpenCache builds the local cache selected by driver ("memory" or "redis").
func OpenCache(ctx context.Context, driver string, redisCfg *redis_wrapper.RedisConfig) (Cache, error) {
	switch driver {
	case "memory", "":
		return NewMemoryCache(), nil
	case "redis":
		if redisCfg == nil {
			return nil, errors.New("redis cache selected but client.cache_redis is not configured")
		}
		rdb, err := redis_wrapper.InitRedisWithBackoff(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("connect cache redis: %w", err)
		}
		return NewRedisCache(rdb), nil
	}
	return nil, fmt.Errorf("unknown cache driver %q", driver)
}
