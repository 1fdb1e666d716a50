package client

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/tape"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	keyAllOrders   = "customer_all_orders"
	keyMyOrders    = "customer_my_orders"
	keyOrderPrefix = "c-order:"
)

func cacheKey(id uint64) string {
	return keyOrderPrefix + strconv.FormatUint(id, 10)
}

// RedisCache keeps the local view in Redis: one c-order:<id> hash per order
// and two id -> tag hashes for the market and for this client's orders.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func entryFields(e tape.Entry, tag uint64) map[string]any {
	return map[string]any{
		"oid":      e.OrderID,
		"t_server": tag,
		"symbol":   e.Symbol,
		"op":       e.Side.Code(),
		"price":    e.Price.StringFixed(2),
		"qty":      e.Qty,
	}
}

func (c *RedisCache) Upsert(ctx context.Context, entries []tape.Entry, tag uint64) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.HSet(ctx, cacheKey(e.OrderID), entryFields(e, tag))
			pipe.HSet(ctx, keyAllOrders, e.OrderID, tag)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert %d cached orders: %w", len(entries), err)
	}
	return nil
}

func (c *RedisCache) Prune(ctx context.Context, tag uint64) (int, error) {
	all, err := c.rdb.HGetAll(ctx, keyAllOrders).Result()
	if err != nil {
		return 0, fmt.Errorf("list cached orders: %w", err)
	}
	current := strconv.FormatUint(tag, 10)

	var stale []string
	for id, t := range all {
		if t != current {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	mine, err := c.rdb.HKeys(ctx, keyMyOrders).Result()
	if err != nil {
		return 0, fmt.Errorf("list my orders: %w", err)
	}
	keep := make(map[string]struct{}, len(mine))
	for _, id := range mine {
		keep[id] = struct{}{}
	}

	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, keyAllOrders, stale...)
		for _, id := range stale {
			if _, ok := keep[id]; !ok {
				pipe.Del(ctx, keyOrderPrefix+id)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune cached orders: %w", err)
	}
	return len(stale), nil
}

func (c *RedisCache) AddMine(ctx context.Context, entry tape.Entry, placedAt uint64) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, cacheKey(entry.OrderID), entryFields(entry, placedAt))
		pipe.HSet(ctx, keyMyOrders, entry.OrderID, placedAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("add my order %d: %w", entry.OrderID, err)
	}
	return nil
}

func (c *RedisCache) RemoveMine(ctx context.Context, orderID uint64) error {
	id := strconv.FormatUint(orderID, 10)
	inMarket, err := c.rdb.HExists(ctx, keyAllOrders, id).Result()
	if err != nil {
		return fmt.Errorf("remove my order %d: %w", orderID, err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, keyMyOrders, id)
		if !inMarket {
			pipe.Del(ctx, cacheKey(orderID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove my order %d: %w", orderID, err)
	}
	return nil
}

func (c *RedisCache) All(ctx context.Context) ([]tape.Entry, error) {
	return c.list(ctx, keyAllOrders)
}

func (c *RedisCache) Mine(ctx context.Context) ([]tape.Entry, error) {
	return c.list(ctx, keyMyOrders)
}

func (c *RedisCache) list(ctx context.Context, index string) ([]tape.Entry, error) {
	ids, err := c.rdb.HKeys(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", index, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = c.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, keyOrderPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", index, err)
	}

	entries := make([]tape.Entry, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		e, err := entryFromHash(fields)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].OrderID < entries[j].OrderID })
	return entries, nil
}

func entryFromHash(f map[string]string) (tape.Entry, error) {
	var (
		e   tape.Entry
		err error
	)
	if e.OrderID, err = strconv.ParseUint(f["oid"], 10, 64); err != nil {
		return tape.Entry{}, fmt.Errorf("cached order id %q: %w", f["oid"], err)
	}
	e.Symbol = f["symbol"]
	op, err := strconv.ParseUint(f["op"], 10, 8)
	if err != nil {
		return tape.Entry{}, fmt.Errorf("cached order %d op %q: %w", e.OrderID, f["op"], err)
	}
	if e.Side, err = orderbook.ParseSide(op); err != nil {
		return tape.Entry{}, err
	}
	if e.Price, err = decimal.NewFromString(f["price"]); err != nil {
		return tape.Entry{}, fmt.Errorf("cached order %d price: %w", e.OrderID, err)
	}
	if e.Qty, err = strconv.ParseUint(f["qty"], 10, 64); err != nil {
		return tape.Entry{}, fmt.Errorf("cached order %d qty: %w", e.OrderID, err)
	}
	return e, nil
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
