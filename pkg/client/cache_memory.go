package client

import (
	"context"
	"sort"
	"sync"

	"github.com/joripage/mini-exchange/pkg/protocol/tape"
)

type MemoryCache struct {
	mu      sync.RWMutex
	details map[uint64]tape.Entry
	all     map[uint64]uint64 // order id -> snapshot tag
	mine    map[uint64]uint64 // order id -> placement timestamp
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		details: make(map[uint64]tape.Entry),
		all:     make(map[uint64]uint64),
		mine:    make(map[uint64]uint64),
	}
}

func (c *MemoryCache) Upsert(_ context.Context, entries []tape.Entry, tag uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.details[e.OrderID] = e
		c.all[e.OrderID] = tag
	}
	return nil
}

func (c *MemoryCache) Prune(_ context.Context, tag uint64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for id, t := range c.all {
		if t == tag {
			continue
		}
		delete(c.all, id)
		if _, ok := c.mine[id]; !ok {
			delete(c.details, id)
		}
		pruned++
	}
	return pruned, nil
}

func (c *MemoryCache) AddMine(_ context.Context, entry tape.Entry, placedAt uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[entry.OrderID] = entry
	c.mine[entry.OrderID] = placedAt
	return nil
}

func (c *MemoryCache) RemoveMine(_ context.Context, orderID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mine, orderID)
	if _, ok := c.all[orderID]; !ok {
		delete(c.details, orderID)
	}
	return nil
}

func (c *MemoryCache) All(_ context.Context) ([]tape.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(c.all), nil
}

func (c *MemoryCache) Mine(_ context.Context) ([]tape.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collect(c.mine), nil
}

func (c *MemoryCache) collect(index map[uint64]uint64) []tape.Entry {
	out := make([]tape.Entry, 0, len(index))
	for id := range index {
		if e, ok := c.details[id]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

func (c *MemoryCache) Close() error { return nil }
