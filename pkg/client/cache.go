package client

import (
	"context"

	"github.com/joripage/mini-exchange/pkg/protocol/tape"
)

// Cache is the client's local view of the market: every order seen on the
// latest tape snapshot, plus the orders this client placed and has not been
// notified about yet.
type Cache interface {
	// Upsert records entries, tagging each with the snapshot tag.
	Upsert(ctx context.Context, entries []tape.Entry, tag uint64) error
	// Prune drops every market entry whose tag differs from tag and returns
	// how many were dropped.
	Prune(ctx context.Context, tag uint64) (int, error)

	AddMine(ctx context.Context, entry tape.Entry, placedAt uint64) error
	RemoveMine(ctx context.Context, orderID uint64) error

	// All and Mine return entries sorted by order id.
	All(ctx context.Context) ([]tape.Entry, error)
	Mine(ctx context.Context) ([]tape.Entry, error)

	Close() error
}

// Reconcile applies one full tape snapshot: upsert what is listed, prune
// everything the snapshot did not refresh. Applying the same snapshot twice
// leaves the cache unchanged.
func Reconcile(ctx context.Context, c Cache, snap tape.Snapshot) (int, error) {
	if err := c.Upsert(ctx, snap.Entries, snap.Timestamp); err != nil {
		return 0, err
	}
	return c.Prune(ctx, snap.Timestamp)
}
