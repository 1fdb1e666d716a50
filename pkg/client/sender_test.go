package client

import (
	"context"
	"testing"
	"time"

	"github.com/joripage/mini-exchange/pkg/clock"
	"github.com/joripage/mini-exchange/pkg/exchange"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startExchange(t *testing.T) (*exchange.Exchange, string) {
	t.Helper()
	ex := exchange.New(store.NewMemoryStore())
	srv := exchange.NewGatewayServer(ex, exchange.GatewayConfig{})
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ex, srv.Addr().String()
}

func newSender(addr, cid string, cache Cache) *Sender {
	return NewSender(SenderConfig{
		GatewayAddr: addr,
		ClientID:    cid,
		Timeout:     2 * time.Second,
		Clock:       clock.Func(func() uint64 { return 77 }),
	}, cache)
}

func TestSenderPlacesOrders(t *testing.T) {
	ex, addr := startExchange(t)
	cache := NewMemoryCache()
	s := newSender(addr, "alice", cache)
	ctx := context.Background()

	resp, err := s.Sell(ctx, "aapl", 100, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.OrderID)
	assert.NotZero(t, resp.ServerTimestamp)

	mine, err := cache.Mine(ctx)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "AAPL", mine[0].Symbol)
	assert.Equal(t, orderbook.SELL, mine[0].Side)

	_, asks := ex.Engine().Snapshot("AAPL")
	require.Len(t, asks, 1)
	assert.Equal(t, "alice", asks[0].ClientID)
	assert.Equal(t, uint64(77), asks[0].ClientTimestamp)

	resp, err = newSender(addr, "bob", nil).Buy(ctx, "AAPL", 100, decimal.RequireFromString("101"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.OrderID)

	bids, asks := ex.Engine().Snapshot("AAPL")
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestSenderCancel(t *testing.T) {
	ex, addr := startExchange(t)
	cache := NewMemoryCache()
	s := newSender(addr, "alice", cache)
	ctx := context.Background()

	placed, err := s.Buy(ctx, "IBM", 10, decimal.RequireFromString("50"))
	require.NoError(t, err)

	// someone else cannot cancel it
	_, err = newSender(addr, "mallory", nil).Cancel(ctx, placed.OrderID)
	assert.ErrorIs(t, err, ordertext.ErrRejected)

	resp, err := s.Cancel(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Greater(t, resp.OrderID, placed.OrderID)

	bids, _ := ex.Engine().Snapshot("IBM")
	assert.Empty(t, bids)
	mine, err := cache.Mine(ctx)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestSenderRejected(t *testing.T) {
	_, addr := startExchange(t)
	cache := NewMemoryCache()
	s := newSender(addr, "alice", cache)

	_, err := s.Buy(context.Background(), "IBM", 0, decimal.RequireFromString("50"))
	assert.ErrorIs(t, err, ordertext.ErrRejected)

	mine, err := cache.Mine(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestSenderGatewayDown(t *testing.T) {
	s := newSender("127.0.0.1:1", "alice", nil)
	_, err := s.Buy(context.Background(), "IBM", 1, decimal.RequireFromString("1"))
	assert.Error(t, err)
}
