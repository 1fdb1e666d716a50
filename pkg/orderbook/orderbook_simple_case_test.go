package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newOrder(id uint64, side Side, symbol string, qty uint64, price string) *Order {
	return &Order{ID: id, ClientID: "c1", Symbol: symbol, Side: side, Qty: qty, Price: px(price)}
}

func TestSimpleMatch(t *testing.T) {
	ob := newOrderBook("AAPL")
	var trades []*Execution
	ob.registerTradeCallback(func(e *Execution) { trades = append(trades, e) })

	sell := newOrder(1, SELL, "AAPL", 100, "100.00")
	buy := newOrder(2, BUY, "AAPL", 100, "100.00")

	require.Equal(t, Queued, ob.addOrder(sell).Kind)
	out := ob.addOrder(buy)

	require.Equal(t, Matched, out.Kind)
	require.Len(t, trades, 1)
	assert.Same(t, buy, out.Execution.Aggressor)
	assert.Same(t, sell, out.Execution.Resting)
	assert.True(t, out.Execution.Price.Equal(px("100.00")))

	bids, asks := ob.snapshot()
	assert.Empty(t, bids)
	assert.Empty(t, asks)
}

func TestNoMatchDueToPrice(t *testing.T) {
	ob := newOrderBook("AAPL")
	ob.registerTradeCallback(func(e *Execution) {
		t.Fatalf("unexpected trade %v / %v", e.Aggressor, e.Resting)
	})

	assert.Equal(t, Queued, ob.addOrder(newOrder(1, SELL, "AAPL", 100, "105.00")).Kind)
	assert.Equal(t, Queued, ob.addOrder(newOrder(2, BUY, "AAPL", 100, "100.00")).Kind)

	bids, asks := ob.snapshot()
	assert.Len(t, bids, 1)
	assert.Len(t, asks, 1)
}

func TestNoPartialFill(t *testing.T) {
	ob := newOrderBook("AAPL")
	ob.registerTradeCallback(func(e *Execution) {
		t.Fatalf("unexpected trade %v / %v", e.Aggressor, e.Resting)
	})

	assert.Equal(t, Queued, ob.addOrder(newOrder(1, SELL, "AAPL", 50, "100.00")).Kind)
	assert.Equal(t, Queued, ob.addOrder(newOrder(2, BUY, "AAPL", 100, "100.00")).Kind)

	bids, asks := ob.snapshot()
	require.Len(t, bids, 1)
	require.Len(t, asks, 1)
	assert.Equal(t, uint64(100), bids[0].Qty)
	assert.Equal(t, uint64(50), asks[0].Qty)
}

func TestPriceImprovementForRestingSeller(t *testing.T) {
	ob := newOrderBook("IBM")

	ob.addOrder(newOrder(10, SELL, "IBM", 10, "50.00"))
	out := ob.addOrder(newOrder(11, BUY, "IBM", 10, "55.00"))

	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, "55.00", out.Execution.Price.StringFixed(2))
	assert.Equal(t, "55.00", out.Execution.Resting.Price.StringFixed(2))
}

func TestPriceImprovementForRestingBuyer(t *testing.T) {
	ob := newOrderBook("IBM")

	ob.addOrder(newOrder(1, BUY, "IBM", 10, "60.00"))
	out := ob.addOrder(newOrder(2, SELL, "IBM", 10, "58.50"))

	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, "58.50", out.Execution.Price.StringFixed(2))
	assert.Same(t, out.Execution.Buyer(), out.Execution.Resting)
	assert.Same(t, out.Execution.Seller(), out.Execution.Aggressor)
}

func TestScanSkipsIneligibleHead(t *testing.T) {
	ob := newOrderBook("MSFT")

	ob.addOrder(newOrder(1, SELL, "MSFT", 10, "110.00")) // price too high
	ob.addOrder(newOrder(2, SELL, "MSFT", 20, "90.00"))  // wrong qty
	ob.addOrder(newOrder(3, SELL, "MSFT", 10, "95.00"))

	out := ob.addOrder(newOrder(4, BUY, "MSFT", 10, "100.00"))
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, uint64(3), out.Execution.Resting.ID)

	_, asks := ob.snapshot()
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(1), asks[0].ID)
	assert.Equal(t, uint64(2), asks[1].ID)
}

func TestFirstMatchIsTimePriority(t *testing.T) {
	ob := newOrderBook("MSFT")

	// the later order has the better price but the earlier one still wins
	ob.addOrder(newOrder(1, SELL, "MSFT", 10, "99.00"))
	ob.addOrder(newOrder(2, SELL, "MSFT", 10, "90.00"))

	out := ob.addOrder(newOrder(3, BUY, "MSFT", 10, "100.00"))
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, uint64(1), out.Execution.Resting.ID)
}

func TestCancelOrder(t *testing.T) {
	ob := newOrderBook("AAPL")
	ob.addOrder(newOrder(1, BUY, "AAPL", 10, "10.00"))
	ob.addOrder(newOrder(2, SELL, "AAPL", 10, "20.00"))

	_, err := ob.cancelOrder(2, "someone-else")
	assert.ErrorIs(t, err, errOrderNotFound)

	cancelled, err := ob.cancelOrder(2, "c1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cancelled.ID)

	_, err = ob.cancelOrder(2, "c1")
	assert.ErrorIs(t, err, errOrderNotFound)

	bids, asks := ob.snapshot()
	assert.Len(t, bids, 1)
	assert.Empty(t, asks)
}
