package orderbook

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerNormalizesSymbol(t *testing.T) {
	m := NewOrderBookManager()

	m.AddOrder(newOrder(1, SELL, "aapl", 100, "100.00"))
	out := m.AddOrder(newOrder(2, BUY, "AAPL", 100, "100.00"))

	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, []string{"AAPL"}, m.Symbols())
	assert.Equal(t, 0, m.RestingCount())
}

func TestManagerSymbolsDoNotInteract(t *testing.T) {
	m := NewOrderBookManager()

	m.AddOrder(newOrder(1, SELL, "AAPL", 100, "100.00"))
	out := m.AddOrder(newOrder(2, BUY, "IBM", 100, "100.00"))

	assert.Equal(t, Queued, out.Kind)
	assert.Equal(t, []string{"AAPL", "IBM"}, m.Symbols())
	assert.Equal(t, 2, m.RestingCount())
}

func TestManagerTradeCallbackReachesLaterBooks(t *testing.T) {
	m := NewOrderBookManager()
	m.AddOrder(newOrder(1, SELL, "AAPL", 1, "1.00"))

	var trades []*Execution
	m.RegisterTradeCallback(func(e *Execution) { trades = append(trades, e) })

	m.AddOrder(newOrder(2, BUY, "AAPL", 1, "1.00"))
	m.AddOrder(newOrder(3, SELL, "IBM", 1, "1.00"))
	m.AddOrder(newOrder(4, BUY, "IBM", 1, "1.00"))

	require.Len(t, trades, 2)
	assert.Equal(t, "AAPL", trades[0].Resting.Symbol)
	assert.Equal(t, "IBM", trades[1].Resting.Symbol)
}

func TestManagerCancel(t *testing.T) {
	m := NewOrderBookManager()
	m.AddOrder(newOrder(1, SELL, "AAPL", 100, "100.00"))

	out := m.AddOrder(&Order{ID: 2, ClientID: "c1", Side: CANCEL, TargetID: 1})
	require.Equal(t, Removed, out.Kind)
	assert.Equal(t, uint64(1), out.Cancelled.ID)

	out = m.AddOrder(&Order{ID: 3, ClientID: "c1", Side: CANCEL, TargetID: 1})
	assert.Equal(t, NotFound, out.Kind)

	// a cancelled order can no longer be hit
	out = m.AddOrder(newOrder(4, BUY, "AAPL", 100, "100.00"))
	assert.Equal(t, Queued, out.Kind)
}

func TestManagerCancelMatchedOrder(t *testing.T) {
	m := NewOrderBookManager()
	m.AddOrder(newOrder(1, SELL, "AAPL", 100, "100.00"))
	m.AddOrder(newOrder(2, BUY, "AAPL", 100, "100.00"))

	out := m.AddOrder(&Order{ID: 3, ClientID: "c1", Side: CANCEL, TargetID: 1})
	assert.Equal(t, NotFound, out.Kind)
}

func TestManagerCancelRequiresOwner(t *testing.T) {
	m := NewOrderBookManager()
	m.AddOrder(newOrder(1, SELL, "AAPL", 100, "100.00"))

	out := m.AddOrder(&Order{ID: 2, ClientID: "c2", Side: CANCEL, TargetID: 1})
	assert.Equal(t, NotFound, out.Kind)
	assert.Equal(t, 1, m.RestingCount())
}

func TestManagerRestoreKeepsArrivalOrder(t *testing.T) {
	m := NewOrderBookManager()
	m.Restore([]*Order{
		newOrder(7, SELL, "ibm", 10, "50.00"),
		newOrder(3, SELL, "IBM", 10, "50.00"),
		newOrder(5, BUY, "IBM", 10, "40.00"),
	})

	bids, asks := m.Snapshot("IBM")
	require.Len(t, bids, 1)
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(3), asks[0].ID)
	assert.Equal(t, uint64(7), asks[1].ID)

	out := m.AddOrder(newOrder(8, BUY, "IBM", 10, "50.00"))
	require.Equal(t, Matched, out.Kind)
	assert.Equal(t, uint64(3), out.Execution.Resting.ID)
}

func TestManagerNeverHoldsIDOnBothSides(t *testing.T) {
	m := NewOrderBookManager()
	r := rand.New(rand.NewSource(42))
	symbols := []string{"AAPL", "IBM", "MSFT"}

	for id := uint64(1); id <= 2000; id++ {
		side := SELL
		if r.Intn(2) == 1 {
			side = BUY
		}
		price := fmt.Sprintf("%d.%02d", 95+r.Intn(10), r.Intn(100))
		m.AddOrder(newOrder(id, side, symbols[r.Intn(len(symbols))], uint64(1+r.Intn(5)), price))
	}

	total := 0
	for _, s := range symbols {
		bids, asks := m.Snapshot(s)
		seen := make(map[uint64]bool)
		for _, o := range bids {
			seen[o.ID] = true
		}
		for _, o := range asks {
			assert.False(t, seen[o.ID], "order %d rests on both sides of %s", o.ID, s)
		}
		total += len(bids) + len(asks)
	}
	assert.Equal(t, total, m.RestingCount())
}

func TestManagerConcurrentSymbols(t *testing.T) {
	m := NewOrderBookManager()

	var mu sync.Mutex
	matched := 0
	m.RegisterTradeCallback(func(*Execution) {
		mu.Lock()
		matched++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM%c", 'A'+g)
			for i := 0; i < 100; i++ {
				base := uint64(g*1000 + i*2)
				m.AddOrder(newOrder(base+1, SELL, symbol, 1, "10.00"))
				m.AddOrder(newOrder(base+2, BUY, symbol, 1, "10.00"))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 400, matched)
	assert.Equal(t, 0, m.RestingCount())
}
