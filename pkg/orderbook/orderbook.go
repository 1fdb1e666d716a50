// file: pkg/orderbook/orderbook.go

package orderbook

import (
	"sync"

	"github.com/gammazero/deque"
)

// orderBook holds the resting orders of one symbol. There are no price
// levels: each side is a single arrival-ordered queue scanned linearly.
type orderBook struct {
	symbol string

	bids deque.Deque[*Order]
	asks deque.Deque[*Order]

	callbacks []func(*Execution)

	mu sync.Mutex
}

func newOrderBook(symbol string) *orderBook {
	return &orderBook{
		symbol: symbol,
	}
}

func (ob *orderBook) registerTradeCallback(fn func(*Execution)) {
	ob.callbacks = append(ob.callbacks, fn)
}

func (ob *orderBook) queue(side Side) *deque.Deque[*Order] {
	if side == BUY {
		return &ob.bids
	}
	return &ob.asks
}

// addOrder matches order against the opposite queue or appends it to its own.
func (ob *orderBook) addOrder(order *Order) MatchOutcome {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	counter := ob.queue(order.Side.opposite())

	var priceCompare func(incoming, resting *Order) bool
	if order.Side == BUY {
		priceCompare = func(incoming, resting *Order) bool { return incoming.Price.GreaterThanOrEqual(resting.Price) }
	} else {
		priceCompare = func(incoming, resting *Order) bool { return incoming.Price.LessThanOrEqual(resting.Price) }
	}

	// first eligible candidate in arrival order wins; ineligible ones are skipped, not a stop
	idx := counter.Index(func(resting *Order) bool {
		return priceCompare(order, resting) && order.Qty == resting.Qty
	})
	if idx < 0 {
		ob.queue(order.Side).PushBack(order)
		return MatchOutcome{Kind: Queued}
	}

	resting := counter.Remove(idx)
	if improvesFor(resting, order) {
		resting.Price = order.Price
	}

	exec := &Execution{
		Aggressor: order,
		Resting:   resting,
		Price:     resting.Price,
	}
	for _, cb := range ob.callbacks {
		cb(exec)
	}

	return MatchOutcome{Kind: Matched, Execution: exec}
}

// improvesFor reports whether the aggressor's price is strictly better for
// the resting order than the resting order's own price.
func improvesFor(resting, aggressor *Order) bool {
	if resting.Side == SELL {
		return aggressor.Price.GreaterThan(resting.Price)
	}
	return aggressor.Price.LessThan(resting.Price)
}

// restore appends a recovered order to the tail of its queue without matching.
func (ob *orderBook) restore(order *Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.queue(order.Side).PushBack(order)
}

// cancelOrder removes the resting order with orderID if it belongs to owner.
func (ob *orderBook) cancelOrder(orderID uint64, owner string) (*Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for _, q := range []*deque.Deque[*Order]{&ob.bids, &ob.asks} {
		idx := q.Index(func(o *Order) bool { return o.ID == orderID && o.ClientID == owner })
		if idx >= 0 {
			return q.Remove(idx), nil
		}
	}

	return nil, errOrderNotFound
}

// snapshot copies both queues in arrival order.
func (ob *orderBook) snapshot() (bids, asks []Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	bids = make([]Order, 0, ob.bids.Len())
	for i := 0; i < ob.bids.Len(); i++ {
		bids = append(bids, *ob.bids.At(i))
	}
	asks = make([]Order, 0, ob.asks.Len())
	for i := 0; i < ob.asks.Len(); i++ {
		asks = append(asks, *ob.asks.At(i))
	}
	return bids, asks
}
