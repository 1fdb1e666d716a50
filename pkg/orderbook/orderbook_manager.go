package orderbook

import (
	"sort"
	"strings"
	"sync"
)

// OrderBookManager is the symbol index: one book per symbol, created on
// first reference and never removed.
type OrderBookManager struct {
	books     sync.Map
	callbacks []func(*Execution)

	mu      sync.Mutex
	resting map[uint64]string // resting order id -> symbol
}

func NewOrderBookManager() *OrderBookManager {
	return &OrderBookManager{
		books:   sync.Map{},
		resting: make(map[uint64]string),
	}
}

// NormalizeSymbol upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(symbol)
}

// AddOrder submits one order to the engine.
func (s *OrderBookManager) AddOrder(order *Order) MatchOutcome {
	switch order.Side {
	case BUY, SELL:
		order.Symbol = NormalizeSymbol(order.Symbol)
		book := s.getOrCreateBook(order.Symbol)
		outcome := book.addOrder(order)

		s.mu.Lock()
		if outcome.Kind == Matched {
			delete(s.resting, outcome.Execution.Resting.ID)
		} else {
			s.resting[order.ID] = order.Symbol
		}
		s.mu.Unlock()
		return outcome
	case CANCEL:
		return s.cancelOrder(order)
	}
	return MatchOutcome{Kind: NotFound}
}

func (s *OrderBookManager) cancelOrder(order *Order) MatchOutcome {
	s.mu.Lock()
	symbol, ok := s.resting[order.TargetID]
	s.mu.Unlock()
	if !ok {
		return MatchOutcome{Kind: NotFound}
	}

	cancelled, err := s.getOrCreateBook(symbol).cancelOrder(order.TargetID, order.ClientID)
	if err != nil {
		return MatchOutcome{Kind: NotFound}
	}

	s.mu.Lock()
	delete(s.resting, order.TargetID)
	s.mu.Unlock()

	return MatchOutcome{Kind: Removed, Cancelled: cancelled}
}

// Restore re-enqueues recovered resting orders without matching. Orders are
// appended in id order so arrival priority survives a restart.
func (s *OrderBookManager) Restore(orders []*Order) {
	sorted := make([]*Order, 0, len(orders))
	sorted = append(sorted, orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, order := range sorted {
		if order.Side != BUY && order.Side != SELL {
			continue
		}
		order.Symbol = NormalizeSymbol(order.Symbol)
		s.getOrCreateBook(order.Symbol).restore(order)

		s.mu.Lock()
		s.resting[order.ID] = order.Symbol
		s.mu.Unlock()
	}
}

// Snapshot returns copies of the bid and ask queues of symbol in arrival order.
func (s *OrderBookManager) Snapshot(symbol string) (bids, asks []Order) {
	val, ok := s.books.Load(NormalizeSymbol(symbol))
	if !ok {
		return nil, nil
	}
	return val.(*orderBook).snapshot()
}

// Symbols lists every symbol seen so far.
func (s *OrderBookManager) Symbols() []string {
	var symbols []string
	s.books.Range(func(k, _ any) bool {
		symbols = append(symbols, k.(string))
		return true
	})
	sort.Strings(symbols)
	return symbols
}

// RestingCount is the number of orders currently resting across all books.
func (s *OrderBookManager) RestingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resting)
}

func (s *OrderBookManager) RegisterTradeCallback(cb func(*Execution)) {
	s.callbacks = append(s.callbacks, cb)

	// apply callback to all books
	s.books.Range(func(_, v any) bool {
		book := v.(*orderBook)
		book.registerTradeCallback(cb)
		return true
	})
}

func (s *OrderBookManager) getOrCreateBook(symbol string) *orderBook {
	if val, ok := s.books.Load(symbol); ok {
		return val.(*orderBook)
	}

	book := newOrderBook(symbol)
	for _, cb := range s.callbacks {
		book.registerTradeCallback(cb)
	}

	actual, _ := s.books.LoadOrStore(symbol, book)
	return actual.(*orderBook)
}
