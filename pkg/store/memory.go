package store

import (
	"context"
	"sort"
	"sync"

	"github.com/joripage/mini-exchange/pkg/orderbook"
)

// MemoryStore keeps everything in process. It serves single-process setups
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[uint64]*OrderRecord
	active   map[uint64]struct{}
	executed map[uint64]struct{}
	c2ip     map[string]string
	lastID   uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[uint64]*OrderRecord),
		active:   make(map[uint64]struct{}),
		executed: make(map[uint64]struct{}),
		c2ip:     make(map[string]string),
	}
}

func (s *MemoryStore) bumpLastID(id uint64) {
	if id > s.lastID {
		s.lastID = id
	}
}

func (s *MemoryStore) SaveOrder(_ context.Context, order *orderbook.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = &OrderRecord{Order: *order, Status: StatusActive}
	s.active[order.ID] = struct{}{}
	s.bumpLastID(order.ID)
	return nil
}

func (s *MemoryStore) RecordExecution(_ context.Context, exec *orderbook.Execution, tsExec uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	aggressor, resting := exec.Aggressor, exec.Resting

	rec, ok := s.orders[resting.ID]
	if !ok {
		rec = &OrderRecord{Order: *resting}
		s.orders[resting.ID] = rec
	}
	rec.Status = StatusExecuted
	rec.ExecPrice = exec.Price
	rec.TsExec = tsExec
	rec.CounterID = aggressor.ID

	s.orders[aggressor.ID] = &OrderRecord{
		Order:     *aggressor,
		Status:    StatusExecuted,
		ExecPrice: exec.Price,
		TsExec:    tsExec,
		CounterID: resting.ID,
	}

	delete(s.active, resting.ID)
	s.executed[resting.ID] = struct{}{}
	s.executed[aggressor.ID] = struct{}{}
	s.bumpLastID(aggressor.ID)
	return nil
}

func (s *MemoryStore) RecordCancel(_ context.Context, request, cancelled *orderbook.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bumpLastID(request.ID)
	if cancelled == nil {
		return nil
	}
	delete(s.active, cancelled.ID)
	if rec, ok := s.orders[cancelled.ID]; ok {
		rec.Status = StatusCancelled
	}
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id uint64) (*OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ActiveOrders(_ context.Context) ([]*orderbook.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]*orderbook.Order, 0, len(s.active))
	for id := range s.active {
		o := s.orders[id].Order
		orders = append(orders, &o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s *MemoryStore) LastOrderID(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastID, nil
}

func (s *MemoryStore) PendingExecutions(_ context.Context) ([]PendingExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]PendingExecution, 0, len(s.executed))
	for id := range s.executed {
		pending = append(pending, pendingFromRecord(s.orders[id]))
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].OrderID < pending[j].OrderID })
	return pending, nil
}

func (s *MemoryStore) AcknowledgeExecution(_ context.Context, orderID, tsAck uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executed[orderID]; !ok {
		return ErrNotFound
	}
	delete(s.executed, orderID)
	rec := s.orders[orderID]
	rec.Status = StatusAcknowledged
	rec.TsAck = tsAck
	return nil
}

func (s *MemoryStore) SetClientAddress(_ context.Context, clientID, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c2ip[clientID] = ip
	return nil
}

func (s *MemoryStore) ClientAddress(_ context.Context, clientID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ip, ok := s.c2ip[clientID]
	if !ok {
		return "", ErrNotFound
	}
	return ip, nil
}

func (s *MemoryStore) ClientAddresses(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.c2ip))
	for k, v := range s.c2ip {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func pendingFromRecord(rec *OrderRecord) PendingExecution {
	return PendingExecution{
		OrderID:    rec.Order.ID,
		ClientID:   rec.Order.ClientID,
		Symbol:     rec.Order.Symbol,
		Side:       rec.Order.Side,
		Qty:        rec.Order.Qty,
		Price:      rec.ExecPrice,
		TsPlaced:   rec.Order.ServerTimestamp,
		TsExecuted: rec.TsExec,
	}
}
