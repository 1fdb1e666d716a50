// Package exchange holds the exchange process state (engine, order id
// sequence, client address map, durable store) and the order gateway server
// that feeds it.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/mini-exchange/pkg/clock"
	"github.com/joripage/mini-exchange/pkg/metrics"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/store"
	"go.uber.org/zap"
)

// ExecutionPublisher receives every match after it is persisted.
type ExecutionPublisher interface {
	PublishExecution(ctx context.Context, exec *orderbook.Execution, tsExec uint64) error
}

type Option func(*Exchange)

func WithClock(c clock.Clock) Option {
	return func(e *Exchange) { e.clock = c }
}

func WithExecutionPublisher(p ExecutionPublisher) Option {
	return func(e *Exchange) { e.events = p }
}

// WithStoreRetry sets how often a failed store write is retried.
func WithStoreRetry(attempts uint64, interval time.Duration) Option {
	return func(e *Exchange) {
		e.storeRetries = attempts
		e.storeRetryInterval = interval
	}
}

type Exchange struct {
	engine *orderbook.OrderBookManager
	store  store.ExchangeStore
	clock  clock.Clock
	events ExecutionPublisher

	storeRetries       uint64
	storeRetryInterval time.Duration

	// serializes submissions: id assignment, matching and the store write
	// happen in one order for everyone
	submitMu sync.Mutex
	lastID   uint64

	addrMu  sync.RWMutex
	clients map[string]string
}

func New(st store.ExchangeStore, opts ...Option) *Exchange {
	e := &Exchange{
		engine:             orderbook.NewOrderBookManager(),
		store:              st,
		clock:              clock.Default,
		storeRetries:       3,
		storeRetryInterval: 50 * time.Millisecond,
		clients:            make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.engine.RegisterTradeCallback(func(*orderbook.Execution) {
		metrics.ExecutionsTotal.Inc()
	})
	return e
}

func (e *Exchange) Engine() *orderbook.OrderBookManager {
	return e.engine
}

func (e *Exchange) Store() store.ExchangeStore {
	return e.store
}

// LastOrderID is the most recently assigned order id.
func (e *Exchange) LastOrderID() uint64 {
	e.submitMu.Lock()
	defer e.submitMu.Unlock()
	return e.lastID
}

// ClientAddress returns the last IP an order from clientID came from.
func (e *Exchange) ClientAddress(clientID string) (string, bool) {
	e.addrMu.RLock()
	defer e.addrMu.RUnlock()
	ip, ok := e.clients[clientID]
	return ip, ok
}

// Recover rebuilds in-memory state from the store: resting orders are put
// back in id order without matching, the id sequence continues after the
// highest id the store has seen, and the client address map is reloaded.
// It must run before the gateway accepts traffic.
func (e *Exchange) Recover(ctx context.Context) error {
	active, err := e.store.ActiveOrders(ctx)
	if err != nil {
		return fmt.Errorf("recover active orders: %w", err)
	}
	pending, err := e.store.PendingExecutions(ctx)
	if err != nil {
		return fmt.Errorf("recover pending executions: %w", err)
	}
	last, err := e.store.LastOrderID(ctx)
	if err != nil {
		return fmt.Errorf("recover last order id: %w", err)
	}
	addrs, err := e.store.ClientAddresses(ctx)
	if err != nil {
		return fmt.Errorf("recover client addresses: %w", err)
	}

	for _, o := range active {
		if o.ID > last {
			last = o.ID
		}
	}
	for _, p := range pending {
		if p.OrderID > last {
			last = p.OrderID
		}
	}

	e.engine.Restore(active)

	e.submitMu.Lock()
	if last > e.lastID {
		e.lastID = last
	}
	e.submitMu.Unlock()

	e.addrMu.Lock()
	for cid, ip := range addrs {
		e.clients[cid] = ip
	}
	e.addrMu.Unlock()

	zap.S().Infow("exchange recovered",
		"active_orders", len(active),
		"pending_executions", len(pending),
		"last_order_id", last,
		"clients", len(addrs),
	)
	return nil
}

// Submit runs one accepted request through the engine and the store.
//
// The returned response is valid whenever an order id was assigned, even
// when err is ErrCancelNotFound or ErrNotPersisted.
func (e *Exchange) Submit(ctx context.Context, req *ordertext.Request, peerIP string) (ordertext.Response, orderbook.MatchOutcome, error) {
	if err := e.rememberClient(ctx, req.ClientID, peerIP); err != nil {
		return ordertext.Response{}, orderbook.MatchOutcome{}, err
	}

	e.submitMu.Lock()
	defer e.submitMu.Unlock()

	e.lastID++
	id := e.lastID
	ts := e.clock.Now()
	order := req.Order(id, ts)
	outcome := e.engine.AddOrder(order)

	resp := ordertext.Response{ServerTimestamp: ts, OrderID: id}
	metrics.OrdersTotal.WithLabelValues(strings.ToLower(req.Side.String()), outcome.Kind.String()).Inc()

	var persistErr error
	switch outcome.Kind {
	case orderbook.Queued:
		persistErr = e.persist(ctx, "save order", func() error {
			return e.store.SaveOrder(ctx, order)
		})
	case orderbook.Matched:
		tsExec := e.clock.Now()
		persistErr = e.persist(ctx, "record execution", func() error {
			return e.store.RecordExecution(ctx, outcome.Execution, tsExec)
		})
		if persistErr == nil {
			e.publish(ctx, outcome.Execution, tsExec)
		}
	case orderbook.Removed, orderbook.NotFound:
		persistErr = e.persist(ctx, "record cancel", func() error {
			return e.store.RecordCancel(ctx, order, outcome.Cancelled)
		})
	}
	if persistErr != nil {
		return resp, outcome, fmt.Errorf("%w: %v", ErrNotPersisted, persistErr)
	}

	if outcome.Kind == orderbook.NotFound {
		return resp, outcome, ErrCancelNotFound
	}
	return resp, outcome, nil
}

func (e *Exchange) rememberClient(ctx context.Context, clientID, ip string) error {
	if ip == "" {
		return nil
	}
	e.addrMu.Lock()
	prev, ok := e.clients[clientID]
	e.clients[clientID] = ip
	e.addrMu.Unlock()

	if ok && prev == ip {
		return nil
	}
	return e.persist(ctx, "set client address", func() error {
		return e.store.SetClientAddress(ctx, clientID, ip)
	})
}

func (e *Exchange) persist(ctx context.Context, what string, op func() error) error {
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if e.storeRetries > 0 {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(e.storeRetryInterval), e.storeRetries)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		zap.S().Warnw("store write failed, retrying", "op", what, "wait", wait, "err", err)
	})
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("gateway").Inc()
		zap.S().Errorw("store write failed", "op", what, "err", err)
	}
	return err
}

func (e *Exchange) publish(ctx context.Context, exec *orderbook.Execution, tsExec uint64) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishExecution(ctx, exec, tsExec); err != nil && !errors.Is(err, context.Canceled) {
		zap.S().Warnw("publish execution event failed",
			"aggressor", exec.Aggressor.ID, "resting", exec.Resting.ID, "err", err)
	}
}
