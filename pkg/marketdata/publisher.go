// Package marketdata publishes the tape: once per interval, the full set of
// active orders read from the durable store, as one datagram.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/mini-exchange/pkg/clock"
	"github.com/joripage/mini-exchange/pkg/metrics"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/tape"
	"go.uber.org/zap"
)

// ActiveOrderSource is the read side of the durable store the tape needs.
type ActiveOrderSource interface {
	ActiveOrders(ctx context.Context) ([]*orderbook.Order, error)
}

type Option func(*Publisher)

func WithClock(c clock.Clock) Option {
	return func(p *Publisher) { p.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

type Publisher struct {
	source   ActiveOrderSource
	sender   Sender
	clock    clock.Clock
	interval time.Duration
	counter  uint64
}

func NewPublisher(source ActiveOrderSource, sender Sender, opts ...Option) *Publisher {
	p := &Publisher{
		source:   source,
		sender:   sender,
		clock:    clock.Default,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Counter is the sequence number the next datagram will carry; it starts at
// 0 and equals the number of datagrams sent so far.
func (p *Publisher) Counter() uint64 {
	return p.counter
}

// Run publishes one snapshot per interval until ctx ends. A failed cycle is
// logged and the next one runs on schedule.
func (p *Publisher) Run(ctx context.Context) error {
	zap.S().Infow("market data publisher started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.PublishOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.S().Errorw("publish tape failed", "counter", p.counter, "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PublishOnce reads the active set and sends it as the next datagram.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	orders, err := p.loadActive(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("marketdata").Inc()
		return fmt.Errorf("load active orders: %w", err)
	}

	snap := tape.Snapshot{
		Timestamp: p.clock.Now(),
		Counter:   p.counter,
		Entries:   make([]tape.Entry, 0, len(orders)),
	}
	for _, o := range orders {
		snap.Entries = append(snap.Entries, tape.EntryFromOrder(o))
	}

	datagram, err := tape.Encode(snap)
	if err != nil {
		metrics.TapeEncodeFailuresTotal.Inc()
		metrics.TapeActiveOrders.Set(float64(len(orders)))
		return fmt.Errorf("encode tape with %d active orders: %w", len(orders), err)
	}
	if err := p.sender.Send(datagram); err != nil {
		return fmt.Errorf("send tape: %w", err)
	}

	p.counter++
	metrics.TapeDatagramsTotal.Inc()
	metrics.TapeActiveOrders.Set(float64(len(orders)))
	zap.S().Debugw("tape published", "counter", snap.Counter, "orders", len(orders), "bytes", len(datagram))
	return nil
}

// loadActive retries store reads for at most one interval so a slow store
// never makes cycles pile up.
func (p *Publisher) loadActive(ctx context.Context) ([]*orderbook.Order, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval / 20
	b.MaxElapsedTime = p.interval

	var orders []*orderbook.Order
	err := backoff.RetryNotify(func() error {
		var err error
		orders, err = p.source.ActiveOrders(ctx)
		if errors.Is(err, context.Canceled) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		zap.S().Warnw("read active orders failed, retrying", "wait", wait, "err", err)
	})
	return orders, err
}
