// Package notifier delivers executions to their owners over the order
// gateway protocol and clears them from the durable store once acknowledged.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/joripage/mini-exchange/pkg/metrics"
	"github.com/joripage/mini-exchange/pkg/protocol/ogw"
	"github.com/joripage/mini-exchange/pkg/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the slice of the durable store the notifier works on.
type Store interface {
	PendingExecutions(ctx context.Context) ([]store.PendingExecution, error)
	ClientAddress(ctx context.Context, clientID string) (string, error)
	AcknowledgeExecution(ctx context.Context, orderID, tsAck uint64) error
}

type Config struct {
	Interval    time.Duration
	ClientPort  int
	DialTimeout time.Duration
	AckTimeout  time.Duration
	// Concurrency above 1 delivers that many executions at once; 1 keeps
	// them strictly in store order.
	Concurrency int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 500 * time.Millisecond
	}
	if c.ClientPort == 0 {
		c.ClientPort = 8100
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
}

var errNoAddress = errors.New("no known address for client")

type Notifier struct {
	store  Store
	cfg    Config
	dialer net.Dialer
}

func New(st Store, cfg Config) *Notifier {
	cfg.applyDefaults()
	return &Notifier{
		store:  st,
		cfg:    cfg,
		dialer: net.Dialer{Timeout: cfg.DialTimeout},
	}
}

// Run executes one delivery cycle per interval until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	zap.S().Infow("execution notifier started",
		"interval", n.cfg.Interval, "client_port", n.cfg.ClientPort, "concurrency", n.cfg.Concurrency)

	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := n.RunOnce(ctx); err != nil && ctx.Err() == nil {
			zap.S().Errorw("notifier cycle failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce attempts every pending execution once and returns how many were
// acknowledged. Per-execution failures are logged and left pending for the
// next cycle; only a store read failure is returned.
func (n *Notifier) RunOnce(ctx context.Context) (int, error) {
	pending, err := n.loadPending(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("notifier").Inc()
		return 0, fmt.Errorf("load pending executions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	var delivered atomic.Int64
	deliver := func(p store.PendingExecution) {
		if err := n.Deliver(ctx, p); err != nil {
			zap.S().Warnw("execution not delivered",
				"order_id", p.OrderID, "cid", p.ClientID, "err", err)
			return
		}
		delivered.Add(1)
	}

	if n.cfg.Concurrency == 1 {
		for _, p := range pending {
			if ctx.Err() != nil {
				break
			}
			deliver(p)
		}
		return int(delivered.Load()), nil
	}

	var g errgroup.Group
	g.SetLimit(n.cfg.Concurrency)
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		p := p
		g.Go(func() error {
			deliver(p)
			return nil
		})
	}
	_ = g.Wait()
	return int(delivered.Load()), nil
}

// Deliver sends one notification, waits for its acknowledgment and clears
// the execution from the pending set.
func (n *Notifier) Deliver(ctx context.Context, p store.PendingExecution) (err error) {
	start := time.Now()
	result := "acknowledged"
	defer func() {
		metrics.NotifierDeliveriesTotal.WithLabelValues(result).Inc()
		if err == nil {
			metrics.NotifierDeliverySeconds.Observe(time.Since(start).Seconds())
		}
	}()

	ip, err := n.store.ClientAddress(ctx, p.ClientID)
	if err != nil {
		result = "no_address"
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w %q", errNoAddress, p.ClientID)
		}
		return err
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(n.cfg.ClientPort))
	conn, err := n.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		result = "unreachable"
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(n.cfg.AckTimeout))

	note := ogw.Notification{
		OrderID:    p.OrderID,
		TsPlaced:   p.TsPlaced,
		TsExecuted: p.TsExecuted,
		Status:     ogw.StatusExecuted,
	}
	if err := ogw.WriteNotification(conn, note); err != nil {
		result = "send_failed"
		return fmt.Errorf("send notification: %w", err)
	}

	ack, err := ogw.ReadAck(conn)
	if err != nil {
		result = "no_ack"
		return fmt.Errorf("read ack: %w", err)
	}
	if err := ack.Validate(note); err != nil {
		result = "bad_ack"
		return err
	}

	if err := n.acknowledge(ctx, p.OrderID, ack.TsAck); err != nil {
		result = "store_failed"
		metrics.StoreErrorsTotal.WithLabelValues("notifier").Inc()
		return fmt.Errorf("clear pending execution: %w", err)
	}

	zap.S().Debugw("execution acknowledged", "order_id", p.OrderID, "cid", p.ClientID, "ts_ack", ack.TsAck)
	return nil
}

func (n *Notifier) loadPending(ctx context.Context) ([]store.PendingExecution, error) {
	var pending []store.PendingExecution
	err := n.retry(ctx, "read pending executions", func() error {
		var err error
		pending, err = n.store.PendingExecutions(ctx)
		return err
	})
	return pending, err
}

func (n *Notifier) acknowledge(ctx context.Context, orderID, tsAck uint64) error {
	return n.retry(ctx, "acknowledge execution", func() error {
		err := n.store.AcknowledgeExecution(ctx, orderID, tsAck)
		// someone else already cleared it
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	})
}

// retry keeps a store call going for at most one cycle.
func (n *Notifier) retry(ctx context.Context, what string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.cfg.Interval / 10
	b.MaxElapsedTime = n.cfg.Interval

	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		zap.S().Warnw("store call failed, retrying", "op", what, "wait", wait, "err", err)
	})
}
