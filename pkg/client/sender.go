package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/joripage/mini-exchange/pkg/clock"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/protocol/tape"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SenderConfig struct {
	GatewayAddr string
	ClientID    string
	Timeout     time.Duration
	Clock       clock.Clock
}

// Sender places orders on the gateway, one connection per order, and keeps
// the "mine" side of the cache in step.
type Sender struct {
	cfg   SenderConfig
	cache Cache
}

func NewSender(cfg SenderConfig, cache Cache) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Default
	}
	return &Sender{cfg: cfg, cache: cache}
}

func (s *Sender) Buy(ctx context.Context, symbol string, qty uint64, price decimal.Decimal) (ordertext.Response, error) {
	return s.place(ctx, orderbook.BUY, symbol, qty, price)
}

func (s *Sender) Sell(ctx context.Context, symbol string, qty uint64, price decimal.Decimal) (ordertext.Response, error) {
	return s.place(ctx, orderbook.SELL, symbol, qty, price)
}

// Cancel asks the exchange to drop one of this client's resting orders.
func (s *Sender) Cancel(ctx context.Context, orderID uint64) (ordertext.Response, error) {
	resp, err := s.Submit(ctx, &ordertext.Request{
		ClientID:        s.cfg.ClientID,
		ClientTimestamp: s.cfg.Clock.Now(),
		Side:            orderbook.CANCEL,
		Qty:             orderID,
		Price:           decimal.Zero,
	})
	if err != nil {
		return resp, err
	}
	if s.cache != nil {
		if err := s.cache.RemoveMine(ctx, orderID); err != nil {
			zap.S().Warnw("cancelled order still cached", "order_id", orderID, "err", err)
		}
	}
	return resp, nil
}

func (s *Sender) place(ctx context.Context, side orderbook.Side, symbol string, qty uint64, price decimal.Decimal) (ordertext.Response, error) {
	req := &ordertext.Request{
		ClientID:        s.cfg.ClientID,
		ClientTimestamp: s.cfg.Clock.Now(),
		Side:            side,
		Symbol:          orderbook.NormalizeSymbol(symbol),
		Qty:             qty,
		Price:           price,
	}
	resp, err := s.Submit(ctx, req)
	if err != nil {
		return resp, err
	}

	if s.cache != nil {
		entry := tape.Entry{
			OrderID: resp.OrderID,
			Symbol:  req.Symbol,
			Side:    side,
			Price:   price,
			Qty:     qty,
		}
		if err := s.cache.AddMine(ctx, entry, resp.ServerTimestamp); err != nil {
			zap.S().Warnw("order placed but not cached", "order_id", resp.OrderID, "err", err)
		}
	}
	return resp, nil
}

// Submit sends one request and waits for the gateway's reply. A rejection is
// returned as an error wrapping ordertext.ErrRejected.
func (s *Sender) Submit(ctx context.Context, req *ordertext.Request) (ordertext.Response, error) {
	d := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.GatewayAddr)
	if err != nil {
		return ordertext.Response{}, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(s.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	if _, err := io.WriteString(conn, ordertext.EncodeRequest(req)); err != nil {
		return ordertext.Response{}, fmt.Errorf("send order: %w", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return ordertext.Response{}, fmt.Errorf("close write: %w", err)
		}
	}

	reply, err := io.ReadAll(io.LimitReader(conn, ordertext.MaxRequestLen))
	if err != nil {
		return ordertext.Response{}, fmt.Errorf("read reply: %w", err)
	}
	return ordertext.DecodeResponse(string(reply))
}
