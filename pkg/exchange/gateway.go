package exchange

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/joripage/mini-exchange/pkg/logging"
	"github.com/joripage/mini-exchange/pkg/metrics"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"go.uber.org/zap"
)

type GatewayConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Limits       ordertext.Limits
}

// GatewayServer accepts one order per connection and answers it before
// accepting the next, so orders reach the engine in accept order.
type GatewayServer struct {
	exchange *Exchange
	cfg      GatewayConfig
	ln       net.Listener
}

func NewGatewayServer(ex *Exchange, cfg GatewayConfig) *GatewayServer {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.Limits == (ordertext.Limits{}) {
		cfg.Limits = ordertext.DefaultLimits
	}
	return &GatewayServer{
		exchange: ex,
		cfg:      cfg,
	}
}

func (s *GatewayServer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

func (s *GatewayServer) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx ends or the listener fails.
func (s *GatewayServer) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("gateway: Listen must be called before Serve")
	}

	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	zap.S().Infow("order gateway listening", "addr", s.ln.Addr().String())
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				zap.S().Warnw("accept failed", "err", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		s.handleConn(ctx, conn)
	}
}

func (s *GatewayServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ctx = logging.NewRequestContext(ctx)
	log, ctx := logging.GetLogger(ctx)

	peerIP := ""
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		peerIP = host
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	msg, err := ordertext.ReadMessage(conn)
	if err != nil {
		log.Warn(ctx, "read order failed", zap.String("peer", peerIP), zap.Error(err))
		metrics.OrdersTotal.WithLabelValues("unknown", "rejected").Inc()
		s.reply(ctx, log, conn, ordertext.EncodeReject(readRejectReason(err)))
		return
	}

	req, err := ordertext.DecodeRequest(msg, s.cfg.Limits)
	if err != nil {
		log.Info(ctx, "order rejected", zap.String("peer", peerIP), zap.String("msg", msg), zap.Error(err))
		metrics.OrdersTotal.WithLabelValues("unknown", "rejected").Inc()
		s.reply(ctx, log, conn, ordertext.EncodeReject(err.Error()))
		return
	}

	resp, outcome, err := s.exchange.Submit(ctx, req, peerIP)
	switch {
	case errors.Is(err, ErrCancelNotFound):
		log.Info(ctx, "cancel target not found",
			zap.String("cid", req.ClientID), zap.Uint64("target", req.TargetID()), zap.Uint64("order_id", resp.OrderID))
		s.reply(ctx, log, conn, ordertext.EncodeReject(err.Error()))
		return
	case errors.Is(err, ErrNotPersisted):
		// the engine took the order; answer as usual
		log.Error(ctx, "order accepted but not persisted", zap.Uint64("order_id", resp.OrderID), zap.Error(err))
	case err != nil:
		log.Error(ctx, "submit failed", zap.String("cid", req.ClientID), zap.Error(err))
		s.reply(ctx, log, conn, ordertext.EncodeReject("internal error"))
		return
	}

	log.Debug(ctx, "order handled",
		zap.String("cid", req.ClientID),
		zap.String("symbol", req.Symbol),
		zap.Stringer("side", req.Side),
		zap.Uint64("order_id", resp.OrderID),
		zap.Stringer("outcome", outcome.Kind),
	)
	s.reply(ctx, log, conn, ordertext.EncodeResponse(resp))
}

// readRejectReason keeps transport details out of the response.
func readRejectReason(err error) string {
	if errors.Is(err, ordertext.ErrMalformedRequest) {
		return err.Error()
	}
	return ordertext.ErrMalformedRequest.Error() + ": read failed"
}

func (s *GatewayServer) reply(ctx context.Context, log *logging.Logger, conn net.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write([]byte(msg)); err != nil {
		log.Warn(ctx, "write response failed", zap.Error(err))
	}
}
