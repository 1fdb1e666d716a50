package exchange

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGateway(t *testing.T, ex *Exchange) string {
	t.Helper()
	srv := NewGatewayServer(ex, GatewayConfig{ReadTimeout: 500 * time.Millisecond})
	require.NoError(t, srv.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return srv.Addr().String()
}

// roundTrip sends msg, half-closes, and returns the whole reply.
func roundTrip(t *testing.T, addr, msg string, halfClose bool) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(msg))
	require.NoError(t, err)
	if halfClose {
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	reply, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(reply)
}

func TestGatewayScenarioA(t *testing.T) {
	st := store.NewMemoryStore()
	ex := New(st, WithClock(stepClock()))
	addr := startGateway(t, ex)

	resp, err := ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:0:AAPL:100:100.00", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.OrderID)

	resp, err = ordertext.DecodeResponse(roundTrip(t, addr, "c2:2:1:aapl:100:100.00", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.OrderID)

	bids, asks := ex.Engine().Snapshot("AAPL")
	assert.Empty(t, bids)
	assert.Empty(t, asks)

	rec, err := st.GetOrder(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, store.StatusExecuted, rec.Status)
	assert.Equal(t, "100.00", rec.ExecPrice.StringFixed(2))

	ip, ok := ex.ClientAddress("c2")
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1", ip)
}

func TestGatewayRejectsInvalid(t *testing.T) {
	ex := New(store.NewMemoryStore(), WithClock(stepClock()))
	addr := startGateway(t, ex)

	_, err := ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:1:AAPL:0:100.00", true))
	assert.ErrorIs(t, err, ordertext.ErrRejected)
	assert.Contains(t, err.Error(), ordertext.ErrInvalidQuantity.Error())

	_, err = ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:9:AAPL:1:100.00", true))
	assert.ErrorIs(t, err, ordertext.ErrRejected)

	// nothing consumed an id
	assert.Equal(t, uint64(0), ex.LastOrderID())

	// the server keeps accepting after bad requests
	resp, err := ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:1:AAPL:1:100.00", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.OrderID)
}

func TestGatewayCancelNotFound(t *testing.T) {
	ex := New(store.NewMemoryStore(), WithClock(stepClock()))
	addr := startGateway(t, ex)

	_, err := ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:2::42:0.00", true))
	assert.ErrorIs(t, err, ordertext.ErrRejected)
	assert.Contains(t, err.Error(), "order not found")
	assert.Equal(t, uint64(1), ex.LastOrderID())
}

func TestGatewayWithoutHalfClose(t *testing.T) {
	ex := New(store.NewMemoryStore(), WithClock(stepClock()))
	addr := startGateway(t, ex)

	resp, err := ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:0:IBM:10:50.00", false))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.OrderID)

	_, asks := ex.Engine().Snapshot("IBM")
	require.Len(t, asks, 1)
	assert.Equal(t, orderbook.SELL, asks[0].Side)
}

func TestGatewaySilentPeerDoesNotStall(t *testing.T) {
	ex := New(store.NewMemoryStore(), WithClock(stepClock()))
	addr := startGateway(t, ex)

	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()

	resp, err := ordertext.DecodeResponse(roundTrip(t, addr, "c1:1:0:IBM:10:50.00", true))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.OrderID)
}

func TestGatewayReadFailureHidesTransportError(t *testing.T) {
	ex := New(store.NewMemoryStore(), WithClock(stepClock()))
	addr := startGateway(t, ex)

	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()

	_ = idle.SetReadDeadline(time.Now().Add(3 * time.Second))
	reply, err := io.ReadAll(idle)
	require.NoError(t, err)
	assert.Equal(t, "ERR:malformed request: empty message", string(reply))
	assert.Equal(t, uint64(0), ex.LastOrderID())
}

func TestReadRejectReason(t *testing.T) {
	opErr := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	assert.Equal(t, "malformed request: read failed", readRejectReason(opErr))
	assert.NotContains(t, readRejectReason(opErr), "tcp")

	_, err := ordertext.ReadMessage(strings.NewReader(""))
	assert.Equal(t, "malformed request: empty message", readRejectReason(err))
}
