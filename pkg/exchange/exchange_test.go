package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joripage/mini-exchange/pkg/clock"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepClock() clock.Clock {
	var mu sync.Mutex
	var now uint64 = 1000
	return clock.Func(func() uint64 {
		mu.Lock()
		defer mu.Unlock()
		now++
		return now
	})
}

func mustRequest(t *testing.T, line string) *ordertext.Request {
	t.Helper()
	req, err := ordertext.DecodeRequest(line, ordertext.DefaultLimits)
	require.NoError(t, err)
	return req
}

type recordingPublisher struct {
	mu    sync.Mutex
	execs []*orderbook.Execution
}

func (p *recordingPublisher) PublishExecution(_ context.Context, exec *orderbook.Execution, _ uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execs = append(p.execs, exec)
	return nil
}

func TestSubmitMatch(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	ex := New(st, WithClock(stepClock()), WithExecutionPublisher(pub))
	ctx := context.Background()

	resp, out, err := ex.Submit(ctx, mustRequest(t, "seller:1:0:AAPL:100:100.00"), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resp.OrderID)
	assert.Equal(t, orderbook.Queued, out.Kind)

	resp, out, err = ex.Submit(ctx, mustRequest(t, "buyer:2:1:AAPL:100:100.00"), "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resp.OrderID)
	require.Equal(t, orderbook.Matched, out.Kind)
	assert.Equal(t, "100.00", out.Execution.Price.StringFixed(2))

	active, err := st.ActiveOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	pending, err := st.PendingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "seller", pending[0].ClientID)
	assert.Equal(t, "buyer", pending[1].ClientID)

	require.Len(t, pub.execs, 1)

	ip, ok := ex.ClientAddress("buyer")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.2", ip)
	ip, err = st.ClientAddress(ctx, "seller")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip)
}

func TestSubmitIDsStrictlyIncrease(t *testing.T) {
	ex := New(store.NewMemoryStore(), WithClock(stepClock()))
	ctx := context.Background()

	var last uint64
	for _, line := range []string{
		"c:1:0:AAPL:100:105.00",
		"c:1:1:AAPL:100:100.00",
		"c:1:2::1:0.00",
		"c:1:2::1:0.00",
		"c:1:0:IBM:1:1.00",
	} {
		resp, _, _ := ex.Submit(ctx, mustRequest(t, line), "127.0.0.1")
		assert.Greater(t, resp.OrderID, last)
		last = resp.OrderID
	}
	assert.Equal(t, uint64(5), ex.LastOrderID())
}

func TestSubmitCancel(t *testing.T) {
	st := store.NewMemoryStore()
	ex := New(st, WithClock(stepClock()))
	ctx := context.Background()

	_, _, err := ex.Submit(ctx, mustRequest(t, "c:1:0:AAPL:100:105.00"), "127.0.0.1")
	require.NoError(t, err)

	_, out, err := ex.Submit(ctx, mustRequest(t, "other:1:2::1:0.00"), "127.0.0.1")
	assert.ErrorIs(t, err, ErrCancelNotFound)
	assert.Equal(t, orderbook.NotFound, out.Kind)

	resp, out, err := ex.Submit(ctx, mustRequest(t, "c:1:2::1:0.00"), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, orderbook.Removed, out.Kind)
	assert.Equal(t, uint64(3), resp.OrderID)

	rec, err := st.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, rec.Status)

	last, err := st.LastOrderID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), last)
}

func TestRecoverWarmStart(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	first := New(st, WithClock(stepClock()))
	for _, line := range []string{
		"s1:1:0:IBM:10:50.00",
		"s2:1:0:IBM:10:50.00",
		"b1:1:1:AAPL:5:10.00",
		"b2:1:1:MSFT:1:1.00",
		"s3:1:0:MSFT:1:1.00",
	} {
		_, _, err := first.Submit(ctx, mustRequest(t, line), "10.1.1.1")
		require.NoError(t, err)
	}

	second := New(st, WithClock(stepClock()))
	require.NoError(t, second.Recover(ctx))
	assert.Equal(t, uint64(5), second.LastOrderID())

	_, asks := second.Engine().Snapshot("IBM")
	require.Len(t, asks, 2)
	assert.Equal(t, uint64(1), asks[0].ID)
	assert.Equal(t, uint64(2), asks[1].ID)

	ip, ok := second.ClientAddress("s2")
	assert.True(t, ok)
	assert.Equal(t, "10.1.1.1", ip)

	// time priority survives the restart
	resp, out, err := second.Submit(ctx, mustRequest(t, "b3:1:1:IBM:10:50.00"), "10.1.1.2")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), resp.OrderID)
	require.Equal(t, orderbook.Matched, out.Kind)
	assert.Equal(t, uint64(1), out.Execution.Resting.ID)
}

type failingStore struct {
	*store.MemoryStore
	fail bool
}

func (f *failingStore) SaveOrder(ctx context.Context, o *orderbook.Order) error {
	if f.fail {
		return errors.New("redis down")
	}
	return f.MemoryStore.SaveOrder(ctx, o)
}

func TestSubmitStoreFailure(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), fail: true}
	ex := New(st, WithClock(stepClock()), WithStoreRetry(2, time.Millisecond))

	resp, out, err := ex.Submit(context.Background(), mustRequest(t, "c:1:0:AAPL:1:1.00"), "127.0.0.1")
	assert.ErrorIs(t, err, ErrNotPersisted)
	assert.Equal(t, uint64(1), resp.OrderID)
	assert.Equal(t, orderbook.Queued, out.Kind)

	// the engine still holds the order
	_, asks := ex.Engine().Snapshot("AAPL")
	assert.Len(t, asks, 1)
}
