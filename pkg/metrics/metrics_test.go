package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRegistered(t *testing.T) {
	before := testutil.ToFloat64(OrdersTotal.WithLabelValues("buy", "queued"))
	OrdersTotal.WithLabelValues("buy", "queued").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(OrdersTotal.WithLabelValues("buy", "queued")))

	TapeActiveOrders.Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(TapeActiveOrders))
}

func TestServeDisabled(t *testing.T) {
	assert.NoError(t, Serve(context.Background(), ""))
}
