// Package metrics holds the Prometheus collectors of the exchange-side
// processes and the /metrics endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "exchange"

var (
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "orders_total",
			Help:      "Orders handled by the gateway by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	ExecutionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Matched order pairs",
		},
	)

	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Durable store failures by component",
		},
		[]string{"component"},
	)

	TapeDatagramsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tape",
			Name:      "datagrams_total",
			Help:      "Market data datagrams sent",
		},
	)

	TapeEncodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tape",
			Name:      "encode_failures_total",
			Help:      "Publish cycles skipped because the snapshot did not fit in one datagram",
		},
	)

	TapeActiveOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tape",
			Name:      "active_orders",
			Help:      "Active orders in the last snapshot",
		},
	)

	NotifierDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Execution notification attempts by result",
		},
		[]string{"result"},
	)

	NotifierDeliverySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "delivery_seconds",
			Help:      "Time from dial to validated acknowledgment",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
)

// Serve exposes /metrics on addr until ctx ends. An empty addr is a no-op.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.S().Infow("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
