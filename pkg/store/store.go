// Package store is the durable state shared by the gateway, the market data
// publisher and the execution notifier.
package store

import (
	"context"
	"errors"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

const (
	StatusActive       = "active"
	StatusExecuted     = "executed"
	StatusAcknowledged = "acknowledged"
	StatusCancelled    = "cancelled"
)

// OrderRecord is an order together with its lifecycle fields.
type OrderRecord struct {
	Order     orderbook.Order
	Status    string
	ExecPrice decimal.Decimal
	TsExec    uint64
	CounterID uint64
	TsAck     uint64
}

// PendingExecution is one side of an execution that the owning client has
// not acknowledged yet.
type PendingExecution struct {
	OrderID    uint64
	ClientID   string
	Symbol     string
	Side       orderbook.Side
	Qty        uint64
	Price      decimal.Decimal
	TsPlaced   uint64
	TsExecuted uint64
}

type ExchangeStore interface {
	// SaveOrder records a resting order and adds it to the active set.
	SaveOrder(ctx context.Context, order *orderbook.Order) error
	// RecordExecution records the aggressor, moves the resting order from the
	// active set, and adds both ids to the executed set.
	RecordExecution(ctx context.Context, exec *orderbook.Execution, tsExec uint64) error
	// RecordCancel marks the consumed request id and, when cancelled is not
	// nil, drops that order from the active set.
	RecordCancel(ctx context.Context, request, cancelled *orderbook.Order) error

	GetOrder(ctx context.Context, id uint64) (*OrderRecord, error)
	ActiveOrders(ctx context.Context) ([]*orderbook.Order, error)
	LastOrderID(ctx context.Context) (uint64, error)

	PendingExecutions(ctx context.Context) ([]PendingExecution, error)
	AcknowledgeExecution(ctx context.Context, orderID, tsAck uint64) error

	SetClientAddress(ctx context.Context, clientID, ip string) error
	ClientAddress(ctx context.Context, clientID string) (string, error)
	ClientAddresses(ctx context.Context) (map[string]string, error)

	Close() error
}
