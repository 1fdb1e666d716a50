package orderbook

import "github.com/shopspring/decimal"

type OutcomeKind uint8

const (
	Queued OutcomeKind = iota
	Matched
	Removed
	NotFound
)

func (k OutcomeKind) String() string {
	switch k {
	case Queued:
		return "queued"
	case Matched:
		return "matched"
	case Removed:
		return "removed"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// Execution pairs an aggressor with the resting order it consumed.
type Execution struct {
	Aggressor *Order
	Resting   *Order
	Price     decimal.Decimal
}

func (e *Execution) Buyer() *Order {
	if e.Aggressor.Side == BUY {
		return e.Aggressor
	}
	return e.Resting
}

func (e *Execution) Seller() *Order {
	if e.Aggressor.Side == SELL {
		return e.Aggressor
	}
	return e.Resting
}

// MatchOutcome is the result of submitting one order.
// Execution is set for Matched, Cancelled for Removed.
type MatchOutcome struct {
	Kind      OutcomeKind
	Execution *Execution
	Cancelled *Order
}
