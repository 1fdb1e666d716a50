package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the wire operation of an order: 0=sell, 1=buy, 2=cancel.
type Side uint8

const (
	SELL   Side = 0
	BUY    Side = 1
	CANCEL Side = 2
)

// ParseSide maps a wire operation code to a Side.
func ParseSide(code uint64) (Side, error) {
	switch code {
	case uint64(SELL):
		return SELL, nil
	case uint64(BUY):
		return BUY, nil
	case uint64(CANCEL):
		return CANCEL, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownSide, code)
}

func (s Side) String() string {
	switch s {
	case SELL:
		return "SELL"
	case BUY:
		return "BUY"
	case CANCEL:
		return "CANCEL"
	}
	return fmt.Sprintf("Side(%d)", uint8(s))
}

// Code returns the wire operation code.
func (s Side) Code() uint64 {
	return uint64(s)
}

func (s Side) opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

type Order struct {
	ID              uint64
	ClientID        string
	ClientTimestamp uint64
	ServerTimestamp uint64
	Symbol          string
	Side            Side
	Qty             uint64
	Price           decimal.Decimal // adjusted to the execution price when the order rests and gets improved

	TargetID uint64 // CANCEL only: id of the resting order to remove
}

func (o *Order) String() string {
	return fmt.Sprintf("{id: %d, cid: %s, symbol: %s, side: %v, qty: %d, price: %s}",
		o.ID, o.ClientID, o.Symbol, o.Side, o.Qty, o.Price.StringFixed(2))
}
