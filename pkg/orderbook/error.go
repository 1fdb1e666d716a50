package orderbook

import "errors"

var (
	ErrUnknownSide = errors.New("unknown order side")

	errOrderNotFound = errors.New("order not found")
)
