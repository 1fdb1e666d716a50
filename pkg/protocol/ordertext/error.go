package ordertext

import "errors"

var (
	ErrMalformedRequest = errors.New("malformed request")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrInvalidPrice     = errors.New("price must be a positive number")
	ErrInvalidSymbol    = errors.New("symbol must be alphabetic")
	ErrInvalidClientID  = errors.New("invalid client id")
	ErrInvalidTarget    = errors.New("cancel target must be a positive order id")

	ErrMalformedResponse = errors.New("malformed response")
	// ErrRejected wraps the reason carried by an ERR response.
	ErrRejected = errors.New("order rejected")
)
