package client

import "errors"

var (
	// ErrPeerTableFull stops the multiplexer when a connection arrives and
	// every peer slot is taken.
	ErrPeerTableFull = errors.New("peer table full")
)
