// Package tape encodes the market data snapshot broadcast once per cycle:
//
//	<timestamp>:<counter>:<block>:<block>:...:;
//
// where each block is order_id/symbol/operation/price/quantity. An empty
// book encodes as <timestamp>:<counter>:;
package tape

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// MaxDatagramSize is the largest UDP payload over IPv4.
const MaxDatagramSize = 65507

var (
	ErrMalformedDatagram = errors.New("malformed tape datagram")
	ErrMalformedEntry    = errors.New("malformed tape entry")
	ErrDatagramTooLarge  = errors.New("tape datagram too large")
)

type Entry struct {
	OrderID uint64
	Symbol  string
	Side    orderbook.Side
	Price   decimal.Decimal
	Qty     uint64
}

func EntryFromOrder(o *orderbook.Order) Entry {
	return Entry{
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Side:    o.Side,
		Price:   o.Price,
		Qty:     o.Qty,
	}
}

type Snapshot struct {
	Timestamp uint64
	Counter   uint64
	Entries   []Entry
}

func Encode(s Snapshot) ([]byte, error) {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(s.Timestamp, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(s.Counter, 10))
	b.WriteByte(':')
	for _, e := range s.Entries {
		fmt.Fprintf(&b, "%d/%s/%d/%s/%d:", e.OrderID, e.Symbol, e.Side.Code(), e.Price.StringFixed(2), e.Qty)
	}
	b.WriteByte(';')

	if b.Len() > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %d bytes for %d entries", ErrDatagramTooLarge, b.Len(), len(s.Entries))
	}
	return []byte(b.String()), nil
}

// Decode parses one datagram. Entries are returned in wire order. Blocks
// with extra sub-fields between the id and the symbol are accepted; only the
// first and the last four sub-fields are read.
func Decode(datagram []byte) (Snapshot, error) {
	msg := strings.TrimRight(string(datagram), "\x00\r\n")
	if !strings.HasSuffix(msg, ";") {
		return Snapshot{}, fmt.Errorf("%w: missing terminator", ErrMalformedDatagram)
	}
	msg = strings.TrimSuffix(msg, ";")

	parts := strings.Split(msg, ":")
	if len(parts) < 2 {
		return Snapshot{}, fmt.Errorf("%w: missing header", ErrMalformedDatagram)
	}

	var (
		s   Snapshot
		err error
	)
	if s.Timestamp, err = strconv.ParseUint(parts[0], 10, 64); err != nil {
		return Snapshot{}, fmt.Errorf("%w: timestamp %q", ErrMalformedDatagram, parts[0])
	}
	if s.Counter, err = strconv.ParseUint(parts[1], 10, 64); err != nil {
		return Snapshot{}, fmt.Errorf("%w: counter %q", ErrMalformedDatagram, parts[1])
	}

	for _, block := range parts[2:] {
		if block == "" {
			continue
		}
		e, err := decodeEntry(block)
		if err != nil {
			return Snapshot{}, err
		}
		s.Entries = append(s.Entries, e)
	}
	return s, nil
}

func decodeEntry(block string) (Entry, error) {
	f := strings.Split(block, "/")
	if len(f) < 5 {
		return Entry{}, fmt.Errorf("%w: %q", ErrMalformedEntry, block)
	}
	n := len(f)

	var (
		e   Entry
		err error
	)
	if e.OrderID, err = strconv.ParseUint(f[0], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("%w: order id in %q", ErrMalformedEntry, block)
	}
	e.Symbol = f[n-4]
	op, err := strconv.ParseUint(f[n-3], 10, 8)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: operation in %q", ErrMalformedEntry, block)
	}
	if e.Side, err = orderbook.ParseSide(op); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if e.Price, err = decimal.NewFromString(f[n-2]); err != nil {
		return Entry{}, fmt.Errorf("%w: price in %q", ErrMalformedEntry, block)
	}
	if e.Qty, err = strconv.ParseUint(f[n-1], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("%w: quantity in %q", ErrMalformedEntry, block)
	}
	return e, nil
}
