// Package ordertext implements the order submission protocol:
//
//	request:  client_id:client_timestamp:operation:symbol:quantity:price
//	response: server_timestamp:order_id
//	reject:   ERR:reason
//
// A cancel request carries the id of the order to cancel in the quantity
// field; its symbol may be empty and its price is ignored.
package ordertext

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
)

const (
	// MaxRequestLen bounds a single request on the wire.
	MaxRequestLen = 1024

	DefaultMaxSymbolLen   = 10
	DefaultMaxClientIDLen = 36

	rejectPrefix = "ERR:"
)

type Limits struct {
	MaxSymbolLen   int
	MaxClientIDLen int
}

var DefaultLimits = Limits{
	MaxSymbolLen:   DefaultMaxSymbolLen,
	MaxClientIDLen: DefaultMaxClientIDLen,
}

type Request struct {
	ClientID        string
	ClientTimestamp uint64
	Side            orderbook.Side
	Symbol          string
	Qty             uint64
	Price           decimal.Decimal
}

// TargetID is the order a cancel request refers to.
func (r *Request) TargetID() uint64 {
	if r.Side != orderbook.CANCEL {
		return 0
	}
	return r.Qty
}

// Order builds the engine order for an accepted request.
func (r *Request) Order(id, serverTimestamp uint64) *orderbook.Order {
	o := &orderbook.Order{
		ID:              id,
		ClientID:        r.ClientID,
		ClientTimestamp: r.ClientTimestamp,
		ServerTimestamp: serverTimestamp,
		Symbol:          r.Symbol,
		Side:            r.Side,
		Qty:             r.Qty,
		Price:           r.Price,
	}
	if r.Side == orderbook.CANCEL {
		o.Qty = 0
		o.TargetID = r.Qty
	}
	return o
}

// EncodeRequest renders r on the wire, without trailing delimiter.
func EncodeRequest(r *Request) string {
	return fmt.Sprintf("%s:%d:%d:%s:%d:%s",
		r.ClientID, r.ClientTimestamp, r.Side.Code(), r.Symbol, r.Qty, r.Price.StringFixed(2))
}

// DecodeRequest parses and validates one request line.
func DecodeRequest(line string, limits Limits) (*Request, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ":")
	if len(fields) != 6 {
		return nil, fmt.Errorf("%w: expected 6 fields, got %d", ErrMalformedRequest, len(fields))
	}

	req := &Request{}

	req.ClientID = fields[0]
	if req.ClientID == "" || strings.ContainsAny(req.ClientID, "/;") {
		return nil, ErrInvalidClientID
	}
	if limits.MaxClientIDLen > 0 && len(req.ClientID) > limits.MaxClientIDLen {
		req.ClientID = req.ClientID[:limits.MaxClientIDLen]
	}

	ts, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: client timestamp %q", ErrMalformedRequest, fields[1])
	}
	req.ClientTimestamp = ts

	op, err := strconv.ParseUint(fields[2], 10, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, fields[2])
	}
	if req.Side, err = orderbook.ParseSide(op); err != nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperation, op)
	}

	symbol, err := normalizeSymbol(fields[3], limits.MaxSymbolLen)
	if err != nil {
		return nil, err
	}
	req.Symbol = symbol

	qty, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil || qty == 0 {
		if req.Side == orderbook.CANCEL {
			return nil, ErrInvalidTarget
		}
		return nil, ErrInvalidQuantity
	}
	req.Qty = qty

	if req.Side == orderbook.CANCEL {
		return req, nil
	}
	if req.Symbol == "" {
		return nil, ErrInvalidSymbol
	}

	price, err := decimal.NewFromString(fields[5])
	if err != nil || !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	// prices carry exactly two decimals on the wire
	req.Price = price.Round(2)
	if !req.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}

	return req, nil
}

func normalizeSymbol(s string, maxLen int) (string, error) {
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
		}
	}
	return orderbook.NormalizeSymbol(s), nil
}

type Response struct {
	ServerTimestamp uint64
	OrderID         uint64
}

func EncodeResponse(r Response) string {
	return fmt.Sprintf("%d:%d", r.ServerTimestamp, r.OrderID)
}

// EncodeReject renders a rejection; colons in reason are kept as is since
// everything after the prefix is the reason.
func EncodeReject(reason string) string {
	return rejectPrefix + reason
}

// DecodeResponse parses a gateway reply. A rejection is returned as an error
// wrapping ErrRejected.
func DecodeResponse(line string) (Response, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, rejectPrefix) {
		return Response{}, fmt.Errorf("%w: %s", ErrRejected, strings.TrimPrefix(line, rejectPrefix))
	}

	ts, id, ok := strings.Cut(line, ":")
	if !ok {
		return Response{}, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}
	var (
		resp Response
		err  error
	)
	if resp.ServerTimestamp, err = strconv.ParseUint(ts, 10, 64); err != nil {
		return Response{}, fmt.Errorf("%w: timestamp %q", ErrMalformedResponse, ts)
	}
	if resp.OrderID, err = strconv.ParseUint(id, 10, 64); err != nil {
		return Response{}, fmt.Errorf("%w: order id %q", ErrMalformedResponse, id)
	}
	return resp, nil
}

// ReadMessage reads one message: everything up to the peer's half-close.
// A peer that never half-closes is cut off by the connection's read
// deadline; whatever arrived by then is taken as the message.
func ReadMessage(r io.Reader) (string, error) {
	buf := make([]byte, 0, 128)
	chunk := make([]byte, 256)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if len(buf) > MaxRequestLen {
			return "", fmt.Errorf("%w: message exceeds %d bytes", ErrMalformedRequest, MaxRequestLen)
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
			break
		}
		return "", err
	}
	if len(buf) == 0 {
		return "", fmt.Errorf("%w: empty message", ErrMalformedRequest)
	}
	return string(buf), nil
}
