package ordertext

import (
	"os"
	"strings"
	"testing"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest("abc-123:1000:1:aapl:100:100.00", DefaultLimits)
	require.NoError(t, err)

	assert.Equal(t, "abc-123", req.ClientID)
	assert.Equal(t, uint64(1000), req.ClientTimestamp)
	assert.Equal(t, orderbook.BUY, req.Side)
	assert.Equal(t, "AAPL", req.Symbol)
	assert.Equal(t, uint64(100), req.Qty)
	assert.Equal(t, "100.00", req.Price.StringFixed(2))
}

func TestDecodeRequestRejects(t *testing.T) {
	cases := []struct {
		name string
		line string
		err  error
	}{
		{"too few fields", "c:1:1:AAPL:100", ErrMalformedRequest},
		{"too many fields", "c:1:1:AAPL:100:1.00:x", ErrMalformedRequest},
		{"bad timestamp", "c:x:1:AAPL:100:1.00", ErrMalformedRequest},
		{"unknown op", "c:1:7:AAPL:100:1.00", ErrUnknownOperation},
		{"non numeric op", "c:1:buy:AAPL:100:1.00", ErrUnknownOperation},
		{"zero qty", "c:1:1:AAPL:0:1.00", ErrInvalidQuantity},
		{"negative qty", "c:1:0:AAPL:-5:1.00", ErrInvalidQuantity},
		{"fractional qty", "c:1:0:AAPL:1.5:1.00", ErrInvalidQuantity},
		{"zero price", "c:1:1:AAPL:10:0.00", ErrInvalidPrice},
		{"negative price", "c:1:1:AAPL:10:-1.00", ErrInvalidPrice},
		{"rounds to zero", "c:1:1:AAPL:10:0.001", ErrInvalidPrice},
		{"digits in symbol", "c:1:1:AA1:10:1.00", ErrInvalidSymbol},
		{"empty symbol", "c:1:1::10:1.00", ErrInvalidSymbol},
		{"empty cid", ":1:1:AAPL:10:1.00", ErrInvalidClientID},
		{"cancel without target", "c:1:2::0:0.00", ErrInvalidTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRequest(tc.line, DefaultLimits)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestDecodeRequestTruncates(t *testing.T) {
	req, err := DecodeRequest("c:1:0:abcdefghijklmn:10:1.5", DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJ", req.Symbol)
	assert.Equal(t, "1.50", req.Price.StringFixed(2))

	long := strings.Repeat("x", 40)
	req, err = DecodeRequest(long+":1:0:IBM:10:1.00", DefaultLimits)
	require.NoError(t, err)
	assert.Len(t, req.ClientID, DefaultMaxClientIDLen)
}

func TestCancelRequest(t *testing.T) {
	req, err := DecodeRequest("c:5:2::42:0.00", DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, orderbook.CANCEL, req.Side)
	assert.Equal(t, uint64(42), req.TargetID())

	o := req.Order(43, 99)
	assert.Equal(t, uint64(42), o.TargetID)
	assert.Equal(t, uint64(0), o.Qty)
	assert.Equal(t, uint64(43), o.ID)
	assert.Equal(t, uint64(99), o.ServerTimestamp)
}

func TestEncodeRequest(t *testing.T) {
	req := &Request{
		ClientID:        "cid",
		ClientTimestamp: 77,
		Side:            orderbook.SELL,
		Symbol:          "IBM",
		Qty:             10,
		Price:           decimal.NewFromInt(50),
	}
	line := EncodeRequest(req)
	assert.Equal(t, "cid:77:0:IBM:10:50.00", line)

	back, err := DecodeRequest(line, DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, req.Symbol, back.Symbol)
	assert.True(t, req.Price.Equal(back.Price))
}

func TestResponse(t *testing.T) {
	assert.Equal(t, "123:7", EncodeResponse(Response{ServerTimestamp: 123, OrderID: 7}))

	resp, err := DecodeResponse("123:7")
	require.NoError(t, err)
	assert.Equal(t, Response{ServerTimestamp: 123, OrderID: 7}, resp)

	_, err = DecodeResponse(EncodeReject("order not found"))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "order not found")

	_, err = DecodeResponse("garbage")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestReadMessage(t *testing.T) {
	msg, err := ReadMessage(strings.NewReader("c:1:1:AAPL:1:1.00"))
	require.NoError(t, err)
	assert.Equal(t, "c:1:1:AAPL:1:1.00", msg)

	_, err = ReadMessage(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = ReadMessage(strings.NewReader(strings.Repeat("a", MaxRequestLen+1)))
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = ReadMessage(timeoutReader{})
	assert.ErrorIs(t, err, ErrMalformedRequest)
	assert.EqualError(t, err, "malformed request: empty message")
}

// timeoutReader behaves like a connection whose read deadline passed
// before anything arrived.
type timeoutReader struct{}

func (timeoutReader) Read([]byte) (int, error) { return 0, os.ErrDeadlineExceeded }
