package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	kafkawrapper "github.com/joripage/mini-exchange/pkg/kafka_wrapper"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Execution{}))
	return db
}

func testExecution() *orderbook.Execution {
	resting := &orderbook.Order{ID: 10, ClientID: "seller", Symbol: "IBM", Side: orderbook.SELL, Qty: 10, Price: decimal.RequireFromString("55.00")}
	aggressor := &orderbook.Order{ID: 11, ClientID: "buyer", Symbol: "IBM", Side: orderbook.BUY, Qty: 10, Price: decimal.RequireFromString("55.00")}
	return &orderbook.Execution{Aggressor: aggressor, Resting: resting, Price: aggressor.Price}
}

func TestNewExecutionEvent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := NewExecutionEvent(testExecution(), 99, at)

	assert.Equal(t, uint64(11), ev.AggressorID)
	assert.Equal(t, uint64(11), ev.BuyOrderID)
	assert.Equal(t, uint64(10), ev.SellOrderID)
	assert.Equal(t, "buyer", ev.BuyerCID)
	assert.Equal(t, "seller", ev.SellerCID)
	assert.Equal(t, "IBM", ev.Symbol)
	assert.Equal(t, "55.00", ev.Price.StringFixed(2))
}

type fakeProducer struct {
	topic, key string
	value      any
}

func (f *fakeProducer) PublishJSON(_ context.Context, topic, key string, v any, _ map[string]string) error {
	f.topic, f.key, f.value = topic, key, v
	return nil
}

func (f *fakeProducer) Close(context.Context) error { return nil }

func TestKafkaPublisher(t *testing.T) {
	fp := &fakeProducer{}
	p := &KafkaPublisher{producer: fp, topic: "executions", now: time.Now}

	require.NoError(t, p.PublishExecution(context.Background(), testExecution(), 1))
	assert.Equal(t, "executions", fp.topic)
	assert.Equal(t, "IBM", fp.key)
	require.IsType(t, &ExecutionEvent{}, fp.value)
}

func messageFor(t *testing.T, ev *ExecutionEvent) kafkawrapper.Message {
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafkawrapper.Message{Topic: "executions", Value: b}
}

func TestWorkerArchivesIdempotently(t *testing.T) {
	db := newTestDB(t)
	w := NewWorker(NewRepo(db))
	ctx := context.Background()

	ev := NewExecutionEvent(testExecution(), 99, time.Now().UTC())
	batch := []kafkawrapper.Message{
		messageFor(t, ev),
		{Topic: "executions", Value: []byte("not json")},
	}

	require.NoError(t, w.HandleBatch(ctx, batch))
	require.NoError(t, w.HandleBatch(ctx, batch))

	rows, err := List(ctx, NewRepo(db), ListFilter{Symbol: "ibm"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(11), rows[0].AggressorID)
	assert.Equal(t, "55.00", rows[0].Price.StringFixed(2))
	assert.Equal(t, "11 IBM 10@55.00 buy=11(buyer) sell=10(seller) t=99", rows[0].String())

	mine, err := List(ctx, NewRepo(db), ListFilter{ClientID: "seller", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, err := List(ctx, NewRepo(db), ListFilter{ClientID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = List(ctx, NewRepo(db), ListFilter{})
	assert.ErrorIs(t, err, ErrNoListFilter)
}

func TestWorkerEmptyBatch(t *testing.T) {
	w := NewWorker(NewRepo(newTestDB(t)))
	assert.NoError(t, w.HandleBatch(context.Background(), nil))
}
