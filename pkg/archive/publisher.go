package archive

import (
	"context"
	"time"

	kafkawrapper "github.com/joripage/mini-exchange/pkg/kafka_wrapper"
	"github.com/joripage/mini-exchange/pkg/orderbook"
)

type producer interface {
	PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error
	Close(ctx context.Context) error
}

// KafkaPublisher sends one ExecutionEvent per match, keyed by symbol so a
// symbol's executions stay ordered within a partition.
type KafkaPublisher struct {
	producer producer
	topic    string
	now      func() time.Time
}

func NewKafkaPublisher(p *kafkawrapper.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, now: time.Now}
}

func (p *KafkaPublisher) PublishExecution(ctx context.Context, exec *orderbook.Execution, tsExec uint64) error {
	ev := NewExecutionEvent(exec, tsExec, p.now())
	return p.producer.PublishJSON(ctx, p.topic, ev.Symbol, ev, map[string]string{"type": "execution"})
}

func (p *KafkaPublisher) Close(ctx context.Context) error {
	return p.producer.Close(ctx)
}
