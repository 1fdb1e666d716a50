// Package kafkawrapper publishes messages to Kafka and consumes a topic in
// batches with a small worker pool.
package kafkawrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/cenkalti/backoff"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
	Headers   map[string]string
	Raw       kafka.Message
}

type ProducerConfig struct {
	Brokers      []string
	Balancer     kafka.Balancer
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
	// Async makes Publish return before the broker acknowledges.
	Async bool
}

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w messageWriter
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	wr := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               cfg.Balancer,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           cfg.RequiredAcks,
		Async:                  cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				zap.S().Errorw("kafka async write failed", "messages", len(messages), "err", err)
			}
		},
	}
	return &Producer{w: wr}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return errors.New("producer not initialized")
	}
	var kh []kafka.Header
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	})
}

func (p *Producer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.Publish(ctx, topic, []byte(key), b, headers)
}

func (p *Producer) Close(ctx context.Context) error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	WorkerCount int
	MaxRetries  int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	// Batch options
	BatchSize    int           // max messages per batch
	BatchTimeout time.Duration // max time spent filling one batch
}

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerGroup struct {
	r          messageReader
	cfg        ConsumerConfig
	prodForDLQ *Producer
}

func (cfg *ConsumerConfig) applyDefaults() {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
}

func NewConsumerGroup(cfg ConsumerConfig) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka consumer needs brokers and a topic")
	}
	cfg.applyDefaults()

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var prod *Producer
	if cfg.DLQTopic != "" {
		prod = NewProducer(ProducerConfig{Brokers: cfg.Brokers, RequiredAcks: kafka.RequireOne})
	}

	return &ConsumerGroup{r: rd, cfg: cfg, prodForDLQ: prod}, nil
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.prodForDLQ != nil {
		_ = cg.prodForDLQ.Close(context.Background())
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run fetches messages, groups them into batches of up to BatchSize (or
// whatever arrived within BatchTimeout) and hands each batch to handler.
// A batch is committed after handler succeeds, or after MaxRetries failures
// once it has been copied to the DLQ topic. Run returns when ctx ends.
func (cg *ConsumerGroup) Run(ctx context.Context, handler func(context.Context, []Message) error) error {
	if cg == nil || cg.r == nil {
		return errors.New("consumer not initialized")
	}

	fetched := make(chan kafka.Message)
	go func() {
		defer close(fetched)
		for {
			m, err := cg.r.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				zap.S().Warnw("kafka fetch failed", "topic", cg.cfg.Topic, "err", err)
				select {
				case <-time.After(200 * time.Millisecond):
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case fetched <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	batches := make(chan []kafka.Message, cg.cfg.WorkerCount)
	go func() {
		defer close(batches)
		var buf []kafka.Message
		ticker := time.NewTicker(cg.cfg.BatchTimeout)
		defer ticker.Stop()

		flush := func() bool {
			if len(buf) == 0 {
				return true
			}
			select {
			case batches <- buf:
				buf = nil
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case m, ok := <-fetched:
				if !ok {
					return
				}
				buf = append(buf, m)
				if len(buf) >= cg.cfg.BatchSize && !flush() {
					return
				}
			case <-ticker.C:
				if !flush() {
					return
				}
			}
		}
	}()

	done := make(chan struct{}, cg.cfg.WorkerCount)
	for i := 0; i < cg.cfg.WorkerCount; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for ms := range batches {
				cg.handleBatch(ctx, ms, handler)
			}
		}()
	}

	for i := 0; i < cg.cfg.WorkerCount; i++ {
		<-done
	}
	return ctx.Err()
}

func (cg *ConsumerGroup) handleBatch(ctx context.Context, ms []kafka.Message, handler func(context.Context, []Message) error) {
	wrapped := make([]Message, len(ms))
	for i, m := range ms {
		wrapped[i] = wrapMessage(m)
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if cg.cfg.MaxRetries > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cg.cfg.BackoffMin
		exp.MaxInterval = cg.cfg.BackoffMax
		exp.MaxElapsedTime = 0
		policy = backoff.WithMaxRetries(exp, uint64(cg.cfg.MaxRetries))
	}

	err := backoff.RetryNotify(func() error {
		return handler(ctx, wrapped)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		zap.S().Warnw("kafka batch handler failed, retrying", "batch", len(ms), "wait", wait, "err", err)
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		zap.S().Errorw("kafka batch dropped", "batch", len(ms), "dlq", cg.cfg.DLQTopic, "err", err)
		if cg.prodForDLQ != nil {
			for _, m := range ms {
				if perr := cg.prodForDLQ.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); perr != nil {
					zap.S().Errorw("publish to dlq failed", "offset", m.Offset, "err", perr)
				}
			}
		}
	}
	if err := cg.r.CommitMessages(ctx, ms...); err != nil {
		zap.S().Errorw("kafka commit failed", "batch", len(ms), "err", err)
	}
}

func wrapMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   headersToMap(m.Headers),
		Raw:       m,
	}
}

func headersToMap(hs []kafka.Header) map[string]string {
	out := map[string]string{}
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}

// HashKey turns s into a fixed 8 byte partition key.
func HashKey(s string) []byte {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	sum := h.Sum64()
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(sum >> (56 - 8*i))
	}
	return b
}

func (m Message) String() string {
	return fmt.Sprintf("%s/%d@%d", m.Topic, m.Partition, m.Offset)
}
