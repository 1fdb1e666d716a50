package kafkawrapper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			m := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()
		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func TestPublishJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{w: w}

	err := p.PublishJSON(context.Background(), "executions", "AAPL", map[string]int{"qty": 1}, map[string]string{"v": "1"})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "executions", w.msgs[0].Topic)
	assert.Equal(t, []byte("AAPL"), w.msgs[0].Key)
	assert.JSONEq(t, `{"qty":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "v", w.msgs[0].Headers[0].Key)
}

func TestNilProducer(t *testing.T) {
	var p *Producer
	assert.Error(t, p.Publish(context.Background(), "t", nil, nil, nil))
	assert.NoError(t, p.Close(context.Background()))
}

func newTestGroup(r *fakeReader, cfg ConsumerConfig) *ConsumerGroup {
	cfg.applyDefaults()
	return &ConsumerGroup{r: r, cfg: cfg}
}

func TestRunBatchesAndCommits(t *testing.T) {
	r := &fakeReader{}
	for i := 0; i < 5; i++ {
		r.pending = append(r.pending, kafka.Message{Offset: int64(i), Value: []byte{byte(i)}})
	}
	cg := newTestGroup(r, ConsumerConfig{Topic: "t", BatchSize: 2, BatchTimeout: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen int
	go func() {
		_ = cg.Run(ctx, func(_ context.Context, ms []Message) error {
			assert.LessOrEqual(t, len(ms), 2)
			mu.Lock()
			seen += len(ms)
			mu.Unlock()
			return nil
		})
	}()

	require.Eventually(t, func() bool { return r.committedCount() == 5 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 5, seen)
	mu.Unlock()
}

func TestRunRetriesThenCommits(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{{Offset: 7}}}
	cg := newTestGroup(r, ConsumerConfig{Topic: "t", MaxRetries: 2, BackoffMin: time.Millisecond, BackoffMax: 2 * time.Millisecond, BatchTimeout: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	go func() {
		_ = cg.Run(ctx, func(context.Context, []Message) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return errors.New("db down")
		})
	}()

	require.Eventually(t, func() bool { return r.committedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestHashKeyStable(t *testing.T) {
	assert.Equal(t, HashKey("AAPL"), HashKey("AAPL"))
	assert.NotEqual(t, HashKey("AAPL"), HashKey("IBM"))
	assert.Len(t, HashKey(""), 8)
}
