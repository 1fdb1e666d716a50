package archive

import (
	"context"
	"encoding/json"

	kafkawrapper "github.com/joripage/mini-exchange/pkg/kafka_wrapper"
	"go.uber.org/zap"
)

type consumer interface {
	Run(ctx context.Context, handler func(context.Context, []kafkawrapper.Message) error) error
}

// Worker drains execution events into the archive.
type Worker struct {
	execution IExecution
}

func NewWorker(repo IRepo) *Worker {
	return &Worker{
		execution: repo.Execution(),
	}
}

func (w *Worker) Start(ctx context.Context, c consumer) error {
	return c.Run(ctx, w.HandleBatch)
}

// HandleBatch decodes a batch and inserts it in one statement. Undecodable
// messages are logged and skipped; a database error fails the whole batch so
// it is retried.
func (w *Worker) HandleBatch(ctx context.Context, msgs []kafkawrapper.Message) error {
	records := make([]*Execution, 0, len(msgs))
	for _, msg := range msgs {
		var ev ExecutionEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			zap.S().Warnw("skip undecodable execution event", "msg", msg.String(), "err", err)
			continue
		}
		records = append(records, ev.Record())
	}

	if _, err := w.execution.BulkCreate(ctx, records); err != nil {
		zap.S().Errorw("archive executions failed", "batch", len(records), "err", err)
		return err
	}
	zap.S().Debugw("archived executions", "batch", len(records))
	return nil
}
