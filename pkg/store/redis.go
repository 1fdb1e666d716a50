package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	keyActiveOrders   = "active_orders"
	keyExecutedOrders = "executed_orders"
	keyClientAddress  = "c2ip"
	keyLastOrderID    = "last_order_id"
	keyOrderPrefix    = "order:"
)

// bumpLastIDScript raises last_order_id to ARGV[1] but never lowers it.
var bumpLastIDScript = redis.NewScript(`
if tonumber(redis.call('GET', KEYS[1]) or '0') < tonumber(ARGV[1]) then
	redis.call('SET', KEYS[1], ARGV[1])
end
return 0
`)

// ackScript clears an id from the executed set and stamps its hash only if
// the id was still pending.
var ackScript = redis.NewScript(`
if redis.call('SREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], 'status', ARGV[2], 't_ack', ARGV[3])
return 1
`)

func bumpLastID(ctx context.Context, pipe redis.Pipeliner, id uint64) {
	bumpLastIDScript.Eval(ctx, pipe, []string{keyLastOrderID}, id)
}

func orderKey(id uint64) string {
	return keyOrderPrefix + strconv.FormatUint(id, 10)
}

// RedisStore keeps the exchange state in Redis. Every multi-key update is a
// single MULTI/EXEC so readers never see half of it.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func orderFields(o *orderbook.Order, status string) map[string]any {
	return map[string]any{
		"cid":      o.ClientID,
		"t_client": o.ClientTimestamp,
		"t_server": o.ServerTimestamp,
		"symbol":   o.Symbol,
		"op":       o.Side.Code(),
		"price":    o.Price.StringFixed(2),
		"qty":      o.Qty,
		"status":   status,
	}
}

func (s *RedisStore) SaveOrder(ctx context.Context, order *orderbook.Order) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, orderKey(order.ID), orderFields(order, StatusActive))
		pipe.SAdd(ctx, keyActiveOrders, order.ID)
		bumpLastID(ctx, pipe, order.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save order %d: %w", order.ID, err)
	}
	return nil
}

func (s *RedisStore) RecordExecution(ctx context.Context, exec *orderbook.Execution, tsExec uint64) error {
	aggressor, resting := exec.Aggressor, exec.Resting
	price := exec.Price.StringFixed(2)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields := orderFields(aggressor, StatusExecuted)
		fields["exec_price"] = price
		fields["t_exec"] = tsExec
		fields["counter_id"] = resting.ID
		pipe.HSet(ctx, orderKey(aggressor.ID), fields)

		pipe.HSet(ctx, orderKey(resting.ID),
			"status", StatusExecuted,
			"exec_price", price,
			"t_exec", tsExec,
			"counter_id", aggressor.ID,
		)

		pipe.SRem(ctx, keyActiveOrders, resting.ID)
		pipe.SAdd(ctx, keyExecutedOrders, resting.ID, aggressor.ID)
		bumpLastID(ctx, pipe, aggressor.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record execution %d/%d: %w", aggressor.ID, resting.ID, err)
	}
	return nil
}

func (s *RedisStore) RecordCancel(ctx context.Context, request, cancelled *orderbook.Order) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		bumpLastID(ctx, pipe, request.ID)
		if cancelled != nil {
			pipe.SRem(ctx, keyActiveOrders, cancelled.ID)
			pipe.HSet(ctx, orderKey(cancelled.ID), "status", StatusCancelled)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record cancel %d: %w", request.ID, err)
	}
	return nil
}

func (s *RedisStore) GetOrder(ctx context.Context, id uint64) (*OrderRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, orderKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(id, fields)
}

// loadOrders fetches the hashes of ids in one round trip, skipping ids whose
// hash is gone.
func (s *RedisStore) loadOrders(ctx context.Context, ids []string) ([]*OrderRecord, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, keyOrderPrefix+id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]*OrderRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		id, err := strconv.ParseUint(ids[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad order id %q: %w", ids[i], err)
		}
		rec, err := recordFromHash(id, fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Order.ID < records[j].Order.ID })
	return records, nil
}

func (s *RedisStore) ActiveOrders(ctx context.Context) ([]*orderbook.Order, error) {
	ids, err := s.rdb.SMembers(ctx, keyActiveOrders).Result()
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	records, err := s.loadOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load active orders: %w", err)
	}

	orders := make([]*orderbook.Order, 0, len(records))
	for _, rec := range records {
		o := rec.Order
		orders = append(orders, &o)
	}
	return orders, nil
}

func (s *RedisStore) LastOrderID(ctx context.Context) (uint64, error) {
	v, err := s.rdb.Get(ctx, keyLastOrderID).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get last order id: %w", err)
	}
	return v, nil
}

func (s *RedisStore) PendingExecutions(ctx context.Context) ([]PendingExecution, error) {
	ids, err := s.rdb.SMembers(ctx, keyExecutedOrders).Result()
	if err != nil {
		return nil, fmt.Errorf("list executed orders: %w", err)
	}
	records, err := s.loadOrders(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load executed orders: %w", err)
	}

	pending := make([]PendingExecution, 0, len(records))
	for _, rec := range records {
		pending = append(pending, pendingFromRecord(rec))
	}
	return pending, nil
}

func (s *RedisStore) AcknowledgeExecution(ctx context.Context, orderID, tsAck uint64) error {
	removed, err := ackScript.Run(ctx, s.rdb,
		[]string{keyExecutedOrders, orderKey(orderID)},
		orderID, StatusAcknowledged, tsAck,
	).Int()
	if err != nil {
		return fmt.Errorf("acknowledge execution %d: %w", orderID, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) SetClientAddress(ctx context.Context, clientID, ip string) error {
	if err := s.rdb.HSet(ctx, keyClientAddress, clientID, ip).Err(); err != nil {
		return fmt.Errorf("set client address: %w", err)
	}
	return nil
}

func (s *RedisStore) ClientAddress(ctx context.Context, clientID string) (string, error) {
	ip, err := s.rdb.HGet(ctx, keyClientAddress, clientID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get client address: %w", err)
	}
	return ip, nil
}

func (s *RedisStore) ClientAddresses(ctx context.Context) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, keyClientAddress).Result()
	if err != nil {
		return nil, fmt.Errorf("list client addresses: %w", err)
	}
	return m, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func recordFromHash(id uint64, f map[string]string) (*OrderRecord, error) {
	var err error
	u := func(key string) uint64 {
		if err != nil || f[key] == "" {
			return 0
		}
		var v uint64
		v, err = strconv.ParseUint(f[key], 10, 64)
		if err != nil {
			err = fmt.Errorf("order %d field %s: %w", id, key, err)
		}
		return v
	}
	d := func(key string) decimal.Decimal {
		if err != nil || f[key] == "" {
			return decimal.Zero
		}
		var v decimal.Decimal
		v, err = decimal.NewFromString(f[key])
		if err != nil {
			err = fmt.Errorf("order %d field %s: %w", id, key, err)
		}
		return v
	}

	rec := &OrderRecord{
		Order: orderbook.Order{
			ID:              id,
			ClientID:        f["cid"],
			ClientTimestamp: u("t_client"),
			ServerTimestamp: u("t_server"),
			Symbol:          f["symbol"],
			Qty:             u("qty"),
			Price:           d("price"),
		},
		Status:    f["status"],
		ExecPrice: d("exec_price"),
		TsExec:    u("t_exec"),
		CounterID: u("counter_id"),
		TsAck:     u("t_ack"),
	}
	side := u("op")
	if err != nil {
		return nil, err
	}
	if rec.Order.Side, err = orderbook.ParseSide(side); err != nil {
		return nil, fmt.Errorf("order %d: %w", id, err)
	}
	return rec, nil
}
