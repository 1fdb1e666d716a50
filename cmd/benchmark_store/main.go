package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/joripage/mini-exchange/pkg/exchange"
	redis_wrapper "github.com/joripage/mini-exchange/pkg/infra/redis"
	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/joripage/mini-exchange/pkg/protocol/ordertext"
	"github.com/joripage/mini-exchange/pkg/store"
	"github.com/shopspring/decimal"
)

var symbols = []string{"AAPL", "IBM", "MSFT", "GOOG"}

func randomRequest(cid string) *ordertext.Request {
	side := orderbook.BUY
	if rand.Intn(2) == 0 {
		side = orderbook.SELL
	}
	return &ordertext.Request{
		ClientID: cid,
		Side:     side,
		Symbol:   symbols[rand.Intn(len(symbols))],
		Qty:      uint64(rand.Intn(10) + 1),
		Price:    decimal.New(int64(10000+rand.Intn(101)), -2),
	}
}

// Submits orders through the exchange with every store write going to Redis.
func main() {
	var (
		redisURL string
		total    int
		workers  int
	)
	flag.StringVar(&redisURL, "redis", "redis://localhost:6379/15", "redis url (the database is written to)")
	flag.IntVar(&total, "orders", 20_000, "number of orders to submit")
	flag.IntVar(&workers, "workers", 8, "concurrent submitters")
	flag.Parse()

	ctx := context.Background()
	rdb, err := redis_wrapper.InitRedis(ctx, &redis_wrapper.RedisConfig{ConnectionURL: redisURL, PoolSize: workers * 2})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	if err := rdb.FlushDB(ctx).Err(); err != nil {
		log.Fatalf("flush benchmark db: %v", err)
	}

	st := store.NewRedisStore(rdb)
	defer st.Close()
	ex := exchange.New(st)

	perWorker := total / workers
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(workerID int) {
			defer wg.Done()
			cid := fmt.Sprintf("bench-%d", workerID)
			for i := 0; i < perWorker; i++ {
				if _, _, err := ex.Submit(ctx, randomRequest(cid), "127.0.0.1"); err != nil {
					log.Printf("submit: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	active, _ := st.ActiveOrders(ctx)
	pending, _ := st.PendingExecutions(ctx)
	submitted := perWorker * workers

	fmt.Println("--------")
	fmt.Printf("Total Orders      : %d\n", submitted)
	fmt.Printf("Active In Store   : %d\n", len(active))
	fmt.Printf("Pending Executions: %d\n", len(pending))
	fmt.Printf("Last Order ID     : %d\n", ex.LastOrderID())
	fmt.Printf("Time Taken        : %s\n", elapsed)
	fmt.Printf("Throughput        : %.0f orders/s\n", float64(submitted)/elapsed.Seconds())
}
