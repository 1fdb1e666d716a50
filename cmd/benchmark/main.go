package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
)

const (
	minPrice = 10000 // cents
	maxPrice = 10100
	minQty   = 1
	maxQty   = 10
)

var symbols = []string{"AAPL", "IBM", "MSFT", "GOOG"}

func randomOrder(id uint64) *orderbook.Order {
	side := orderbook.BUY
	if rand.Intn(2) == 0 {
		side = orderbook.SELL
	}
	cents := int64(minPrice + rand.Intn(maxPrice-minPrice+1))

	return &orderbook.Order{
		ID:       id,
		ClientID: "bench",
		Symbol:   symbols[rand.Intn(len(symbols))],
		Side:     side,
		Price:    decimal.New(cents, -2),
		Qty:      uint64(rand.Intn(maxQty-minQty+1) + minQty),
	}
}

func main() {
	var numOrders int
	flag.IntVar(&numOrders, "orders", 200_000, "number of orders to submit")
	flag.Parse()

	obm := orderbook.NewOrderBookManager()
	totalMatched := 0
	totalQty := uint64(0)
	obm.RegisterTradeCallback(func(e *orderbook.Execution) {
		totalMatched++
		totalQty += e.Resting.Qty
		if totalMatched <= 5 {
			log.Printf("match: BUY[%d] <=> SELL[%d] %s @ %s qty %d\n",
				e.Buyer().ID, e.Seller().ID, e.Resting.Symbol, e.Price.StringFixed(2), e.Resting.Qty)
		}
	})

	start := time.Now()
	for i := 0; i < numOrders; i++ {
		obm.AddOrder(randomOrder(uint64(i + 1)))
	}
	elapsed := time.Since(start)

	fmt.Println("--------")
	fmt.Printf("Total Orders     : %d\n", numOrders)
	fmt.Printf("Total Matches    : %d\n", totalMatched)
	fmt.Printf("Total Matched Qty: %d\n", totalQty)
	fmt.Printf("Resting          : %d\n", obm.RestingCount())
	fmt.Printf("Time Taken       : %s\n", elapsed)
	fmt.Printf("Throughput       : %.0f orders/s\n", float64(numOrders)/elapsed.Seconds())
}
