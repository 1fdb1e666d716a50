package archive

import (
	"fmt"
	"time"

	"github.com/joripage/mini-exchange/pkg/orderbook"
	"github.com/shopspring/decimal"
)

// ExecutionEvent is published once per match.
type ExecutionEvent struct {
	AggressorID uint64          `json:"aggressor_id"`
	RestingID   uint64          `json:"resting_id"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  uint64          `json:"buy_order_id"`
	SellOrderID uint64          `json:"sell_order_id"`
	BuyerCID    string          `json:"buyer_cid"`
	SellerCID   string          `json:"seller_cid"`
	Qty         uint64          `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	TsExec      uint64          `json:"ts_exec"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func NewExecutionEvent(exec *orderbook.Execution, tsExec uint64, at time.Time) *ExecutionEvent {
	buyer, seller := exec.Buyer(), exec.Seller()
	return &ExecutionEvent{
		AggressorID: exec.Aggressor.ID,
		RestingID:   exec.Resting.ID,
		Symbol:      exec.Resting.Symbol,
		BuyOrderID:  buyer.ID,
		SellOrderID: seller.ID,
		BuyerCID:    buyer.ClientID,
		SellerCID:   seller.ClientID,
		Qty:         exec.Resting.Qty,
		Price:       exec.Price,
		TsExec:      tsExec,
		ExecutedAt:  at,
	}
}

// Execution is the archived row.
type Execution struct {
	AggressorID int64           `gorm:"column:aggressor_id;primaryKey;autoIncrement:false"`
	RestingID   int64           `gorm:"column:resting_id"`
	Symbol      string          `gorm:"column:symbol"`
	BuyOrderID  int64           `gorm:"column:buy_order_id"`
	SellOrderID int64           `gorm:"column:sell_order_id"`
	BuyerCID    string          `gorm:"column:buyer_cid"`
	SellerCID   string          `gorm:"column:seller_cid"`
	Qty         int64           `gorm:"column:qty"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(18,2)"`
	TsExec      int64           `gorm:"column:ts_exec"`
	ExecutedAt  time.Time       `gorm:"column:executed_at"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
}

func (Execution) TableName() string {
	return "executions"
}

func (e *Execution) String() string {
	return fmt.Sprintf("%d %s %d@%s buy=%d(%s) sell=%d(%s) t=%d",
		e.AggressorID, e.Symbol, e.Qty, e.Price.StringFixed(2),
		e.BuyOrderID, e.BuyerCID, e.SellOrderID, e.SellerCID, e.TsExec)
}

func (ev *ExecutionEvent) Record() *Execution {
	return &Execution{
		AggressorID: int64(ev.AggressorID),
		RestingID:   int64(ev.RestingID),
		Symbol:      ev.Symbol,
		BuyOrderID:  int64(ev.BuyOrderID),
		SellOrderID: int64(ev.SellOrderID),
		BuyerCID:    ev.BuyerCID,
		SellerCID:   ev.SellerCID,
		Qty:         int64(ev.Qty),
		Price:       ev.Price,
		TsExec:      int64(ev.TsExec),
		ExecutedAt:  ev.ExecutedAt,
	}
}
