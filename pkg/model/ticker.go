package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is the payload of the most recent match message. It is
// overwritten on every trade, never aggregated.
type Ticker struct {
	Sequence     int64           `json:"sequence"`
	ProductID    string          `json:"product_id"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	Time         time.Time       `json:"time"`
}
