package model

import "github.com/shopspring/decimal"

// Order is a single resting order on the book. IDs are opaque exchange
// identifiers (uuids on GDAX) and are only unique within one side.
type Order struct {
	ID    string          `json:"id"`
	Side  Side            `json:"side"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}
