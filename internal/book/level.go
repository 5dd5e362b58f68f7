package book

import (
	"github.com/shopspring/decimal"

	"github.com/jgraef/gdax-go/pkg/model"
)

// PriceLevel holds every resting order at one price on one side, keyed by
// order id. A level never exists with an empty order map; the store
// deletes it when the last order goes.
type PriceLevel struct {
	Price  decimal.Decimal
	Orders map[string]*model.Order
}

func newPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price:  price,
		Orders: make(map[string]*model.Order),
	}
}

// Bids iterate best-first, so the bid tree orders by descending price.
func bidLess(a, b *PriceLevel) bool {
	return a.Price.GreaterThan(b.Price)
}

func askLess(a, b *PriceLevel) bool {
	return a.Price.LessThan(b.Price)
}
