package model

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// BookEntry is one [price, size, order_id] triple from a level-3 book.
type BookEntry struct {
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	OrderID string          `json:"order_id"`
}

// UnmarshalJSON decodes the exchange's array form. Prices and sizes come
// as strings but some gateways emit bare numbers; both must parse without
// going through float64.
func (e *BookEntry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("book entry has %d fields, want 3", len(raw))
	}

	price, err := decodeDecimal(raw[0])
	if err != nil {
		return fmt.Errorf("book entry price: %w", err)
	}
	size, err := decodeDecimal(raw[1])
	if err != nil {
		return fmt.Errorf("book entry size: %w", err)
	}
	var id string
	if err := json.Unmarshal(raw[2], &id); err != nil {
		return fmt.Errorf("book entry order_id: %w", err)
	}

	e.Price = price
	e.Size = size
	e.OrderID = id
	return nil
}

func (e BookEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{e.Price.String(), e.Size.String(), e.OrderID})
}

func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	// bare JSON number: the raw bytes are already the exact literal
	return decimal.NewFromString(string(raw))
}

// BookSnapshot is a full-depth view of both sides at one sequence number.
// Bids are ordered best (highest) first, asks best (lowest) first.
type BookSnapshot struct {
	Sequence int64       `json:"sequence"`
	Bids     []BookEntry `json:"bids"`
	Asks     []BookEntry `json:"asks"`
}

// TopOfBook is the best price on each side, nil when a side is empty.
type TopOfBook struct {
	BestBid *decimal.Decimal `json:"bestBid"`
	BestAsk *decimal.Decimal `json:"bestAsk"`
}
