package book

import (
	"sort"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/jgraef/gdax-go/pkg/model"
)

// degree tuned for book-sized level counts
const treeDegree = 32

// PriceLevelStore keeps the two sides of the book in price order: bids
// descending, asks ascending. It is not safe for concurrent use on its
// own; OrderBook serializes all access.
type PriceLevelStore struct {
	bids *btree.BTreeG[*PriceLevel]
	asks *btree.BTreeG[*PriceLevel]
}

func NewPriceLevelStore() *PriceLevelStore {
	return &PriceLevelStore{
		bids: btree.NewG(treeDegree, bidLess),
		asks: btree.NewG(treeDegree, askLess),
	}
}

func (s *PriceLevelStore) side(side model.Side) *btree.BTreeG[*PriceLevel] {
	if side == model.BID {
		return s.bids
	}
	return s.asks
}

// Add inserts a resting order, creating its price level if absent. An
// order resent with an id already at that price overwrites the old entry.
func (s *PriceLevelStore) Add(order *model.Order) {
	tree := s.side(order.Side)
	level, ok := tree.Get(&PriceLevel{Price: order.Price})
	if !ok {
		level = newPriceLevel(order.Price)
		tree.ReplaceOrInsert(level)
	}
	level.Orders[order.ID] = order
}

// Remove deletes the order from the level at price, and the level itself
// once empty. Removing an unknown order or price is a no-op; the feed may
// redeliver removals the book has already seen.
func (s *PriceLevelStore) Remove(side model.Side, price decimal.Decimal, orderID string) bool {
	tree := s.side(side)
	level, ok := tree.Get(&PriceLevel{Price: price})
	if !ok {
		return false
	}
	if _, ok := level.Orders[orderID]; !ok {
		return false
	}
	delete(level.Orders, orderID)
	if len(level.Orders) == 0 {
		tree.Delete(level)
	}
	return true
}

// Match applies a trade of size against the maker's resting order: an
// exact fill removes the order, a partial fill decrements it in place.
// Returns false when the maker or its level is already gone.
func (s *PriceLevelStore) Match(side model.Side, price decimal.Decimal, makerOrderID string, size decimal.Decimal) bool {
	tree := s.side(side)
	level, ok := tree.Get(&PriceLevel{Price: price})
	if !ok {
		return false
	}
	maker, ok := level.Orders[makerOrderID]
	if !ok {
		return false
	}
	if maker.Size.Equal(size) {
		delete(level.Orders, makerOrderID)
		if len(level.Orders) == 0 {
			tree.Delete(level)
		}
		return true
	}
	maker.Size = maker.Size.Sub(size)
	return true
}

// Change replaces the order's size with newSize if the order rests at
// price. Unknown orders and levels are left untouched.
func (s *PriceLevelStore) Change(side model.Side, price decimal.Decimal, orderID string, newSize decimal.Decimal) bool {
	tree := s.side(side)
	level, ok := tree.Get(&PriceLevel{Price: price})
	if !ok {
		return false
	}
	order, ok := level.Orders[orderID]
	if !ok {
		return false
	}
	order.Size = newSize
	return true
}

// Best returns the side's best price: highest bid or lowest ask.
func (s *PriceLevelStore) Best(side model.Side) (decimal.Decimal, bool) {
	level, ok := s.side(side).Min()
	if !ok {
		return decimal.Decimal{}, false
	}
	return level.Price, true
}

// Depth returns copies of the orders resting at price, ordered by id.
func (s *PriceLevelStore) Depth(side model.Side, price decimal.Decimal) []model.Order {
	level, ok := s.side(side).Get(&PriceLevel{Price: price})
	if !ok {
		return nil
	}
	return copyLevelOrders(level)
}

// Entries walks the whole side in its sort order, best price first.
func (s *PriceLevelStore) Entries(side model.Side) []model.BookEntry {
	entries := make([]model.BookEntry, 0)
	s.side(side).Ascend(func(level *PriceLevel) bool {
		for _, order := range copyLevelOrders(level) {
			entries = append(entries, model.BookEntry{
				Price:   order.Price,
				Size:    order.Size,
				OrderID: order.ID,
			})
		}
		return true
	})
	return entries
}

// Len counts price levels across both sides.
func (s *PriceLevelStore) Len() int {
	return s.bids.Len() + s.asks.Len()
}

func copyLevelOrders(level *PriceLevel) []model.Order {
	orders := make([]model.Order, 0, len(level.Orders))
	for _, order := range level.Orders {
		orders = append(orders, *order)
	}
	// map iteration order is random; keep output stable
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders
}
