package book

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jgraef/gdax-go/internal/feed"
	"github.com/jgraef/gdax-go/pkg/model"
)

// ErrResyncFailed marks a snapshot fetch failure during (re)initialization.
// After it the book is not consistent and must not pretend to be; callers
// decide whether to retry, alert, or tear down.
var ErrResyncFailed = errors.New("order book resync failed")

// SequenceUninitialized is the sequence before the first snapshot load.
const SequenceUninitialized int64 = -1

// SnapshotLoader supplies a full-depth (level 3) snapshot of one product.
// rest.PublicClient implements it; tests supply fakes.
type SnapshotLoader interface {
	BookSnapshot(ctx context.Context, productID string) (*model.BookSnapshot, error)
}

type OrderBookOpts struct {
	ProductID string
	Loader    SnapshotLoader
	// OnChange is invoked once after every applied event so consumers can
	// re-query the book. May be nil.
	OnChange func()
	Logger   *zap.Logger
}

// OrderBook mirrors the exchange's book for one product by replaying the
// full channel against a snapshot. A single producer feeds Apply; any
// number of goroutines may query concurrently.
type OrderBook struct {
	productID string
	loader    SnapshotLoader
	onChange  func()
	logger    *zap.Logger

	mu          sync.RWMutex
	store       *PriceLevelStore
	sequence    int64
	ticker      *model.Ticker
	lostMatches uint64

	closed atomic.Bool
}

func NewOrderBook(opts OrderBookOpts) *OrderBook {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		productID: opts.ProductID,
		loader:    opts.Loader,
		onChange:  opts.OnChange,
		logger:    logger,
		store:     NewPriceLevelStore(),
		sequence:  SequenceUninitialized,
	}
}

func (b *OrderBook) ProductID() string { return b.productID }

// Stop makes all subsequent Apply calls no-ops. Queries keep working on
// the final state.
func (b *OrderBook) Stop() { b.closed.Store(true) }

func (b *OrderBook) Closed() bool { return b.closed.Load() }

// Reset discards the current state and rebuilds it from a fresh snapshot.
func (b *OrderBook) Reset(ctx context.Context) error {
	if err := b.resync(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrResyncFailed, err)
	}
	return nil
}

// Apply feeds one decoded event into the book. Stale events and events
// already superseded by a resync are dropped silently; a sequence gap
// triggers a full resync and discards the triggering event. Only a failed
// resync returns an error.
func (b *OrderBook) Apply(ctx context.Context, ev feed.Event) error {
	if ev == nil || b.closed.Load() {
		return nil
	}
	if b.Sequence() == SequenceUninitialized {
		if err := b.Reset(ctx); err != nil {
			return err
		}
	}

	seq, cur := ev.Seq(), b.Sequence()
	switch {
	case seq <= cur:
		// already represented in current state
		return nil
	case seq > cur+1:
		b.logger.Warn("messages missing, re-initializing book",
			zap.String("product_id", b.productID),
			zap.Int64("gap_start", cur+1),
			zap.Int64("gap_end", seq-1),
		)
		return b.Reset(ctx)
	}

	if b.applyInOrder(ev) && b.onChange != nil {
		b.onChange()
	}
	return nil
}

// applyInOrder mutates the store under the write lock and reports whether
// the change observer should fire.
func (b *OrderBook) applyInOrder(ev feed.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	notify := false
	switch e := ev.(type) {
	case *feed.Open:
		b.store.Add(&model.Order{
			ID:    e.OrderID,
			Side:  e.Side,
			Price: e.Price,
			Size:  e.RemainingSize,
		})
		notify = true
	case *feed.Done:
		// done without a price never rested on the book
		if e.Price != nil {
			b.store.Remove(e.Side, *e.Price, e.OrderID)
			notify = true
		}
	case *feed.Match:
		if !b.store.Match(e.Side, e.Price, e.MakerOrderID, e.Size) {
			// maker already gone, usually redundant with a prior done
			b.lostMatches++
		}
		b.ticker = &model.Ticker{
			Sequence:     e.Sequence,
			ProductID:    e.ProductID,
			Side:         e.Side,
			Price:        e.Price,
			Size:         e.Size,
			MakerOrderID: e.MakerOrderID,
			TakerOrderID: e.TakerOrderID,
			Time:         e.Time,
		}
		notify = true
	case *feed.Change:
		if e.Price != nil && e.NewSize != nil {
			b.store.Change(e.Side, *e.Price, e.OrderID, *e.NewSize)
		}
		notify = true
	}

	b.sequence = ev.Seq()
	return notify
}

// resync builds a replacement store off to the side and swaps it in, so
// readers always observe either the old book or the new one, never a mix.
func (b *OrderBook) resync(ctx context.Context) error {
	snap, err := b.loader.BookSnapshot(ctx, b.productID)
	if err != nil {
		return err
	}

	store := NewPriceLevelStore()
	for _, entry := range snap.Bids {
		store.Add(&model.Order{ID: entry.OrderID, Side: model.BID, Price: entry.Price, Size: entry.Size})
	}
	for _, entry := range snap.Asks {
		store.Add(&model.Order{ID: entry.OrderID, Side: model.ASK, Price: entry.Price, Size: entry.Size})
	}

	b.mu.Lock()
	b.store = store
	b.sequence = snap.Sequence
	b.mu.Unlock()

	b.logger.Info("book synced",
		zap.String("product_id", b.productID),
		zap.Int64("sequence", snap.Sequence),
	)
	return nil
}

// Sequence returns the last applied sequence number, or
// SequenceUninitialized before the first snapshot.
func (b *OrderBook) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// BestBid returns the highest bid price, if any.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Best(model.BID)
}

// BestAsk returns the lowest ask price, if any.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Best(model.ASK)
}

// TopOfBook bundles both best prices for API responses.
func (b *OrderBook) TopOfBook() model.TopOfBook {
	b.mu.RLock()
	defer b.mu.RUnlock()

	tob := model.TopOfBook{}
	if bid, ok := b.store.Best(model.BID); ok {
		tob.BestBid = &bid
	}
	if ask, ok := b.store.Best(model.ASK); ok {
		tob.BestAsk = &ask
	}
	return tob
}

// Depth returns copies of the resting orders at one price on one side.
func (b *OrderBook) Depth(side model.Side, price decimal.Decimal) []model.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.store.Depth(side, price)
}

// Snapshot returns a consistent point-in-time view of the whole book.
func (b *OrderBook) Snapshot() *model.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &model.BookSnapshot{
		Sequence: b.sequence,
		Bids:     b.store.Entries(model.BID),
		Asks:     b.store.Entries(model.ASK),
	}
}

// CurrentTicker returns a copy of the last match, or nil before any trade.
func (b *OrderBook) CurrentTicker() *model.Ticker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ticker == nil {
		return nil
	}
	ticker := *b.ticker
	return &ticker
}

// LostMatches counts match events whose maker order was already gone.
// A steadily climbing value hints at desynchronization upstream.
func (b *OrderBook) LostMatches() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lostMatches
}
