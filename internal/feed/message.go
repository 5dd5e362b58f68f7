package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jgraef/gdax-go/pkg/model"
)

// ErrNoSequence marks a message without a sequence number. Such messages
// carry no position in the product's event log and are dropped whole.
var ErrNoSequence = errors.New("feed message has no sequence number")

// Event is one decoded message from the full channel. The feed carries a
// small closed set of kinds; each is decoded once here so the book never
// inspects string tags or raw JSON.
type Event interface {
	// Seq is the message's position in the product's event log.
	Seq() int64
}

// Open announces a new resting order entering the book.
type Open struct {
	Sequence      int64
	ProductID     string
	Side          model.Side
	OrderID       string
	Price         decimal.Decimal
	RemainingSize decimal.Decimal
}

// Done announces an order leaving the book (filled or canceled). Price is
// nil for orders that never rested (e.g. market orders); those carry no
// book position to remove.
type Done struct {
	Sequence  int64
	ProductID string
	Side      model.Side
	OrderID   string
	Price     *decimal.Decimal
}

// Match announces a trade against a resting maker order.
type Match struct {
	Sequence     int64
	ProductID    string
	Side         model.Side
	MakerOrderID string
	TakerOrderID string
	Price        decimal.Decimal
	Size         decimal.Decimal
	Time         time.Time
}

// Change announces an amended order size without a trade. Price or
// NewSize may be absent on the wire; the book treats those as no-ops.
type Change struct {
	Sequence  int64
	ProductID string
	Side      model.Side
	OrderID   string
	Price     *decimal.Decimal
	NewSize   *decimal.Decimal
}

// Unknown covers sequenced messages that do not mutate the book, either
// because the type is not book-relevant (e.g. "received") or because a
// field required by its type is missing. They still advance the sequence.
type Unknown struct {
	Sequence int64
	Type     string
}

func (e *Open) Seq() int64    { return e.Sequence }
func (e *Done) Seq() int64    { return e.Sequence }
func (e *Match) Seq() int64   { return e.Sequence }
func (e *Change) Seq() int64  { return e.Sequence }
func (e *Unknown) Seq() int64 { return e.Sequence }

type rawMessage struct {
	Type          string           `json:"type"`
	Sequence      *int64           `json:"sequence"`
	ProductID     string           `json:"product_id"`
	Side          string           `json:"side"`
	Price         *decimal.Decimal `json:"price"`
	Size          *decimal.Decimal `json:"size"`
	RemainingSize *decimal.Decimal `json:"remaining_size"`
	NewSize       *decimal.Decimal `json:"new_size"`
	OrderID       string           `json:"order_id"`
	MakerOrderID  string           `json:"maker_order_id"`
	TakerOrderID  string           `json:"taker_order_id"`
	Time          *time.Time       `json:"time"`
}

// Decode parses one feed message into its Event variant. It returns
// ErrNoSequence for messages without a sequence number and a JSON error
// for unparseable input; both are expected on a best-effort feed and the
// caller is free to drop them silently.
func Decode(data []byte) (Event, error) {
	var m rawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Sequence == nil {
		return nil, ErrNoSequence
	}
	seq := *m.Sequence

	unknown := &Unknown{Sequence: seq, Type: m.Type}
	side, sideErr := model.ParseSide(m.Side)

	switch m.Type {
	case "open":
		if sideErr != nil || m.OrderID == "" || m.Price == nil || m.RemainingSize == nil {
			return unknown, nil
		}
		return &Open{
			Sequence:      seq,
			ProductID:     m.ProductID,
			Side:          side,
			OrderID:       m.OrderID,
			Price:         *m.Price,
			RemainingSize: *m.RemainingSize,
		}, nil
	case "done":
		if sideErr != nil || m.OrderID == "" {
			return unknown, nil
		}
		return &Done{
			Sequence:  seq,
			ProductID: m.ProductID,
			Side:      side,
			OrderID:   m.OrderID,
			Price:     m.Price,
		}, nil
	case "match":
		if sideErr != nil || m.MakerOrderID == "" || m.Price == nil || m.Size == nil {
			return unknown, nil
		}
		ev := &Match{
			Sequence:     seq,
			ProductID:    m.ProductID,
			Side:         side,
			MakerOrderID: m.MakerOrderID,
			TakerOrderID: m.TakerOrderID,
			Price:        *m.Price,
			Size:         *m.Size,
		}
		if m.Time != nil {
			ev.Time = *m.Time
		}
		return ev, nil
	case "change":
		if sideErr != nil || m.OrderID == "" {
			return unknown, nil
		}
		return &Change{
			Sequence:  seq,
			ProductID: m.ProductID,
			Side:      side,
			OrderID:   m.OrderID,
			Price:     m.Price,
			NewSize:   m.NewSize,
		}, nil
	}
	return unknown, nil
}
