package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgraef/gdax-go/internal/book"
	"github.com/jgraef/gdax-go/internal/feed"
	"github.com/jgraef/gdax-go/pkg/model"

	"github.com/shopspring/decimal"
)

type staticLoader struct {
	snap *model.BookSnapshot
}

func (l *staticLoader) BookSnapshot(ctx context.Context, productID string) (*model.BookSnapshot, error) {
	return l.snap, nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *book.OrderBook) {
	t.Helper()
	loader := &staticLoader{snap: &model.BookSnapshot{
		Sequence: 7,
		Bids: []model.BookEntry{
			{Price: decimal.RequireFromString("100"), Size: decimal.RequireFromString("2"), OrderID: "b1"},
		},
		Asks: []model.BookEntry{
			{Price: decimal.RequireFromString("105"), Size: decimal.RequireFromString("1"), OrderID: "a1"},
		},
	}}
	ob := book.NewOrderBook(book.OrderBookOpts{ProductID: "BTC-USD", Loader: loader})
	require.NoError(t, ob.Reset(context.Background()))

	mux := http.NewServeMux()
	BindRouter(BindRouterOpts{
		ServerRouter: mux,
		Books:        map[string]*book.OrderBook{"BTC-USD": ob},
	})
	return mux, ob
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestRouter_BookSnapshot(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := get(t, mux, "/api/v1/book/BTC-USD")
	require.Equal(t, http.StatusOK, rr.Code)

	var snap model.BookSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, int64(7), snap.Sequence)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "b1", snap.Bids[0].OrderID)
}

func TestRouter_UnknownProduct(t *testing.T) {
	mux, _ := newTestMux(t)
	rr := get(t, mux, "/api/v1/book/DOGE-USD")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_TopOfBook(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := get(t, mux, "/api/v1/book/BTC-USD/top")
	require.Equal(t, http.StatusOK, rr.Code)

	var top model.TopOfBook
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &top))
	require.NotNil(t, top.BestBid)
	require.NotNil(t, top.BestAsk)
	assert.True(t, top.BestBid.Equal(decimal.RequireFromString("100")))
	assert.True(t, top.BestAsk.Equal(decimal.RequireFromString("105")))
}

func TestRouter_Depth(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := get(t, mux, "/api/v1/book/BTC-USD/depth?side=buy&price=100")
	require.Equal(t, http.StatusOK, rr.Code)

	var orders []model.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "b1", orders[0].ID)

	rr = get(t, mux, "/api/v1/book/BTC-USD/depth?side=buy&price=42")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &orders))
	assert.Empty(t, orders)
}

func TestRouter_DepthBadParams(t *testing.T) {
	mux, _ := newTestMux(t)

	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/v1/book/BTC-USD/depth?side=hold&price=100").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, mux, "/api/v1/book/BTC-USD/depth?side=buy&price=abc").Code)
}

func TestRouter_TickerLifecycle(t *testing.T) {
	mux, ob := newTestMux(t)

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/api/v1/ticker/BTC-USD").Code)

	price := decimal.RequireFromString("100")
	require.NoError(t, ob.Apply(context.Background(), &feed.Match{
		Sequence: 8, ProductID: "BTC-USD", Side: model.BID,
		MakerOrderID: "b1", Price: price, Size: decimal.RequireFromString("1"),
	}))

	rr := get(t, mux, "/api/v1/ticker/BTC-USD")
	require.Equal(t, http.StatusOK, rr.Code)

	var ticker model.Ticker
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ticker))
	assert.Equal(t, int64(8), ticker.Sequence)
	assert.Equal(t, "b1", ticker.MakerOrderID)
}

func TestRouter_Healthz(t *testing.T) {
	mux, _ := newTestMux(t)
	rr := get(t, mux, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
}
