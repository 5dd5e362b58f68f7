package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicClient_BookSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/products/BTC-USD/book", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("level"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"sequence": 3,
			"bids": [["295.96", "4.39088265", "da863862-25f4-4868-ac41-005d11ab0a5f"]],
			"asks": [["295.97", "25.23542881", "8b99b139-58f2-4ab2-8e7a-c11c846e3022"]]
		}`))
	}))
	defer srv.Close()

	client := NewPublicClient(srv.URL)
	snap, err := client.BookSnapshot(context.Background(), "BTC-USD")
	require.NoError(t, err)

	assert.Equal(t, int64(3), snap.Sequence)
	require.Len(t, snap.Bids, 1)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Bids[0].Price.Equal(decimal.RequireFromString("295.96")))
	assert.True(t, snap.Bids[0].Size.Equal(decimal.RequireFromString("4.39088265")))
	assert.Equal(t, "da863862-25f4-4868-ac41-005d11ab0a5f", snap.Bids[0].OrderID)
	assert.Equal(t, "8b99b139-58f2-4ab2-8e7a-c11c846e3022", snap.Asks[0].OrderID)
}

func TestPublicClient_BookSnapshotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"NotFound"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewPublicClient(srv.URL)
	_, err := client.BookSnapshot(context.Background(), "NOPE-USD")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestPublicClient_BookSnapshotBadBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sequence": `))
	}))
	defer srv.Close()

	client := NewPublicClient(srv.URL)
	_, err := client.BookSnapshot(context.Background(), "BTC-USD")
	assert.Error(t, err)
}

func TestPublicClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewPublicClient(srv.URL)
	_, err := client.BookSnapshot(ctx, "BTC-USD")
	assert.Error(t, err)
}
