package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jgraef/gdax-go/pkg/model"
)

const DefaultBaseURL = "https://api.gdax.com"

// PublicClient calls the exchange's unauthenticated REST endpoints. It
// implements book.SnapshotLoader.
type PublicClient struct {
	baseURL string
	httpc   *http.Client
}

// NewPublicClient builds a client against baseURL (DefaultBaseURL when
// empty) with a bounded request timeout.
func NewPublicClient(baseURL string) *PublicClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &PublicClient{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// BookSnapshot fetches the full-depth (level 3) order book for a product.
func (c *PublicClient) BookSnapshot(ctx context.Context, productID string) (*model.BookSnapshot, error) {
	endpoint := fmt.Sprintf("%s/products/%s/book?level=3", c.baseURL, url.PathEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get order book %s: status %d: %s", productID, resp.StatusCode, body)
	}

	var snap model.BookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode order book %s: %w", productID, err)
	}
	return &snap, nil
}
