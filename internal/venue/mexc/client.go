// Package mexc implements the MEXC futures venue adapter. It talks to the
// public contract API; no credentials are required for market data.
package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/crossvenue/arbot/internal/domain"
)

// Client is the REST adapter for MEXC futures market data.
type Client struct {
	venue      domain.Venue
	baseURL    string
	symbols    map[string]string // engine symbol -> contract symbol
	httpClient *http.Client
}

// NewClient creates a MEXC market-data client.
//
// baseURL is the contract API root, e.g. "https://contract.mexc.com".
// symbols maps engine symbols to MEXC contract symbols ("DEBT_USDT").
func NewClient(venue domain.Venue, baseURL string, symbols map[string]string) *Client {
	return &Client{
		venue:   venue,
		baseURL: baseURL,
		symbols: symbols,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Venue implements venue.Adapter.
func (c *Client) Venue() domain.Venue { return c.venue }

// tickerData is the payload of /api/v1/contract/ticker.
type tickerData struct {
	Symbol    string  `json:"symbol"`
	Bid1      float64 `json:"bid1"`
	Ask1      float64 `json:"ask1"`
	LastPrice float64 `json:"lastPrice"`
	Timestamp int64   `json:"timestamp"`
}

// FetchQuote fetches the current best bid/ask for the symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	native, ok := c.symbols[symbol]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("mexc: no symbol mapping for %q: %w", symbol, domain.ErrNotFound)
	}

	path := "/api/v1/contract/ticker?symbol=" + url.QueryEscape(native)
	body, err := c.get(ctx, path)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("mexc: get ticker %s: %w", native, err)
	}

	var resp struct {
		Success bool       `json:"success"`
		Code    int        `json:"code"`
		Data    tickerData `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("mexc: decode ticker %s: %w", native, err)
	}
	if !resp.Success {
		return domain.PriceQuote{}, fmt.Errorf("mexc: ticker %s: api code %d", native, resp.Code)
	}

	ts := time.UnixMilli(resp.Data.Timestamp)
	if resp.Data.Timestamp == 0 {
		ts = time.Now().UTC()
	}
	return domain.NewQuote(c.venue, symbol, resp.Data.Bid1, resp.Data.Ask1, ts), nil
}

// FetchOrderBook fetches top depth levels for liquidity-aware sizing.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	native, ok := c.symbols[symbol]
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("mexc: no symbol mapping for %q: %w", symbol, domain.ErrNotFound)
	}

	path := "/api/v1/contract/depth/" + url.PathEscape(native) + "?limit=20"
	body, err := c.get(ctx, path)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("mexc: get depth %s: %w", native, err)
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			// Each level is [price, volume, orderCount].
			Asks      [][]float64 `json:"asks"`
			Bids      [][]float64 `json:"bids"`
			Timestamp int64       `json:"timestamp"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("mexc: decode depth %s: %w", native, err)
	}
	if !resp.Success {
		return domain.OrderBookSnapshot{}, fmt.Errorf("mexc: depth %s: request rejected", native)
	}

	snap := domain.OrderBookSnapshot{
		Venue:     c.venue,
		Symbol:    symbol,
		Timestamp: time.UnixMilli(resp.Data.Timestamp),
	}
	for _, l := range resp.Data.Bids {
		if len(l) >= 2 {
			snap.Bids = append(snap.Bids, domain.OrderBookLevel{Price: l[0], Size: l[1]})
		}
	}
	for _, l := range resp.Data.Asks {
		if len(l) >= 2 {
			snap.Asks = append(snap.Asks, domain.OrderBookLevel{Price: l[0], Size: l[1]})
		}
	}
	return snap, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
