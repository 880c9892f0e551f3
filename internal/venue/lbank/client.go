// Package lbank implements the LBank futures venue adapter using the public
// REST API.
package lbank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/crossvenue/arbot/internal/domain"
)

// Client is the REST adapter for LBank market data.
type Client struct {
	venue      domain.Venue
	baseURL    string
	symbols    map[string]string // engine symbol -> lbank pair, e.g. "debt_usdt"
	httpClient *http.Client
}

// NewClient creates an LBank market-data client.
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

// depthLevel is one [price, size] pair; LBank encodes numbers as strings in
// some deployments, so decode through json.Number.
type depthLevel [2]json.Number

// FetchQuote fetches the top of book from the depth endpoint. LBank's ticker
// endpoint does not expose bid/ask, so the first depth level on each side is
// used instead.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	snap, err := c.FetchOrderBook(ctx, symbol)
	if err != nil {
		return domain.PriceQuote{}, err
	}

	var bid, ask float64
	if len(snap.Bids) > 0 {
		bid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		ask = snap.Asks[0].Price
	}
	return domain.NewQuote(c.venue, symbol, bid, ask, snap.Timestamp), nil
}

// FetchOrderBook fetches top depth levels for liquidity-aware sizing.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	native, ok := c.symbols[symbol]
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: no symbol mapping for %q: %w", symbol, domain.ErrNotFound)
	}

	params := url.Values{}
	params.Set("symbol", native)
	params.Set("size", "20")
	path := "/v2/depth.do?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: get depth %s: %w", native, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: depth %s: status %d", native, resp.StatusCode)
	}

	var payload struct {
		Result    string `json:"result"`
		ErrorCode int    `json:"error_code"`
		Data      struct {
			Asks []depthLevel `json:"asks"`
			Bids []depthLevel `json:"bids"`
		} `json:"data"`
		Ts int64 `json:"ts"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: decode depth %s: %w", native, err)
	}
	if payload.Result != "true" && payload.Result != "" {
		return domain.OrderBookSnapshot{}, fmt.Errorf("lbank: depth %s: error code %d", native, payload.ErrorCode)
	}

	ts := time.UnixMilli(payload.Ts)
	if payload.Ts == 0 {
		ts = time.Now().UTC()
	}
	snap := domain.OrderBookSnapshot{
		Venue:     c.venue,
		Symbol:    symbol,
		Timestamp: ts,
	}
	for _, l := range payload.Data.Bids {
		if lvl, ok := parseLevel(l); ok {
			snap.Bids = append(snap.Bids, lvl)
		}
	}
	for _, l := range payload.Data.Asks {
		if lvl, ok := parseLevel(l); ok {
			snap.Asks = append(snap.Asks, lvl)
		}
	}
	return snap, nil
}

func parseLevel(l depthLevel) (domain.OrderBookLevel, bool) {
	price, err := strconv.ParseFloat(l[0].String(), 64)
	if err != nil {
		return domain.OrderBookLevel{}, false
	}
	size, err := strconv.ParseFloat(l[1].String(), 64)
	if err != nil {
		return domain.OrderBookLevel{}, false
	}
	return domain.OrderBookLevel{Price: price, Size: size}, true
}
