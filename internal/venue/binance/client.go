// Package binance implements the Binance spot venue adapter on top of the
// official go-binance SDK. Market data endpoints need no credentials.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gobinance "github.com/adshao/go-binance/v2"

	"github.com/crossvenue/arbot/internal/domain"
)

// Client is the adapter for Binance market data.
type Client struct {
	venue   domain.Venue
	api     *gobinance.Client
	symbols map[string]string // engine symbol -> binance symbol, e.g. "BTCUSDT"
}

// NewClient creates a Binance market-data client.
func NewClient(venue domain.Venue, symbols map[string]string) *Client {
	return &Client{
		venue:   venue,
		api:     gobinance.NewClient("", ""),
		symbols: symbols,
	}
}

// Venue implements venue.Adapter.
func (c *Client) Venue() domain.Venue { return c.venue }

// FetchQuote fetches the current best bid/ask via the book ticker endpoint.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	native, ok := c.symbols[symbol]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("binance: no symbol mapping for %q: %w", symbol, domain.ErrNotFound)
	}

	tickers, err := c.api.NewListBookTickersService().Symbol(native).Do(ctx)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: book ticker %s: %w", native, err)
	}
	if len(tickers) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("binance: book ticker %s: empty response: %w", native, domain.ErrNotFound)
	}

	bid, err := strconv.ParseFloat(tickers[0].BidPrice, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: parse bid %q: %w", tickers[0].BidPrice, err)
	}
	ask, err := strconv.ParseFloat(tickers[0].AskPrice, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("binance: parse ask %q: %w", tickers[0].AskPrice, err)
	}

	return domain.NewQuote(c.venue, symbol, bid, ask, time.Now().UTC()), nil
}

// FetchOrderBook fetches top depth levels for liquidity-aware sizing.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	native, ok := c.symbols[symbol]
	if !ok {
		return domain.OrderBookSnapshot{}, fmt.Errorf("binance: no symbol mapping for %q: %w", symbol, domain.ErrNotFound)
	}

	depth, err := c.api.NewDepthService().Symbol(native).Limit(20).Do(ctx)
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("binance: depth %s: %w", native, err)
	}

	snap := domain.OrderBookSnapshot{
		Venue:     c.venue,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	}
	for _, b := range depth.Bids {
		price, perr := strconv.ParseFloat(b.Price, 64)
		size, serr := strconv.ParseFloat(b.Quantity, 64)
		if perr == nil && serr == nil {
			snap.Bids = append(snap.Bids, domain.OrderBookLevel{Price: price, Size: size})
		}
	}
	for _, a := range depth.Asks {
		price, perr := strconv.ParseFloat(a.Price, 64)
		size, serr := strconv.ParseFloat(a.Quantity, 64)
		if perr == nil && serr == nil {
			snap.Asks = append(snap.Asks, domain.OrderBookLevel{Price: price, Size: size})
		}
	}
	return snap, nil
}
