// Package venue defines the adapter contract for price sources and builds
// the configured adapter set. Adapters are deliberately dumb: they fetch one
// quote and report failure through an error return. Budgets, dedup, and
// timeouts all live in the request coordinator.
package venue

import (
	"context"

	"github.com/crossvenue/arbot/internal/domain"
)

// Adapter produces raw top-of-book quotes for one venue. Implementations
// must never panic; any venue problem is reported as an error return. The
// caller bounds execution time through ctx.
type Adapter interface {
	// Venue returns the identifier this adapter reports quotes under.
	Venue() domain.Venue

	// FetchQuote fetches the current top-of-book for the engine symbol.
	// The adapter is responsible for translating the engine symbol to its
	// venue-native form.
	FetchQuote(ctx context.Context, symbol string) (domain.PriceQuote, error)
}

// DepthProvider is implemented by adapters that can expose orderbook depth
// for liquidity-aware sizing. Adapters without depth simply do not implement
// it and the sizing cap is skipped.
type DepthProvider interface {
	FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error)
}

// QuoteSink receives push-fed quotes from streaming adapters. The
// definition lives in domain so streaming adapters can reference it without
// importing this package.
type QuoteSink = domain.QuoteSink

// Feed is a long-running push source (websocket, browser session) that
// writes quotes into a sink until its context is cancelled.
type Feed interface {
	Run(ctx context.Context, sink QuoteSink) error
}
