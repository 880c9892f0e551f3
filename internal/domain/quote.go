package domain

import "time"

// Venue identifies a trading source (exchange or scraped web orderbook).
type Venue string

const (
	VenueMEXC    Venue = "mexc"
	VenueLBank   Venue = "lbank"
	VenueBinance Venue = "binance"
)

// PriceQuote is a single top-of-book observation from one venue. It is an
// immutable value: adapters build a fresh one per fetch and never mutate it
// afterwards. A nil Bid or Ask means the venue did not expose that side.
type PriceQuote struct {
	Venue     Venue
	Symbol    string
	Bid       *float64
	Ask       *float64
	Timestamp time.Time
	Err       string // non-empty when the fetch failed; Bid/Ask are nil then
}

// NewQuote builds a successful quote. Pass negative values for a side the
// venue did not report; it is stored as nil.
func NewQuote(venue Venue, symbol string, bid, ask float64, ts time.Time) PriceQuote {
	q := PriceQuote{Venue: venue, Symbol: symbol, Timestamp: ts}
	if bid > 0 {
		b := bid
		q.Bid = &b
	}
	if ask > 0 {
		a := ask
		q.Ask = &a
	}
	return q
}

// ErrorQuote builds a failed quote carrying the adapter error text.
func ErrorQuote(venue Venue, symbol string, err error, ts time.Time) PriceQuote {
	return PriceQuote{Venue: venue, Symbol: symbol, Timestamp: ts, Err: err.Error()}
}

// OK reports whether the quote carries usable data on at least one side.
func (q PriceQuote) OK() bool {
	return q.Err == "" && (q.Bid != nil || q.Ask != nil)
}

// CachedQuote is a PriceQuote plus the instant it entered the cache. The
// freshness cache owns these exclusively and overwrites them wholesale.
type CachedQuote struct {
	PriceQuote
	CachedAt time.Time
}

// Age returns how long the quote has been cached relative to now.
func (c CachedQuote) Age(now time.Time) time.Duration {
	return now.Sub(c.CachedAt)
}

// QuoteSink receives push-fed quotes from streaming adapters.
type QuoteSink interface {
	Store(quote PriceQuote)
}
