// Package pricecache holds the most recent quote per (venue, symbol) and
// answers staleness questions for the evaluation loop. Writers are the
// coordinator workers and push feeds; readers are the engine tick and the
// status surface.
package pricecache

import (
	"sync"
	"time"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
)

type key struct {
	venue  domain.Venue
	symbol string
}

type entry struct {
	quote   domain.CachedQuote
	lastErr string
	errAt   time.Time
}

// Cache is a stale-while-revalidate quote store. A failed fetch never
// evicts the last good quote; it only records the error so the status
// surface can show it. Freshness is judged against the owning venue's
// max-age.
type Cache struct {
	mu      sync.RWMutex
	entries map[key]*entry
	maxAge  map[domain.Venue]time.Duration
	now     func() time.Time
}

// New builds a cache with per-venue max-age taken from venue config.
func New(venues map[string]config.VenueConfig) *Cache {
	maxAge := make(map[domain.Venue]time.Duration, len(venues))
	for name, vc := range venues {
		if vc.Enabled {
			maxAge[domain.Venue(name)] = vc.MaxAge.Duration
		}
	}
	return &Cache{
		entries: make(map[key]*entry),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Store implements venue.QuoteSink. Storing the same quote twice is
// harmless; storing an error quote leaves the previous good value in
// place.
func (c *Cache) Store(q domain.PriceQuote) {
	k := key{venue: q.Venue, symbol: q.Symbol}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		e = &entry{}
		c.entries[k] = e
	}
	if q.Err != "" {
		e.lastErr = q.Err
		e.errAt = now
		return
	}
	e.quote = domain.CachedQuote{PriceQuote: q, CachedAt: now}
	e.lastErr = ""
}

// Get returns the cached quote for one pair regardless of age. The
// second return is false when no successful fetch has ever landed.
func (c *Cache) Get(v domain.Venue, symbol string) (domain.CachedQuote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{venue: v, symbol: symbol}]
	if !ok || e.quote.Venue == "" {
		return domain.CachedQuote{}, false
	}
	return e.quote, true
}

// Fresh returns the cached quote only when it is within the venue's
// max-age.
func (c *Cache) Fresh(v domain.Venue, symbol string) (domain.CachedQuote, bool) {
	q, ok := c.Get(v, symbol)
	if !ok {
		return domain.CachedQuote{}, false
	}
	if q.Age(c.now()) > c.maxAgeFor(v) {
		return domain.CachedQuote{}, false
	}
	return q, true
}

// Snapshot collects the fresh quotes for one symbol across every venue
// that has one. The evaluator works off this map alone.
func (c *Cache) Snapshot(symbol string) map[domain.Venue]domain.CachedQuote {
	now := c.now()
	out := make(map[domain.Venue]domain.CachedQuote)

	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, e := range c.entries {
		if k.symbol != symbol || e.quote.Venue == "" {
			continue
		}
		if e.quote.Age(now) > c.maxAgeFor(k.venue) {
			continue
		}
		out[k.venue] = e.quote
	}
	return out
}

// NeedsRefresh reports whether the pair has no usable quote or the
// cached one has crossed half of its venue max-age. Refreshing at half
// age keeps a fresh value in place before the old one expires.
func (c *Cache) NeedsRefresh(v domain.Venue, symbol string) bool {
	q, ok := c.Get(v, symbol)
	if !ok {
		return true
	}
	return q.Age(c.now()) > c.maxAgeFor(v)/2
}

// LastError reports the most recent fetch error for a pair, if any.
func (c *Cache) LastError(v domain.Venue, symbol string) (string, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key{venue: v, symbol: symbol}]
	if !ok || e.lastErr == "" {
		return "", time.Time{}, false
	}
	return e.lastErr, e.errAt, true
}

func (c *Cache) maxAgeFor(v domain.Venue) time.Duration {
	if d, ok := c.maxAge[v]; ok && d > 0 {
		return d
	}
	return 2 * time.Second
}
