// Package evaluator computes cross-venue price divergence. It is pure:
// quotes in, opportunities out, no clocks, no I/O, no state.
package evaluator

import (
	"sort"
	"time"

	"github.com/crossvenue/arbot/internal/domain"
)

// DiffPercent is the divergence of selling at sellBid after buying at
// buyAsk, as a percentage of the buy price.
func DiffPercent(buyAsk, sellBid float64) float64 {
	return ((sellBid - buyAsk) / buyAsk) * 100
}

// Evaluate computes the divergence for every ordered venue pair that has
// a usable quote on both sides: buy on the first venue at its ask, sell
// on the second at its bid. Results come back sorted by divergence,
// widest first, with venue name as the tiebreaker so identical inputs
// always produce identical output.
func Evaluate(symbol string, quotes map[domain.Venue]domain.CachedQuote, observedAt time.Time) []domain.Opportunity {
	var out []domain.Opportunity
	for buyVenue, buyQ := range quotes {
		if buyQ.Ask == nil {
			continue
		}
		for sellVenue, sellQ := range quotes {
			if sellVenue == buyVenue || sellQ.Bid == nil {
				continue
			}
			out = append(out, domain.Opportunity{
				Symbol:      symbol,
				BuyVenue:    buyVenue,
				SellVenue:   sellVenue,
				BuyPrice:    *buyQ.Ask,
				SellPrice:   *sellQ.Bid,
				DiffPercent: DiffPercent(*buyQ.Ask, *sellQ.Bid),
				ObservedAt:  observedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiffPercent != out[j].DiffPercent {
			return out[i].DiffPercent > out[j].DiffPercent
		}
		if out[i].BuyVenue != out[j].BuyVenue {
			return out[i].BuyVenue < out[j].BuyVenue
		}
		return out[i].SellVenue < out[j].SellVenue
	})
	return out
}

// Best returns the widest opportunity, when any ordered pair was
// evaluable.
func Best(symbol string, quotes map[domain.Venue]domain.CachedQuote, observedAt time.Time) (domain.Opportunity, bool) {
	opps := Evaluate(symbol, quotes, observedAt)
	if len(opps) == 0 {
		return domain.Opportunity{}, false
	}
	return opps[0], true
}

// PairDiff computes the current divergence of one specific ordered pair.
// Close decisions use this so an open position is always judged against
// its own venues, not whatever pair happens to be widest now.
func PairDiff(buy, sell domain.CachedQuote) (float64, bool) {
	if buy.Ask == nil || sell.Bid == nil {
		return 0, false
	}
	return DiffPercent(*buy.Ask, *sell.Bid), true
}
