package evaluator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossvenue/arbot/internal/domain"
)

func quote(v domain.Venue, bid, ask float64) domain.CachedQuote {
	return domain.CachedQuote{
		PriceQuote: domain.NewQuote(v, "DEBT_USDT", bid, ask, time.Now()),
	}
}

func TestDiffPercent(t *testing.T) {
	// buy at 1.000, sell at 1.025 is a 2.5% divergence
	assert.InDelta(t, 2.5, DiffPercent(1.000, 1.025), 1e-12)
	assert.InDelta(t, -1.0, DiffPercent(1.000, 0.990), 1e-12)
	assert.InDelta(t, 0, DiffPercent(2.0, 2.0), 1e-12)
}

func TestEvaluateOrderedPairs(t *testing.T) {
	quotes := map[domain.Venue]domain.CachedQuote{
		domain.VenueMEXC:  quote(domain.VenueMEXC, 1.020, 1.000),
		domain.VenueLBank: quote(domain.VenueLBank, 1.025, 1.030),
	}

	opps := Evaluate("DEBT_USDT", quotes, time.Now())
	require.Len(t, opps, 2)

	// Widest first: buy mexc @1.000 ask, sell lbank @1.025 bid = 2.5%.
	best := opps[0]
	assert.Equal(t, domain.VenueMEXC, best.BuyVenue)
	assert.Equal(t, domain.VenueLBank, best.SellVenue)
	assert.InDelta(t, 2.5, best.DiffPercent, 1e-12)

	// Reverse direction: buy lbank @1.030 ask, sell mexc @1.020 bid.
	reverse := opps[1]
	assert.Equal(t, domain.VenueLBank, reverse.BuyVenue)
	assert.Equal(t, domain.VenueMEXC, reverse.SellVenue)
	assert.InDelta(t, ((1.020-1.030)/1.030)*100, reverse.DiffPercent, 1e-12)
}

func TestEvaluateDeterministic(t *testing.T) {
	quotes := map[domain.Venue]domain.CachedQuote{
		domain.VenueMEXC:    quote(domain.VenueMEXC, 1.02, 1.00),
		domain.VenueLBank:   quote(domain.VenueLBank, 1.01, 1.015),
		domain.VenueBinance: quote(domain.VenueBinance, 1.00, 1.005),
	}
	at := time.Now()

	first := Evaluate("DEBT_USDT", quotes, at)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Evaluate("DEBT_USDT", quotes, at))
	}
}

func TestEvaluateSkipsNullSides(t *testing.T) {
	askless := quote(domain.VenueMEXC, 1.02, 1.00)
	askless.Ask = nil
	quotes := map[domain.Venue]domain.CachedQuote{
		domain.VenueMEXC:  askless,
		domain.VenueLBank: quote(domain.VenueLBank, 1.025, 1.030),
	}

	opps := Evaluate("DEBT_USDT", quotes, time.Now())
	// mexc cannot be a buy side without an ask; only lbank->mexc survives.
	require.Len(t, opps, 1)
	assert.Equal(t, domain.VenueLBank, opps[0].BuyVenue)
	assert.Equal(t, domain.VenueMEXC, opps[0].SellVenue)
}

func TestBestEmptySnapshot(t *testing.T) {
	_, ok := Best("DEBT_USDT", nil, time.Now())
	assert.False(t, ok)

	_, ok = Best("DEBT_USDT", map[domain.Venue]domain.CachedQuote{
		domain.VenueMEXC: quote(domain.VenueMEXC, 1.0, 1.0),
	}, time.Now())
	assert.False(t, ok, "single venue has no ordered pair")
}

func TestPairDiff(t *testing.T) {
	buy := quote(domain.VenueMEXC, 1.02, 1.00)
	sell := quote(domain.VenueLBank, 1.025, 1.03)

	diff, ok := PairDiff(buy, sell)
	require.True(t, ok)
	assert.InDelta(t, 2.5, diff, 1e-12)

	sell.Bid = nil
	_, ok = PairDiff(buy, sell)
	assert.False(t, ok)
}
