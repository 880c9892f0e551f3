package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/coordinator"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/journal"
	"github.com/crossvenue/arbot/internal/ledger"
	"github.com/crossvenue/arbot/internal/lifecycle"
	"github.com/crossvenue/arbot/internal/pricecache"
	"github.com/crossvenue/arbot/internal/venue"
)

// fakeAdapter serves a settable top-of-book synchronously.
type fakeAdapter struct {
	id domain.Venue

	mu  sync.Mutex
	bid float64
	ask float64
}

func (a *fakeAdapter) Venue() domain.Venue { return a.id }

func (a *fakeAdapter) FetchQuote(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.NewQuote(a.id, symbol, a.bid, a.ask, time.Now()), nil
}

func (a *fakeAdapter) set(bid, ask float64) {
	a.mu.Lock()
	a.bid, a.ask = bid, ask
	a.mu.Unlock()
}

func testVenues() map[string]config.VenueConfig {
	vc := config.VenueConfig{
		Enabled:      true,
		Concurrency:  2,
		RateLimit:    1000,
		RateWindow:   config.Duration{Duration: time.Second},
		MaxAge:       config.Duration{Duration: time.Minute},
		FetchTimeout: config.Duration{Duration: time.Second},
	}
	return map[string]config.VenueConfig{"mexc": vc, "lbank": vc}
}

func newTestEngine(t *testing.T, cfg config.EngineConfig, monitor bool) (*Engine, *fakeAdapter, *fakeAdapter, *ledger.Ledger, *pricecache.Cache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	buy := &fakeAdapter{id: domain.VenueMEXC, bid: 1.020, ask: 1.000}
	sell := &fakeAdapter{id: domain.VenueLBank, bid: 1.025, ask: 1.030}
	adapters := map[domain.Venue]venue.Adapter{
		domain.VenueMEXC:  buy,
		domain.VenueLBank: sell,
	}

	cache := pricecache.New(testVenues())
	coord := coordinator.New(testVenues(), cache, logger)
	led := ledger.New(cfg.MaxInventory)

	dir := t.TempDir()
	jnl, err := journal.NewWriter(config.JournalConfig{Path: dir + "/trades.jsonl"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { jnl.Close() })

	fees := map[domain.Venue]float64{domain.VenueMEXC: 0, domain.VenueLBank: 0}
	lm := lifecycle.New(cfg, fees, led, jnl, logger)

	return New(cfg, adapters, coord, cache, lm, led, monitor, logger), buy, sell, led, cache
}

func engineCfgForTest() config.EngineConfig {
	return config.EngineConfig{
		Symbols:               []string{"DEBT_USDT"},
		TickInterval:          config.Duration{Duration: 10 * time.Millisecond},
		OpenThresholdPercent:  2.0,
		CloseThresholdPercent: 0.5,
		EpsilonPercent:        0.01,
		SizingMode:            config.SizingFixedQuantity,
		TargetQuantity:        1000,
		MaxInventory:          1000,
		MaxTradeVolume:        2000,
	}
}

// tickUntilQuoted ticks until both venues have a cached quote; the first
// tick only schedules fetches, results land asynchronously.
func tickUntilQuoted(t *testing.T, e *Engine, cache *pricecache.Cache) {
	t.Helper()
	require.Eventually(t, func() bool {
		e.tick(context.Background())
		snap := cache.Snapshot("DEBT_USDT")
		_, okBuy := snap[domain.VenueMEXC]
		_, okSell := snap[domain.VenueLBank]
		return okBuy && okSell
	}, 5*time.Second, 5*time.Millisecond)
}

func TestTickOpensOnWideSpread(t *testing.T) {
	e, _, _, led, cache := newTestEngine(t, engineCfgForTest(), false)

	tickUntilQuoted(t, e, cache)
	e.tick(context.Background())

	open := led.Open()
	require.Len(t, open, 1)
	assert.InDelta(t, 2.5, open[0].OpenDiffPercent, 1e-9)
	assert.InDelta(t, 1000, open[0].Volume, 1e-9)

	// The inventory cap is full; further ticks must not stack opens.
	e.tick(context.Background())
	assert.Len(t, led.Open(), 1)
}

func TestTickClosesOnConvergence(t *testing.T) {
	e, buy, sell, led, cache := newTestEngine(t, engineCfgForTest(), false)

	tickUntilQuoted(t, e, cache)
	e.tick(context.Background())
	require.Len(t, led.Open(), 1)

	// Converge the books and feed the cache directly, as a push feed
	// would.
	buy.set(1.000, 1.000)
	sell.set(1.002, 1.005)
	cache.Store(domain.NewQuote(domain.VenueMEXC, "DEBT_USDT", 1.000, 1.000, time.Now()))
	cache.Store(domain.NewQuote(domain.VenueLBank, "DEBT_USDT", 1.002, 1.005, time.Now()))

	e.tick(context.Background())
	assert.Empty(t, led.Open())

	st := led.State()
	assert.Equal(t, 1, st.TotalTrades)
	assert.Greater(t, st.TotalProfit, 0.0)
}

func TestMonitorModeNeverOpens(t *testing.T) {
	e, _, _, led, cache := newTestEngine(t, engineCfgForTest(), true)

	tickUntilQuoted(t, e, cache)
	for i := 0; i < 5; i++ {
		e.tick(context.Background())
	}
	assert.Empty(t, led.Open(), "monitor mode only observes")
}

func TestReportEpsilonSuppression(t *testing.T) {
	var mu sync.Mutex
	var lines int
	h := slog.NewTextHandler(writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		lines++
		mu.Unlock()
		return len(p), nil
	}), nil)

	cfg := engineCfgForTest()
	cfg.EpsilonPercent = 0.05
	e, _, _, _, _ := newTestEngine(t, cfg, true)
	e.logger = slog.New(h)

	opp := domain.Opportunity{
		Symbol:      "DEBT_USDT",
		BuyVenue:    domain.VenueMEXC,
		SellVenue:   domain.VenueLBank,
		DiffPercent: 2.500,
	}
	e.report(cfg, opp)

	// Within epsilon of the last printed value: suppressed.
	opp.DiffPercent = 2.540
	e.report(cfg, opp)
	opp.DiffPercent = 2.460
	e.report(cfg, opp)

	// Beyond epsilon: printed, and it becomes the new reference.
	opp.DiffPercent = 2.600
	e.report(cfg, opp)
	opp.DiffPercent = 2.570
	e.report(cfg, opp)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, lines)
}

func TestUpdateEngineConfigRejectsInvalid(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t, engineCfgForTest(), false)

	bad := engineCfgForTest()
	bad.OpenThresholdPercent = 0
	require.Error(t, e.UpdateEngineConfig(bad))
	assert.InDelta(t, 2.0, e.EngineConfig().OpenThresholdPercent, 1e-9, "rejected update changes nothing")

	good := engineCfgForTest()
	good.OpenThresholdPercent = 3.5
	require.NoError(t, e.UpdateEngineConfig(good))
	assert.InDelta(t, 3.5, e.EngineConfig().OpenThresholdPercent, 1e-9)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
