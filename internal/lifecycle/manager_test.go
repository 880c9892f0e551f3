package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/ledger"
)

// memJournal records appends in memory; failErr makes every append fail.
type memJournal struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
	failErr error
}

func (j *memJournal) Append(_ context.Context, e domain.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failErr != nil {
		return j.failErr
	}
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) all() []domain.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.JournalEntry(nil), j.entries...)
}

func testEngineCfg() config.EngineConfig {
	return config.EngineConfig{
		Symbols:               []string{"DEBT_USDT"},
		TickInterval:          config.Duration{Duration: 50 * time.Millisecond},
		OpenThresholdPercent:  2.0,
		CloseThresholdPercent: 0.5,
		SizingMode:            config.SizingFixedQuantity,
		TargetQuantity:        5000,
		MaxInventory:          10000,
		MaxTradeVolume:        20000,
	}
}

type managerFixture struct {
	m   *Manager
	led *ledger.Ledger
	jnl *memJournal
	now time.Time
}

func newFixture(t *testing.T, cfg config.EngineConfig) *managerFixture {
	t.Helper()
	f := &managerFixture{
		led: ledger.New(cfg.MaxInventory),
		jnl: &memJournal{},
		now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	fees := map[domain.Venue]float64{domain.VenueMEXC: 0, domain.VenueLBank: 0}
	f.m = New(cfg, fees, f.led, f.jnl, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.m.now = func() time.Time { return f.now }
	seq := 0
	f.m.newID = func() string { seq++; return fmt.Sprintf("pos-%d", seq) }
	return f
}

func opp(buyAsk, sellBid float64) domain.Opportunity {
	return domain.Opportunity{
		Symbol:      "DEBT_USDT",
		BuyVenue:    domain.VenueMEXC,
		SellVenue:   domain.VenueLBank,
		BuyPrice:    buyAsk,
		SellPrice:   sellBid,
		DiffPercent: ((sellBid - buyAsk) / buyAsk) * 100,
	}
}

func cached(v domain.Venue, bid, ask float64, at time.Time) domain.CachedQuote {
	return domain.CachedQuote{
		PriceQuote: domain.NewQuote(v, "DEBT_USDT", bid, ask, at),
		CachedAt:   at,
	}
}

func TestTryOpenAboveThreshold(t *testing.T) {
	f := newFixture(t, testEngineCfg())

	// ask 1.000, bid 1.025: a 2.5% divergence against a 2.0% threshold.
	p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened)

	assert.Equal(t, "pos-1", p.ID)
	assert.InDelta(t, 2.5, p.OpenDiffPercent, 1e-9)
	assert.InDelta(t, 5000, p.Volume, 1e-9)
	assert.InDelta(t, 5000*1.000, p.TotalInvestment, 1e-9)
	assert.InDelta(t, 5000*0.025, p.ExpectedGross, 1e-9)
	assert.InDelta(t, 0, p.ExpectedFees, 1e-9)
	assert.Equal(t, domain.PositionStatusOpen, p.Status)
	assert.Equal(t, f.now, p.OpenedAt)

	entries := f.jnl.all()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventOpen, entries[0].Type)
	assert.Equal(t, p, entries[0].Position)

	require.Len(t, f.led.Open(), 1)
}

func TestTryOpenBelowThreshold(t *testing.T) {
	cfg := testEngineCfg()
	cfg.OpenThresholdPercent = 3.0
	f := newFixture(t, cfg)

	_, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	assert.False(t, opened, "2.5%% diff must not clear a 3.0%% threshold")
	assert.Empty(t, f.jnl.all())
	assert.Empty(t, f.led.Open())
}

func TestTryOpenExpectedFees(t *testing.T) {
	cfg := testEngineCfg()
	f := newFixture(t, cfg)
	f.m.fees = map[domain.Venue]float64{domain.VenueMEXC: 0.1, domain.VenueLBank: 0.2}

	p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened)

	// 0.1% of the buy leg notional plus 0.2% of the sell leg notional.
	want := 0.1*5000*1.000/100 + 0.2*5000*1.025/100
	assert.InDelta(t, want, p.ExpectedFees, 1e-9)
	assert.InDelta(t, p.ExpectedGross-want, p.ExpectedNetProfit, 1e-9)
}

func TestSizingCapChain(t *testing.T) {
	t.Run("headroom caps candidate", func(t *testing.T) {
		cfg := testEngineCfg()
		f := newFixture(t, cfg)

		// 7000 of the 10000 cap already used: a 5000 candidate shrinks to
		// 3000.
		require.NoError(t, f.led.Add(domain.Position{
			ID: "existing", Symbol: "DEBT_USDT", Volume: 7000, TotalInvestment: 7000,
		}))
		p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
		require.NoError(t, err)
		require.True(t, opened)
		assert.InDelta(t, 3000, p.Volume, 1e-9)
	})

	t.Run("zero headroom aborts with no side effects", func(t *testing.T) {
		cfg := testEngineCfg()
		f := newFixture(t, cfg)

		require.NoError(t, f.led.Add(domain.Position{
			ID: "existing", Symbol: "DEBT_USDT", Volume: 10000, TotalInvestment: 10000,
		}))
		_, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
		require.NoError(t, err)
		assert.False(t, opened)
		assert.Empty(t, f.jnl.all())
		require.Len(t, f.led.Open(), 1)
	})

	t.Run("liquidity fraction caps", func(t *testing.T) {
		cfg := testEngineCfg()
		cfg.LiquidityAware = true
		cfg.LiquidityFraction = 0.25
		f := newFixture(t, cfg)

		liq := 8000.0
		p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), &liq)
		require.NoError(t, err)
		require.True(t, opened)
		assert.InDelta(t, 2000, p.Volume, 1e-9)
	})

	t.Run("nil liquidity tolerated", func(t *testing.T) {
		cfg := testEngineCfg()
		cfg.LiquidityAware = true
		cfg.LiquidityFraction = 0.25
		f := newFixture(t, cfg)

		p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
		require.NoError(t, err)
		require.True(t, opened)
		assert.InDelta(t, 5000, p.Volume, 1e-9)
	})

	t.Run("negative liquidity is invalid", func(t *testing.T) {
		cfg := testEngineCfg()
		cfg.LiquidityAware = true
		cfg.LiquidityFraction = 0.25
		f := newFixture(t, cfg)

		liq := -1.0
		_, _, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), &liq)
		assert.ErrorIs(t, err, domain.ErrInvalidSizing)
		assert.Empty(t, f.jnl.all())
	})

	t.Run("max trade volume caps last", func(t *testing.T) {
		cfg := testEngineCfg()
		cfg.MaxTradeVolume = 1200
		f := newFixture(t, cfg)

		p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
		require.NoError(t, err)
		require.True(t, opened)
		assert.InDelta(t, 1200, p.Volume, 1e-9)
	})
}

func TestSizingModes(t *testing.T) {
	t.Run("fixed notional divides by buy price", func(t *testing.T) {
		cfg := testEngineCfg()
		cfg.SizingMode = config.SizingFixedNotional
		cfg.PerSideInvestmentUSD = 1000
		f := newFixture(t, cfg)

		p, opened, err := f.m.TryOpen(context.Background(), opp(0.500, 0.520), nil)
		require.NoError(t, err)
		require.True(t, opened)
		assert.InDelta(t, 2000, p.Volume, 1e-9)
		assert.InDelta(t, 1000, p.TotalInvestment, 1e-9)
	})

	t.Run("unknown mode is invalid sizing", func(t *testing.T) {
		cfg := testEngineCfg()
		cfg.SizingMode = "martingale"
		f := newFixture(t, cfg)

		_, _, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSizing)
	})

	t.Run("non-positive price is invalid sizing", func(t *testing.T) {
		f := newFixture(t, testEngineCfg())
		bad := opp(1.000, 1.025)
		bad.BuyPrice = 0
		bad.DiffPercent = 99
		_, _, err := f.m.TryOpen(context.Background(), bad, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidSizing)
	})
}

func TestJournalFailureKeepsPositionOpen(t *testing.T) {
	f := newFixture(t, testEngineCfg())
	f.jnl.failErr = errors.New("disk full")

	p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened, "a journal write failure must not roll back the open")

	open := f.led.Open()
	require.Len(t, open, 1)
	assert.Equal(t, p.ID, open[0].ID)
}

func TestCloseEligible(t *testing.T) {
	f := newFixture(t, testEngineCfg())

	p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened)

	// Converged: buy venue ask 1.010, sell venue bid 1.0201 is ~1.0%,
	// still above the 0.5% close threshold.
	f.now = f.now.Add(time.Minute)
	quotes := map[string]map[domain.Venue]domain.CachedQuote{
		"DEBT_USDT": {
			domain.VenueMEXC:  cached(domain.VenueMEXC, 1.005, 1.010, f.now),
			domain.VenueLBank: cached(domain.VenueLBank, 1.0201, 1.025, f.now),
		},
	}
	assert.Empty(t, f.m.CloseEligible(context.Background(), quotes))

	// Fully converged to 0.1%: eligible.
	quotes["DEBT_USDT"][domain.VenueLBank] = cached(domain.VenueLBank, 1.01101, 1.015, f.now)
	batch := f.m.CloseEligible(context.Background(), quotes)
	require.Len(t, batch, 1)

	r := batch[0]
	assert.Equal(t, p.ID, r.Position.ID)
	assert.Equal(t, domain.PositionStatusClosed, r.Position.Status)
	assert.InDelta(t, 0.1, r.CloseDiffPercent, 1e-9)
	// netProfitPercent = (openDiff - currentDiff) - fees = 2.5 - 0.1 - 0.
	assert.InDelta(t, 2.4, r.NetProfitPercent, 1e-9)
	assert.InDelta(t, p.TotalInvestment*2.4/100, r.ActualProfitUSD, 1e-9)
	assert.Equal(t, f.now, r.ClosedAt)

	entries := f.jnl.all()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.EventClose, entries[1].Type)
	assert.Empty(t, f.led.Open())

	st := f.led.State()
	assert.Equal(t, 1, st.TotalTrades)
	assert.InDelta(t, r.ActualProfitUSD, st.TotalProfit, 1e-9)
}

func TestCloseProfitWithFees(t *testing.T) {
	f := newFixture(t, testEngineCfg())
	f.m.fees = map[domain.Venue]float64{domain.VenueMEXC: 0.1, domain.VenueLBank: 0.2}

	p, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened)

	quotes := map[string]map[domain.Venue]domain.CachedQuote{
		"DEBT_USDT": {
			domain.VenueMEXC:  cached(domain.VenueMEXC, 1.000, 1.000, f.now),
			domain.VenueLBank: cached(domain.VenueLBank, 1.000, 1.005, f.now),
		},
	}
	batch := f.m.CloseEligible(context.Background(), quotes)
	require.Len(t, batch, 1)

	// (2.5 - 0.0) - (0.1 + 0.2) = 2.2 percent net.
	assert.InDelta(t, 2.2, batch[0].NetProfitPercent, 1e-9)
	assert.InDelta(t, p.TotalInvestment*2.2/100, batch[0].ActualProfitUSD, 1e-9)
}

func TestCloseJudgesOwnPairOnly(t *testing.T) {
	f := newFixture(t, testEngineCfg())

	_, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened)

	// The position's own pair (mexc->lbank) is still wide; a third venue
	// converging must not close it.
	quotes := map[string]map[domain.Venue]domain.CachedQuote{
		"DEBT_USDT": {
			domain.VenueMEXC:    cached(domain.VenueMEXC, 1.000, 1.000, f.now),
			domain.VenueLBank:   cached(domain.VenueLBank, 1.025, 1.030, f.now),
			domain.VenueBinance: cached(domain.VenueBinance, 1.000, 1.000, f.now),
		},
	}
	assert.Empty(t, f.m.CloseEligible(context.Background(), quotes))
}

func TestCloseSkipsMissingQuotes(t *testing.T) {
	f := newFixture(t, testEngineCfg())

	_, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	require.True(t, opened)

	// Sell venue quote missing: skip this tick, position stays open.
	quotes := map[string]map[domain.Venue]domain.CachedQuote{
		"DEBT_USDT": {
			domain.VenueMEXC: cached(domain.VenueMEXC, 1.000, 1.000, f.now),
		},
	}
	assert.Empty(t, f.m.CloseEligible(context.Background(), quotes))
	assert.Len(t, f.led.Open(), 1)

	// No snapshot for the symbol at all.
	assert.Empty(t, f.m.CloseEligible(context.Background(), map[string]map[domain.Venue]domain.CachedQuote{}))
}

func TestCloseBatch(t *testing.T) {
	cfg := testEngineCfg()
	cfg.TargetQuantity = 3000
	f := newFixture(t, cfg)

	for i := 0; i < 3; i++ {
		_, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
		require.NoError(t, err)
		require.True(t, opened)
		f.now = f.now.Add(time.Second)
	}
	require.Len(t, f.led.Open(), 3)

	quotes := map[string]map[domain.Venue]domain.CachedQuote{
		"DEBT_USDT": {
			domain.VenueMEXC:  cached(domain.VenueMEXC, 1.000, 1.000, f.now),
			domain.VenueLBank: cached(domain.VenueLBank, 1.000, 1.005, f.now),
		},
	}
	batch := f.m.CloseEligible(context.Background(), quotes)
	require.Len(t, batch, 3)
	for _, r := range batch {
		assert.Equal(t, f.now, r.ClosedAt, "one batch, one close time")
	}
	assert.Empty(t, f.led.Open())
	assert.Equal(t, 3, f.led.State().TotalTrades)
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t, testEngineCfg())

	cfg := testEngineCfg()
	cfg.OpenThresholdPercent = 5.0
	f.m.UpdateConfig(cfg)

	_, opened, err := f.m.TryOpen(context.Background(), opp(1.000, 1.025), nil)
	require.NoError(t, err)
	assert.False(t, opened, "raised threshold must apply to the next tick")
}
