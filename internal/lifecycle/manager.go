// Package lifecycle implements the position state machine: sizing and
// opening on a wide divergence, closing the batch of positions whose
// divergence has converged, and making every transition durable through
// the journal.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/evaluator"
	"github.com/crossvenue/arbot/internal/ledger"
)

// Notifier pushes human-facing trade notifications. Implementations must
// not block the tick for long; failures are logged and dropped.
type Notifier interface {
	NotifyOpen(ctx context.Context, p domain.Position)
	NotifyClose(ctx context.Context, r domain.CloseResult)
}

// Manager owns open/close transitions. It is driven from the single
// engine tick goroutine; the ledger does its own locking because the
// status server reads it concurrently.
type Manager struct {
	logger  *slog.Logger
	fees    map[domain.Venue]float64
	ledger  *ledger.Ledger
	journal domain.Journal

	cfgMu sync.RWMutex
	cfg   config.EngineConfig

	// optional collaborators, nil when the feature is disabled
	history  domain.TradeHistoryStore
	bus      domain.SignalBus
	notifier Notifier

	now   func() time.Time
	newID func() string
}

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithHistory mirrors closed trades into a queryable store.
func WithHistory(s domain.TradeHistoryStore) Option {
	return func(m *Manager) { m.history = s }
}

// WithSignalBus publishes open/close events for external consumers.
func WithSignalBus(b domain.SignalBus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithNotifier sends trade notifications.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// New builds a manager. fees maps each venue to its taker fee percent.
func New(cfg config.EngineConfig, fees map[domain.Venue]float64, led *ledger.Ledger, jnl domain.Journal, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:  logger.With(slog.String("component", "lifecycle")),
		cfg:     cfg,
		fees:    fees,
		ledger:  led,
		journal: jnl,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TryOpen attempts to open a position for the opportunity. It returns
// (position, true, nil) on an open, (zero, false, nil) when the
// opportunity is below threshold or sizing caps the volume to nothing,
// and an error only for sizing input that is invalid outright. Aborted
// attempts leave ledger and journal untouched.
//
// liquidity, when non-nil, is the visible depth on the thinner side of
// the two books and participates in the cap chain.
func (m *Manager) TryOpen(ctx context.Context, opp domain.Opportunity, liquidity *float64) (domain.Position, bool, error) {
	cfg := m.engineCfg()
	if opp.DiffPercent < cfg.OpenThresholdPercent {
		return domain.Position{}, false, nil
	}
	if opp.BuyPrice <= 0 || opp.SellPrice <= 0 {
		return domain.Position{}, false, fmt.Errorf("lifecycle: open %s: non-positive price: %w", opp.Key(), domain.ErrInvalidSizing)
	}

	volume, err := m.size(cfg, opp, liquidity)
	if err != nil {
		return domain.Position{}, false, err
	}
	if volume <= 0 {
		m.logger.Debug("open aborted, no volume after caps",
			slog.String("pair", opp.Key()),
			slog.Float64("diff_percent", opp.DiffPercent))
		return domain.Position{}, false, nil
	}

	totalInvestment := volume * opp.BuyPrice
	gross := volume * (opp.SellPrice - opp.BuyPrice)
	fees := m.feeFor(opp.BuyVenue)*volume*opp.BuyPrice/100 +
		m.feeFor(opp.SellVenue)*volume*opp.SellPrice/100

	p := domain.Position{
		ID:                m.newID(),
		Symbol:            opp.Symbol,
		BuyVenue:          opp.BuyVenue,
		SellVenue:         opp.SellVenue,
		BuyPrice:          opp.BuyPrice,
		SellPrice:         opp.SellPrice,
		Volume:            volume,
		OpenDiffPercent:   opp.DiffPercent,
		Status:            domain.PositionStatusOpen,
		OpenedAt:          m.now(),
		TotalInvestment:   totalInvestment,
		ExpectedGross:     gross,
		ExpectedFees:      fees,
		ExpectedNetProfit: gross - fees,
	}

	if err := m.ledger.Add(p); err != nil {
		// Headroom moved between sizing and insert; treat like any other
		// sizing abort.
		m.logger.Debug("open aborted at insert",
			slog.String("pair", opp.Key()),
			slog.String("error", err.Error()))
		return domain.Position{}, false, nil
	}

	if err := m.journal.Append(ctx, domain.JournalEntry{
		Type:        domain.EventOpen,
		At:          p.OpenedAt,
		Position:    p,
		GrossProfit: p.ExpectedGross,
		Fees:        p.ExpectedFees,
		NetProfit:   p.ExpectedNetProfit,
	}); err != nil {
		// At-least-once durability: the position stays open in memory
		// and keeps trading; the gap is loud in the logs.
		m.logger.Error("journal append failed for open",
			slog.String("position_id", p.ID),
			slog.String("error", err.Error()))
	}

	m.logger.Info("position opened",
		slog.String("position_id", p.ID),
		slog.String("pair", opp.Key()),
		slog.Float64("diff_percent", p.OpenDiffPercent),
		slog.Float64("volume", p.Volume),
		slog.Float64("investment_usd", p.TotalInvestment),
		slog.Float64("expected_net_usd", p.ExpectedNetProfit))

	m.announceOpen(ctx, p)
	return p, true, nil
}

// size runs the cap chain: policy candidate, then inventory headroom,
// then optional liquidity fraction, then the per-trade maximum.
func (m *Manager) size(cfg config.EngineConfig, opp domain.Opportunity, liquidity *float64) (float64, error) {
	var volume float64
	switch cfg.SizingMode {
	case config.SizingFixedNotional:
		volume = cfg.PerSideInvestmentUSD / opp.BuyPrice
	case config.SizingFixedQuantity:
		volume = cfg.TargetQuantity
	default:
		return 0, fmt.Errorf("lifecycle: sizing mode %q: %w", cfg.SizingMode, domain.ErrInvalidSizing)
	}

	if room := m.ledger.Headroom(opp.Symbol); volume > room {
		volume = room
	}
	if cfg.LiquidityAware && liquidity != nil {
		if *liquidity < 0 {
			return 0, fmt.Errorf("lifecycle: negative liquidity for %s: %w", opp.Key(), domain.ErrInvalidSizing)
		}
		if limit := *liquidity * cfg.LiquidityFraction; volume > limit {
			volume = limit
		}
	}
	if cfg.MaxTradeVolume > 0 && volume > cfg.MaxTradeVolume {
		volume = cfg.MaxTradeVolume
	}
	return volume, nil
}

// CloseEligible walks the open positions and closes, as one batch, every
// position whose own venue pair has converged to at or below the close
// threshold. quotes holds the current snapshot per symbol. Positions
// whose venues lack a fresh quote are skipped this tick.
func (m *Manager) CloseEligible(ctx context.Context, quotes map[string]map[domain.Venue]domain.CachedQuote) []domain.CloseResult {
	cfg := m.engineCfg()
	var batch []domain.CloseResult
	closedAt := m.now()

	for _, p := range m.ledger.Open() {
		snap, ok := quotes[p.Symbol]
		if !ok {
			continue
		}
		buyQ, okBuy := snap[p.BuyVenue]
		sellQ, okSell := snap[p.SellVenue]
		if !okBuy || !okSell {
			continue
		}
		currentDiff, ok := evaluator.PairDiff(buyQ, sellQ)
		if !ok || currentDiff > cfg.CloseThresholdPercent {
			continue
		}

		totalFeesPercent := m.feeFor(p.BuyVenue) + m.feeFor(p.SellVenue)
		netProfitPercent := (p.OpenDiffPercent - currentDiff) - totalFeesPercent
		closed := p
		closed.Status = domain.PositionStatusClosed
		batch = append(batch, domain.CloseResult{
			Position:         closed,
			CloseDiffPercent: currentDiff,
			NetProfitPercent: netProfitPercent,
			ActualProfitUSD:  p.TotalInvestment * netProfitPercent / 100,
			ClosedAt:         closedAt,
		})
	}

	// Apply the whole batch before any announcement so one tick's closes
	// land together.
	for _, r := range batch {
		if err := m.ledger.Remove(r.Position.ID, r.ActualProfitUSD); err != nil {
			m.logger.Error("close: ledger remove failed",
				slog.String("position_id", r.Position.ID),
				slog.String("error", err.Error()))
			continue
		}
		if err := m.journal.Append(ctx, domain.JournalEntry{
			Type:             domain.EventClose,
			At:               r.ClosedAt,
			Position:         r.Position,
			CloseDiffPercent: r.CloseDiffPercent,
			NetProfitPercent: r.NetProfitPercent,
			ActualProfitUSD:  r.ActualProfitUSD,
		}); err != nil {
			m.logger.Error("journal append failed for close",
				slog.String("position_id", r.Position.ID),
				slog.String("error", err.Error()))
		}
		m.logger.Info("position closed",
			slog.String("position_id", r.Position.ID),
			slog.Float64("open_diff_percent", r.Position.OpenDiffPercent),
			slog.Float64("close_diff_percent", r.CloseDiffPercent),
			slog.Float64("net_profit_percent", r.NetProfitPercent),
			slog.Float64("profit_usd", r.ActualProfitUSD))
		m.announceClose(ctx, r)
	}
	return batch
}

// UpdateConfig swaps the sizing and threshold parameters. The engine
// validates candidates before calling this.
func (m *Manager) UpdateConfig(cfg config.EngineConfig) {
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
}

func (m *Manager) engineCfg() config.EngineConfig {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

func (m *Manager) feeFor(v domain.Venue) float64 {
	return m.fees[v]
}

// publish fans a lifecycle event out on pub/sub for live listeners and
// onto the durable stream of the same name for catch-up readers. Bus
// failures never disturb the ledger.
func (m *Manager) publish(ctx context.Context, channel string, v any) {
	if m.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("marshal bus event", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	if err := m.bus.Publish(ctx, channel, payload); err != nil {
		m.logger.Warn("publish event", slog.String("channel", channel), slog.String("error", err.Error()))
	}
	if err := m.bus.StreamAppend(ctx, channel, payload); err != nil {
		m.logger.Warn("stream append event", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

func (m *Manager) announceOpen(ctx context.Context, p domain.Position) {
	if m.notifier != nil {
		m.notifier.NotifyOpen(ctx, p)
	}
	m.publish(ctx, "trades.open", p)
}

func (m *Manager) announceClose(ctx context.Context, r domain.CloseResult) {
	if m.notifier != nil {
		m.notifier.NotifyClose(ctx, r)
	}
	m.publish(ctx, "trades.close", r)
	if m.history != nil {
		if err := m.history.InsertClosed(ctx, r); err != nil {
			m.logger.Warn("mirror closed trade", slog.String("error", err.Error()))
		}
	}
}
