// Package engine drives the decision loop: refresh quotes through the
// coordinator, evaluate divergence, open on wide spreads, close on
// converged ones. One goroutine ticks; everything slow happens behind
// the coordinator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/coordinator"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/evaluator"
	"github.com/crossvenue/arbot/internal/ledger"
	"github.com/crossvenue/arbot/internal/lifecycle"
	"github.com/crossvenue/arbot/internal/pricecache"
	"github.com/crossvenue/arbot/internal/venue"
)

// Engine ties the quote plumbing to the position lifecycle. In monitor
// mode it evaluates and reports opportunities without ever opening a
// position.
type Engine struct {
	logger    *slog.Logger
	adapters  map[domain.Venue]venue.Adapter
	coord     *coordinator.Coordinator
	cache     *pricecache.Cache
	lifecycle *lifecycle.Manager
	ledger    *ledger.Ledger
	monitor   bool

	mu  sync.RWMutex
	cfg config.EngineConfig

	// lastPrinted suppresses repeated near-identical opportunity logs.
	lastPrinted map[string]float64
}

// New builds an engine. monitor disables open/close transitions.
func New(cfg config.EngineConfig, adapters map[domain.Venue]venue.Adapter, coord *coordinator.Coordinator, cache *pricecache.Cache, lm *lifecycle.Manager, led *ledger.Ledger, monitor bool, logger *slog.Logger) *Engine {
	return &Engine{
		logger:      logger.With(slog.String("component", "engine")),
		adapters:    adapters,
		coord:       coord,
		cache:       cache,
		lifecycle:   lm,
		ledger:      led,
		monitor:     monitor,
		cfg:         cfg,
		lastPrinted: make(map[string]float64),
	}
}

// Run ticks until ctx is canceled. It never returns a tick-level error:
// per-venue and per-attempt failures degrade gracefully and the loop
// continues.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.engineCfg().TickInterval.Duration
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.Info("engine started",
		slog.Duration("tick_interval", interval),
		slog.Bool("monitor", e.monitor))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx)
			if next := e.engineCfg().TickInterval.Duration; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// tick is one pass of the decision loop.
func (e *Engine) tick(ctx context.Context) {
	cfg := e.engineCfg()

	quotes := make(map[string]map[domain.Venue]domain.CachedQuote, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		e.refresh(ctx, symbol)
		snap := e.cache.Snapshot(symbol)
		quotes[symbol] = snap

		best, ok := evaluator.Best(symbol, snap, time.Now())
		if !ok {
			continue
		}
		e.report(cfg, best)

		if e.monitor || best.DiffPercent < cfg.OpenThresholdPercent {
			continue
		}
		liquidity := e.liquidity(ctx, cfg, best)
		if _, _, err := e.lifecycle.TryOpen(ctx, best, liquidity); err != nil {
			e.logger.Warn("open attempt failed",
				slog.String("pair", best.Key()),
				slog.String("error", err.Error()))
		}
	}

	if !e.monitor {
		e.lifecycle.CloseEligible(ctx, quotes)
	}
}

// refresh schedules a fetch for every (venue, symbol) pair whose cached
// quote is aging out. Budget rejections are expected back-pressure, not
// errors: the tick keeps using the cached value.
func (e *Engine) refresh(ctx context.Context, symbol string) {
	for id, adapter := range e.adapters {
		if !e.cache.NeedsRefresh(id, symbol) {
			continue
		}
		fetch := func(a venue.Adapter) coordinator.FetchFunc {
			return func(fctx context.Context) (domain.PriceQuote, error) {
				return a.FetchQuote(fctx, symbol)
			}
		}(adapter)
		err := e.coord.Schedule(ctx, id, symbol, fetch)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrBusyVenue):
		default:
			e.logger.Warn("schedule failed",
				slog.String("venue", string(id)),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
}

// liquidity fetches the thinner visible side of the pair's books when
// liquidity-aware sizing is on and both adapters expose depth. Opens are
// rare, so the synchronous depth calls here are acceptable.
func (e *Engine) liquidity(ctx context.Context, cfg config.EngineConfig, opp domain.Opportunity) *float64 {
	if !cfg.LiquidityAware {
		return nil
	}
	buyDepth, okBuy := e.adapters[opp.BuyVenue].(venue.DepthProvider)
	sellDepth, okSell := e.adapters[opp.SellVenue].(venue.DepthProvider)
	if !okBuy || !okSell {
		return nil
	}

	dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	buyBook, err := buyDepth.FetchOrderBook(dctx, opp.Symbol)
	if err != nil {
		e.logger.Debug("depth unavailable", slog.String("venue", string(opp.BuyVenue)), slog.String("error", err.Error()))
		return nil
	}
	sellBook, err := sellDepth.FetchOrderBook(dctx, opp.Symbol)
	if err != nil {
		e.logger.Debug("depth unavailable", slog.String("venue", string(opp.SellVenue)), slog.String("error", err.Error()))
		return nil
	}
	thin := math.Min(buyBook.AskVolume(), sellBook.BidVolume())
	return &thin
}

// report logs an opportunity unless it is within epsilon of the last one
// logged for the same pair.
func (e *Engine) report(cfg config.EngineConfig, opp domain.Opportunity) {
	key := opp.Key()
	if last, ok := e.lastPrinted[key]; ok && math.Abs(opp.DiffPercent-last) <= cfg.EpsilonPercent {
		return
	}
	e.lastPrinted[key] = opp.DiffPercent
	e.logger.Info("opportunity",
		slog.String("pair", key),
		slog.Float64("buy_price", opp.BuyPrice),
		slog.Float64("sell_price", opp.SellPrice),
		slog.Float64("diff_percent", opp.DiffPercent))
}

// UpdateEngineConfig swaps the decision parameters between ticks. The
// candidate is validated in isolation first; an invalid update changes
// nothing.
func (e *Engine) UpdateEngineConfig(cfg config.EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("engine: reject config update: %w", err)
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.lifecycle.UpdateConfig(cfg)
	e.logger.Info("engine config updated",
		slog.Float64("open_threshold_percent", cfg.OpenThresholdPercent),
		slog.Float64("close_threshold_percent", cfg.CloseThresholdPercent))
	return nil
}

// Status is the pull accessor for the reporting surface.
func (e *Engine) Status() domain.TradingState {
	return e.ledger.State()
}

// EngineConfig returns the active decision parameters.
func (e *Engine) EngineConfig() config.EngineConfig {
	return e.engineCfg()
}

func (e *Engine) engineCfg() config.EngineConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}
