package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/crossvenue/arbot/internal/journal"
	"github.com/crossvenue/arbot/internal/server"
	"github.com/crossvenue/arbot/internal/server/handler"
)

// EngineMode runs the decision loop, the push feeds, and the status
// server until the context is canceled. Monitor mode uses the exact same
// wiring with position transitions disabled inside the engine.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})

	// Push feeds write into the cache alongside the coordinator's pulls.
	for _, feed := range deps.Registry.Feeds {
		feed := feed
		g.Go(func() error {
			return feed.Run(ctx, deps.Cache)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(a.cfg.Server, server.Handlers{
			Status: handler.NewStatusHandler(deps.Engine, deps.Ledger, deps.Coord),
			Trades: handler.NewTradesHandler(deps.History),
			Config: handler.NewConfigHandler(deps.Engine.EngineConfig, deps.Engine),
		}, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return err
}

// ReplayMode reconstructs the ledger state from the journal and reports
// it without touching any venue. It is the offline inspection tool for a
// journal file.
func (a *App) ReplayMode(ctx context.Context) error {
	recovered, err := journal.Replay(a.cfg.Journal.Path, a.logger)
	if err != nil {
		return fmt.Errorf("app: replay: %w", err)
	}

	a.logger.InfoContext(ctx, "replay complete",
		slog.String("journal", a.cfg.Journal.Path),
		slog.Int("entries", recovered.Entries),
		slog.Int("corrupt_lines", recovered.CorruptLines),
		slog.Int("open_positions", len(recovered.Open)),
		slog.Int("total_trades", recovered.State.TotalTrades),
		slog.Float64("total_profit_usd", recovered.State.TotalProfit),
		slog.Float64("total_investment_usd", recovered.State.TotalInvestment),
	)
	for _, p := range recovered.Open {
		a.logger.InfoContext(ctx, "open position",
			slog.String("position_id", p.ID),
			slog.String("symbol", p.Symbol),
			slog.String("buy_venue", string(p.BuyVenue)),
			slog.String("sell_venue", string(p.SellVenue)),
			slog.Float64("open_diff_percent", p.OpenDiffPercent),
			slog.Float64("volume", p.Volume),
			slog.Time("opened_at", p.OpenedAt),
		)
	}
	return nil
}
