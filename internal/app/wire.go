package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/crossvenue/arbot/internal/blob/s3"
	"github.com/crossvenue/arbot/internal/cache/redis"
	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/coordinator"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/engine"
	"github.com/crossvenue/arbot/internal/journal"
	"github.com/crossvenue/arbot/internal/ledger"
	"github.com/crossvenue/arbot/internal/lifecycle"
	"github.com/crossvenue/arbot/internal/notify"
	"github.com/crossvenue/arbot/internal/pricecache"
	"github.com/crossvenue/arbot/internal/store/postgres"
	"github.com/crossvenue/arbot/internal/venue"
)

// Dependencies bundles everything the operating modes need. Wire
// constructs it; the returned cleanup tears it down.
type Dependencies struct {
	Registry  *venue.Registry
	Cache     *pricecache.Cache
	Coord     *coordinator.Coordinator
	Ledger    *ledger.Ledger
	Journal   *journal.Writer
	Lifecycle *lifecycle.Manager
	Engine    *engine.Engine

	// Optional, nil when the corresponding feature is disabled.
	History domain.TradeHistoryStore
	Bus     domain.SignalBus
}

// Wire constructs all concrete dependencies from the configuration. The
// ledger comes back already seeded from journal replay, so a crash-
// interrupted run resumes with its open positions intact.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue adapters ---
	registry, err := venue.Build(cfg.Venues, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: venues: %w", err)
	}
	closers = append(closers, func() { registry.Close() })
	deps.Registry = registry

	// --- Journal replay + writer ---
	recovered, err := journal.Replay(cfg.Journal.Path, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: journal replay: %w", err)
	}

	jnl, err := journal.NewWriter(cfg.Journal, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: journal: %w", err)
	}
	closers = append(closers, func() { _ = jnl.Close() })
	deps.Journal = jnl

	// --- Ledger seeded from replay ---
	led := ledger.New(cfg.Engine.MaxInventory)
	led.Restore(recovered.Open, recovered.State)
	deps.Ledger = led

	// --- Quote cache + coordinator ---
	deps.Cache = pricecache.New(cfg.Venues)
	deps.Coord = coordinator.New(cfg.Venues, deps.Cache, logger)

	// --- PostgreSQL trade-history mirror (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.History = postgres.NewTradeStore(pgClient.Pool())
	}

	// --- Redis signal bus (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- S3 journal archival (optional) ---
	if cfg.Journal.Archive {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		archiver := journal.NewArchiver(s3blob.NewWriter(s3Client), cfg.Journal.ArchivePrefix, logger)
		jnl.OnRotate(archiver.Archive)
	}

	// --- Lifecycle manager ---
	fees := make(map[domain.Venue]float64, len(cfg.Venues))
	for name, vc := range cfg.Venues {
		if vc.Enabled {
			fees[domain.Venue(name)] = vc.FeePercent
		}
	}
	var opts []lifecycle.Option
	if deps.History != nil {
		opts = append(opts, lifecycle.WithHistory(deps.History))
	}
	if deps.Bus != nil {
		opts = append(opts, lifecycle.WithSignalBus(deps.Bus))
	}
	if notifier := notify.New(cfg.Notify, logger); notifier != nil {
		opts = append(opts, lifecycle.WithNotifier(notifier))
	}
	deps.Lifecycle = lifecycle.New(cfg.Engine, fees, led, jnl, logger, opts...)

	// --- Engine ---
	monitor := strings.EqualFold(cfg.Mode, config.ModeMonitor)
	deps.Engine = engine.New(cfg.Engine, registry.Adapters, deps.Coord, deps.Cache, deps.Lifecycle, led, monitor, logger)

	return deps, cleanup, nil
}
