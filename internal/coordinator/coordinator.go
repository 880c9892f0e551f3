// Package coordinator schedules venue price fetches under per-venue
// concurrency and rate budgets, collapsing duplicate in-flight requests
// so each (venue, symbol) pair is fetched at most once at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
	"github.com/crossvenue/arbot/internal/venue"
)

// FetchFunc produces a quote for one symbol. It is the adapter call the
// coordinator guards; implementations must honor ctx cancellation.
type FetchFunc func(ctx context.Context) (domain.PriceQuote, error)

// VenueStats is a point-in-time counter snapshot for one venue.
type VenueStats struct {
	Scheduled   uint64 `json:"scheduled"`
	Deduped     uint64 `json:"deduped"`
	RateLimited uint64 `json:"rate_limited"`
	Busy        uint64 `json:"busy"`
	Timeouts    uint64 `json:"timeouts"`
	Failures    uint64 `json:"failures"`
	Successes   uint64 `json:"successes"`
	BreakerOpen uint64 `json:"breaker_open"`
}

type venueState struct {
	id      domain.Venue
	slots   chan struct{}
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}

	scheduled   atomic.Uint64
	deduped     atomic.Uint64
	rateLimited atomic.Uint64
	busy        atomic.Uint64
	timeouts    atomic.Uint64
	failures    atomic.Uint64
	successes   atomic.Uint64
	breakerOpen atomic.Uint64
}

// Coordinator owns the scheduling budgets for every configured venue.
// Fetch results, including failures converted to error quotes, are
// delivered asynchronously to the sink.
type Coordinator struct {
	logger *slog.Logger
	sink   venue.QuoteSink
	venues map[domain.Venue]*venueState
}

// New builds a coordinator from per-venue budget configuration. Results
// are pushed into sink as they arrive.
func New(venues map[string]config.VenueConfig, sink venue.QuoteSink, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		logger: logger.With(slog.String("component", "coordinator")),
		sink:   sink,
		venues: make(map[domain.Venue]*venueState, len(venues)),
	}
	for name, vc := range venues {
		if !vc.Enabled {
			continue
		}
		id := domain.Venue(name)
		// One fixed window's worth of requests, refilled over the window.
		window := vc.RateWindow.Duration
		if window <= 0 {
			window = time.Second
		}
		per := rate.Every(window / time.Duration(max(vc.RateLimit, 1)))
		vs := &venueState{
			id:       id,
			slots:    make(chan struct{}, max(vc.Concurrency, 1)),
			limiter:  rate.NewLimiter(per, max(vc.RateLimit, 1)),
			timeout:  vc.FetchTimeout.Duration,
			inflight: make(map[string]struct{}),
		}
		vs.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(id),
			MaxRequests: 1,
			Interval:    window * 4,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				c.logger.Warn("breaker state change",
					slog.String("venue", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
		c.venues[id] = vs
	}
	return c
}

// Schedule requests one fetch for (venue, symbol). It never blocks: when
// the venue's rate window is exhausted it returns domain.ErrRateLimited,
// when all concurrency slots are taken it returns domain.ErrBusyVenue,
// and when the same pair is already being fetched it returns nil without
// invoking fetch a second time. The eventual quote, success or failure,
// reaches the sink from a worker goroutine.
func (c *Coordinator) Schedule(ctx context.Context, v domain.Venue, symbol string, fetch FetchFunc) error {
	vs, ok := c.venues[v]
	if !ok {
		return fmt.Errorf("coordinator: schedule %s/%s: %w", v, symbol, domain.ErrVenueDisabled)
	}
	vs.scheduled.Add(1)

	vs.mu.Lock()
	if _, dup := vs.inflight[symbol]; dup {
		vs.mu.Unlock()
		vs.deduped.Add(1)
		return nil
	}

	if !vs.limiter.Allow() {
		vs.mu.Unlock()
		vs.rateLimited.Add(1)
		return fmt.Errorf("coordinator: schedule %s/%s: %w", v, symbol, domain.ErrRateLimited)
	}

	select {
	case vs.slots <- struct{}{}:
	default:
		vs.mu.Unlock()
		vs.busy.Add(1)
		return fmt.Errorf("coordinator: schedule %s/%s: %w", v, symbol, domain.ErrBusyVenue)
	}

	vs.inflight[symbol] = struct{}{}
	vs.mu.Unlock()

	go c.run(ctx, vs, symbol, fetch)
	return nil
}

// run executes one guarded fetch. The fetch itself gets its own
// cancelable context: when the venue deadline fires the slot is released
// and a timeout quote is recorded, but the adapter call is left to finish
// (and be discarded) on its own so a stuck HTTP exchange cannot wedge a
// worker forever holding budget.
func (c *Coordinator) run(ctx context.Context, vs *venueState, symbol string, fetch FetchFunc) {
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	type outcome struct {
		quote domain.PriceQuote
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := vs.breaker.Execute(func() (any, error) {
			q, err := fetch(fetchCtx)
			if err != nil {
				return nil, err
			}
			if !q.OK() {
				return nil, fmt.Errorf("coordinator: %s/%s: empty book", vs.id, symbol)
			}
			return q, nil
		})
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{quote: res.(domain.PriceQuote)}
	}()

	timer := time.NewTimer(vs.timeout)
	defer timer.Stop()

	var out outcome
	select {
	case out = <-done:
		cancel()
	case <-timer.C:
		// Release the budget now; the adapter keeps running until its
		// own transport gives up, and its late result is dropped.
		cancel()
		out = outcome{err: fmt.Errorf("coordinator: fetch %s/%s after %s: %w",
			vs.id, symbol, vs.timeout, domain.ErrFetchTimeout)}
		vs.timeouts.Add(1)
	case <-ctx.Done():
		cancel()
		out = outcome{err: fmt.Errorf("coordinator: fetch %s/%s: %w", vs.id, symbol, ctx.Err())}
	}

	c.finish(vs, symbol)

	if out.err != nil {
		vs.failures.Add(1)
		if errors.Is(out.err, gobreaker.ErrOpenState) || errors.Is(out.err, gobreaker.ErrTooManyRequests) {
			vs.breakerOpen.Add(1)
			out.err = fmt.Errorf("coordinator: fetch %s/%s: %w", vs.id, symbol, domain.ErrBreakerOpen)
		}
		c.logger.Debug("fetch failed",
			slog.String("venue", string(vs.id)),
			slog.String("symbol", symbol),
			slog.String("error", out.err.Error()))
		c.sink.Store(domain.ErrorQuote(vs.id, symbol, out.err, time.Now()))
		return
	}

	vs.successes.Add(1)
	c.sink.Store(out.quote)
}

func (c *Coordinator) finish(vs *venueState, symbol string) {
	vs.mu.Lock()
	delete(vs.inflight, symbol)
	vs.mu.Unlock()
	<-vs.slots
}

// Stats reports counter snapshots keyed by venue, for the status surface.
func (c *Coordinator) Stats() map[domain.Venue]VenueStats {
	out := make(map[domain.Venue]VenueStats, len(c.venues))
	for id, vs := range c.venues {
		out[id] = VenueStats{
			Scheduled:   vs.scheduled.Load(),
			Deduped:     vs.deduped.Load(),
			RateLimited: vs.rateLimited.Load(),
			Busy:        vs.busy.Load(),
			Timeouts:    vs.timeouts.Load(),
			Failures:    vs.failures.Load(),
			Successes:   vs.successes.Load(),
			BreakerOpen: vs.breakerOpen.Load(),
		}
	}
	return out
}
