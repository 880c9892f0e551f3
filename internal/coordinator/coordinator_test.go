package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/domain"
)

// sinkRecorder captures stored quotes and signals each arrival.
type sinkRecorder struct {
	mu     sync.Mutex
	quotes []domain.PriceQuote
	ch     chan domain.PriceQuote
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{ch: make(chan domain.PriceQuote, 64)}
}

func (s *sinkRecorder) Store(q domain.PriceQuote) {
	s.mu.Lock()
	s.quotes = append(s.quotes, q)
	s.mu.Unlock()
	s.ch <- q
}

func (s *sinkRecorder) wait(t *testing.T) domain.PriceQuote {
	t.Helper()
	select {
	case q := <-s.ch:
		return q
	case <-time.After(5 * time.Second):
		t.Fatal("no quote reached the sink")
		return domain.PriceQuote{}
	}
}

func venueCfg(concurrency, rateLimit int, timeout time.Duration) map[string]config.VenueConfig {
	return map[string]config.VenueConfig{
		"mexc": {
			Enabled:      true,
			Concurrency:  concurrency,
			RateLimit:    rateLimit,
			RateWindow:   config.Duration{Duration: time.Second},
			FetchTimeout: config.Duration{Duration: timeout},
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func goodQuote() domain.PriceQuote {
	return domain.NewQuote(domain.VenueMEXC, "DEBT_USDT", 1.02, 1.03, time.Now())
}

func TestScheduleDeliversQuote(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(2, 100, time.Second), sink, discardLogger())

	err := c.Schedule(context.Background(), domain.VenueMEXC, "DEBT_USDT",
		func(ctx context.Context) (domain.PriceQuote, error) { return goodQuote(), nil })
	require.NoError(t, err)

	q := sink.wait(t)
	assert.True(t, q.OK())
	assert.Equal(t, domain.VenueMEXC, q.Venue)

	st := c.Stats()[domain.VenueMEXC]
	assert.Equal(t, uint64(1), st.Scheduled)
	assert.Equal(t, uint64(1), st.Successes)
}

func TestScheduleUnknownVenue(t *testing.T) {
	c := New(venueCfg(1, 100, time.Second), newSinkRecorder(), discardLogger())
	err := c.Schedule(context.Background(), domain.VenueBinance, "DEBT_USDT",
		func(ctx context.Context) (domain.PriceQuote, error) { return goodQuote(), nil })
	assert.ErrorIs(t, err, domain.ErrVenueDisabled)
}

func TestScheduleDedupsInflight(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(4, 100, time.Second), sink, discardLogger())

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (domain.PriceQuote, error) {
		calls.Add(1)
		<-release
		return goodQuote(), nil
	}

	ctx := context.Background()
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT", fetch))
	// Duplicates while the first is in flight: accepted as no-ops.
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT", fetch))
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT", fetch))

	close(release)
	sink.wait(t)

	assert.Equal(t, int32(1), calls.Load(), "the adapter runs exactly once")
	sink.mu.Lock()
	stored := len(sink.quotes)
	sink.mu.Unlock()
	assert.Equal(t, 1, stored, "one result reaches the cache")

	st := c.Stats()[domain.VenueMEXC]
	assert.Equal(t, uint64(3), st.Scheduled)
	assert.Equal(t, uint64(2), st.Deduped)
}

func TestScheduleBusyVenue(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(1, 100, time.Second), sink, discardLogger())

	release := make(chan struct{})
	ctx := context.Background()
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT",
		func(ctx context.Context) (domain.PriceQuote, error) { <-release; return goodQuote(), nil }))

	// A different symbol on the same venue needs its own slot.
	err := c.Schedule(ctx, domain.VenueMEXC, "OTHER_USDT",
		func(ctx context.Context) (domain.PriceQuote, error) { return goodQuote(), nil })
	assert.ErrorIs(t, err, domain.ErrBusyVenue)

	close(release)
	sink.wait(t)

	// The slot came back with the result.
	require.Eventually(t, func() bool {
		return c.Schedule(ctx, domain.VenueMEXC, "OTHER_USDT",
			func(ctx context.Context) (domain.PriceQuote, error) { return goodQuote(), nil }) == nil
	}, 2*time.Second, 10*time.Millisecond)
	sink.wait(t)
}

func TestScheduleRateLimited(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(8, 2, time.Second), sink, discardLogger())

	ctx := context.Background()
	fetchFor := func(symbol string) FetchFunc {
		return func(ctx context.Context) (domain.PriceQuote, error) {
			return domain.NewQuote(domain.VenueMEXC, symbol, 1.02, 1.03, time.Now()), nil
		}
	}

	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "A_USDT", fetchFor("A_USDT")))
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "B_USDT", fetchFor("B_USDT")))

	// Third distinct symbol inside the same window exceeds the quota.
	err := c.Schedule(ctx, domain.VenueMEXC, "C_USDT", fetchFor("C_USDT"))
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, uint64(1), c.Stats()[domain.VenueMEXC].RateLimited)

	sink.wait(t)
	sink.wait(t)
}

func TestTimeoutStoresErrorQuoteAndFreesSlot(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(1, 100, 20*time.Millisecond), sink, discardLogger())

	ctx := context.Background()
	stuck := make(chan struct{})
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT",
		func(ctx context.Context) (domain.PriceQuote, error) {
			<-stuck // never honors cancellation; the coordinator moves on anyway
			return goodQuote(), nil
		}))

	q := sink.wait(t)
	assert.False(t, q.OK())
	assert.Contains(t, q.Err, "timed out")
	assert.Equal(t, uint64(1), c.Stats()[domain.VenueMEXC].Timeouts)

	// Budget was released even though the adapter is still stuck.
	require.Eventually(t, func() bool {
		return c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT",
			func(ctx context.Context) (domain.PriceQuote, error) { return goodQuote(), nil }) == nil
	}, 2*time.Second, 10*time.Millisecond)

	fresh := sink.wait(t)
	assert.True(t, fresh.OK(), "late stuck result must not block a fresh fetch")
	close(stuck)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(1, 1000, time.Second), sink, discardLogger())

	ctx := context.Background()
	failing := func(ctx context.Context) (domain.PriceQuote, error) {
		return domain.PriceQuote{}, errors.New("connection refused")
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT", failing))
		q := sink.wait(t)
		assert.False(t, q.OK())
	}

	// Sixth attempt short-circuits at the open breaker.
	require.NoError(t, c.Schedule(ctx, domain.VenueMEXC, "DEBT_USDT", failing))
	q := sink.wait(t)
	assert.False(t, q.OK())
	assert.Contains(t, q.Err, domain.ErrBreakerOpen.Error())

	st := c.Stats()[domain.VenueMEXC]
	assert.Equal(t, uint64(1), st.BreakerOpen)
	assert.Equal(t, uint64(6), st.Failures)
}

func TestEmptyBookIsAFailure(t *testing.T) {
	sink := newSinkRecorder()
	c := New(venueCfg(1, 100, time.Second), sink, discardLogger())

	require.NoError(t, c.Schedule(context.Background(), domain.VenueMEXC, "DEBT_USDT",
		func(ctx context.Context) (domain.PriceQuote, error) {
			return domain.PriceQuote{Venue: domain.VenueMEXC, Symbol: "DEBT_USDT"}, nil
		}))

	q := sink.wait(t)
	assert.False(t, q.OK())
	assert.Contains(t, q.Err, "empty book")
}
