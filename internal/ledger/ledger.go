// Package ledger tracks open positions and cumulative trading totals in
// memory. It is the single source of truth for inventory headroom; the
// journal makes it durable, the postgres store mirrors closed trades for
// querying.
package ledger

import (
	"sort"
	"sync"

	"github.com/crossvenue/arbot/internal/domain"
)

// Ledger guards the open position set and running totals. Writes come
// from the lifecycle manager on the engine tick; reads also come from
// the status server, which is why the lock is an RWMutex.
type Ledger struct {
	mu     sync.RWMutex
	open   map[string]domain.Position
	state  domain.TradingState
	maxInv float64
}

// New builds a ledger with the given per-symbol inventory cap (summed
// open volume across all positions on one symbol).
func New(maxInventory float64) *Ledger {
	return &Ledger{
		open:   make(map[string]domain.Position),
		maxInv: maxInventory,
	}
}

// Headroom is the volume still available under the symbol's inventory
// cap.
func (l *Ledger) Headroom(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headroomLocked(symbol)
}

func (l *Ledger) headroomLocked(symbol string) float64 {
	var used float64
	for _, p := range l.open {
		if p.Symbol == symbol {
			used += p.Volume
		}
	}
	room := l.maxInv - used
	if room < 0 {
		return 0
	}
	return room
}

// Add records a newly opened position. It fails with ErrNoHeadroom when
// the position would push the symbol's summed open volume past the
// inventory cap, so the cap holds no matter what sizing produced the
// volume.
func (l *Ledger) Add(p domain.Position) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if p.Volume > l.headroomLocked(p.Symbol) {
		return domain.ErrNoHeadroom
	}
	l.open[p.ID] = p
	l.state.TotalInvestment += p.TotalInvestment
	l.state.OpenPositions = len(l.open)
	return nil
}

// Remove settles a closed position: it leaves the open set and its
// realized profit lands in the totals. Unknown ids return ErrNotFound.
func (l *Ledger) Remove(id string, actualProfitUSD float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.open[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(l.open, id)
	l.state.TotalProfit += actualProfitUSD
	l.state.TotalTrades++
	l.state.TotalInvestment -= p.TotalInvestment
	l.state.OpenPositions = len(l.open)
	return nil
}

// Open returns the open positions sorted by open time then id, oldest
// first. The slice is a copy; callers may hold it across the lock.
func (l *Ledger) Open() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.open))
	for _, p := range l.open {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OpenVolume sums open volume for one symbol.
func (l *Ledger) OpenVolume(symbol string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var v float64
	for _, p := range l.open {
		if p.Symbol == symbol {
			v += p.Volume
		}
	}
	return v
}

// State returns a copy of the running totals.
func (l *Ledger) State() domain.TradingState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Restore seeds the ledger from recovered positions and totals. It is
// only called during startup replay, before any tick runs, so it
// replaces state wholesale.
func (l *Ledger) Restore(open []domain.Position, state domain.TradingState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = make(map[string]domain.Position, len(open))
	for _, p := range open {
		l.open[p.ID] = p
	}
	state.OpenPositions = len(l.open)
	l.state = state
}
