package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/crossvenue/arbot/internal/domain"
)

// RecoveredState is the outcome of replaying the journal: positions that
// were opened but never closed, the trading totals implied by the closed
// ones, and how many lines could not be decoded.
type RecoveredState struct {
	Open         []domain.Position
	State        domain.TradingState
	Entries      int
	CorruptLines int
}

// Replay reads the journal from the beginning and folds it into the
// state the ledger held when the last entry was written. Lines that fail
// to decode, such as a line truncated by a crash, are counted and
// skipped; everything before and after them still applies. A missing
// file is a clean first start.
func Replay(path string, logger *slog.Logger) (RecoveredState, error) {
	log := logger.With(slog.String("component", "recovery"))

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info("no journal found, starting clean", slog.String("path", path))
		return RecoveredState{}, nil
	}
	if err != nil {
		return RecoveredState{}, fmt.Errorf("journal: open for replay: %w", err)
	}
	defer f.Close()

	rs, err := replay(f, log)
	if err != nil {
		return RecoveredState{}, err
	}
	log.Info("journal replayed",
		slog.Int("entries", rs.Entries),
		slog.Int("open_positions", len(rs.Open)),
		slog.Int("corrupt_lines", rs.CorruptLines),
		slog.Float64("total_profit", rs.State.TotalProfit))
	return rs, nil
}

func replay(r io.Reader, log *slog.Logger) (RecoveredState, error) {
	var rs RecoveredState
	pending := make(map[string]domain.Position)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e domain.JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			rs.CorruptLines++
			log.Warn("skipping corrupt journal line",
				slog.Int("line", lineNo),
				slog.String("error", fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err).Error()))
			continue
		}
		switch e.Type {
		case domain.EventOpen:
			pending[e.Position.ID] = e.Position
			rs.State.TotalInvestment += e.Position.TotalInvestment
		case domain.EventClose:
			p, ok := pending[e.Position.ID]
			if !ok {
				// Close without a matching open: its open line was lost
				// or this segment starts mid-history. Totals still count.
				rs.State.TotalProfit += e.ActualProfitUSD
				rs.State.TotalTrades++
				rs.Entries++
				continue
			}
			delete(pending, e.Position.ID)
			rs.State.TotalProfit += e.ActualProfitUSD
			rs.State.TotalTrades++
			rs.State.TotalInvestment -= p.TotalInvestment
		default:
			rs.CorruptLines++
			log.Warn("skipping journal line with unknown type",
				slog.Int("line", lineNo),
				slog.String("type", string(e.Type)))
			continue
		}
		rs.Entries++
	}
	if err := sc.Err(); err != nil {
		return RecoveredState{}, fmt.Errorf("journal: scan: %w", err)
	}

	rs.Open = make([]domain.Position, 0, len(pending))
	for _, p := range pending {
		rs.Open = append(rs.Open, p)
	}
	sort.Slice(rs.Open, func(i, j int) bool {
		if !rs.Open[i].OpenedAt.Equal(rs.Open[j].OpenedAt) {
			return rs.Open[i].OpenedAt.Before(rs.Open[j].OpenedAt)
		}
		return rs.Open[i].ID < rs.Open[j].ID
	})
	rs.State.OpenPositions = len(rs.Open)
	return rs, nil
}
