package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crossvenue/arbot/internal/domain"
)

// TradeStore implements domain.TradeHistoryStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeHistoryStore = (*TradeStore)(nil)

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// InsertClosed records one closed trade. Re-inserting the same position
// id is a no-op so at-least-once delivery from the lifecycle manager
// never duplicates rows.
func (s *TradeStore) InsertClosed(ctx context.Context, res domain.CloseResult) error {
	const query = `
		INSERT INTO closed_trades (
			position_id, symbol, buy_venue, sell_venue,
			buy_price, sell_price, volume, total_investment,
			open_diff_percent, close_diff_percent,
			net_profit_percent, actual_profit_usd,
			opened_at, closed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (position_id) DO NOTHING`

	p := res.Position
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.BuyVenue), string(p.SellVenue),
		p.BuyPrice, p.SellPrice, p.Volume, p.TotalInvestment,
		p.OpenDiffPercent, res.CloseDiffPercent,
		res.NetProfitPercent, res.ActualProfitUSD,
		p.OpenedAt, res.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closed trade %s: %w", p.ID, err)
	}
	return nil
}

const closedSelectCols = `position_id, symbol, buy_venue, sell_venue,
	buy_price, sell_price, volume, total_investment,
	open_diff_percent, close_diff_percent,
	net_profit_percent, actual_profit_usd,
	opened_at, closed_at`

func scanClosedRows(rows pgx.Rows) ([]domain.CloseResult, error) {
	var out []domain.CloseResult
	for rows.Next() {
		var r domain.CloseResult
		var buyVenue, sellVenue string
		if err := rows.Scan(
			&r.Position.ID, &r.Position.Symbol, &buyVenue, &sellVenue,
			&r.Position.BuyPrice, &r.Position.SellPrice,
			&r.Position.Volume, &r.Position.TotalInvestment,
			&r.Position.OpenDiffPercent, &r.CloseDiffPercent,
			&r.NetProfitPercent, &r.ActualProfitUSD,
			&r.Position.OpenedAt, &r.ClosedAt,
		); err != nil {
			return nil, err
		}
		r.Position.BuyVenue = domain.Venue(buyVenue)
		r.Position.SellVenue = domain.Venue(sellVenue)
		r.Position.Status = domain.PositionStatusClosed
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRecent returns the most recently closed trades, newest first.
func (s *TradeStore) ListRecent(ctx context.Context, limit int) ([]domain.CloseResult, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM closed_trades ORDER BY closed_at DESC LIMIT $1",
		closedSelectCols,
	)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent closed trades: %w", err)
	}
	defer rows.Close()

	out, err := scanClosedRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return out, nil
}

// SumProfit totals realized profit for trades closed at or after since.
func (s *TradeStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	const query = `
		SELECT COALESCE(SUM(actual_profit_usd), 0)
		FROM closed_trades
		WHERE closed_at >= $1`

	var total float64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return total, nil
}
