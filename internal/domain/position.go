package domain

import "time"

// PositionStatus tracks whether a position is open or closed. The OPENING and
// CLOSING states of the lifecycle are transient: they begin and end inside a
// single synchronous step, so only OPEN and CLOSED are ever durable.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// Position is one simulated arbitrage position: buy on BuyVenue, sell on
// SellVenue. Created exclusively by the lifecycle manager on open and owned
// by the ledger for its entire open lifetime.
type Position struct {
	ID              string         `json:"id"`
	Symbol          string         `json:"symbol"`
	BuyVenue        Venue          `json:"buy_venue"`
	SellVenue       Venue          `json:"sell_venue"`
	BuyPrice        float64        `json:"buy_price"`
	SellPrice       float64        `json:"sell_price"`
	Volume          float64        `json:"volume"`
	OpenDiffPercent float64        `json:"open_diff_percent"`
	Status          PositionStatus `json:"status"`
	OpenedAt        time.Time      `json:"opened_at"`

	TotalInvestment   float64 `json:"total_investment"`
	ExpectedGross     float64 `json:"expected_gross_profit"`
	ExpectedFees      float64 `json:"expected_fees"`
	ExpectedNetProfit float64 `json:"expected_net_profit"`
}

// TradingState is the derived aggregate over the ledger plus the journal. It
// is never a source of truth: recovery recomputes it from the event log.
type TradingState struct {
	TotalProfit     float64 `json:"total_profit"`
	TotalTrades     int     `json:"total_trades"`
	TotalInvestment float64 `json:"total_investment"`
	OpenPositions   int     `json:"open_positions"`
}

// CloseResult captures the outcome of closing one position.
type CloseResult struct {
	Position         Position  `json:"position"`
	CloseDiffPercent float64   `json:"close_diff_percent"`
	NetProfitPercent float64   `json:"net_profit_percent"`
	ActualProfitUSD  float64   `json:"actual_profit_usd"`
	ClosedAt         time.Time `json:"closed_at"`
}
