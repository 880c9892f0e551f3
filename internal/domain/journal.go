package domain

import (
	"context"
	"time"
)

// EventType tags a journal record.
type EventType string

const (
	EventOpen  EventType = "OPEN"
	EventClose EventType = "CLOSE"
)

// JournalEntry is one append-only event log record. It carries a full
// position snapshot plus the computed profit/fee breakdown so that recovery
// and external reporting tools never need any other source.
type JournalEntry struct {
	Type     EventType `json:"type"`
	At       time.Time `json:"at"`
	Position Position  `json:"position"`

	// Open breakdown.
	GrossProfit float64 `json:"gross_profit"`
	Fees        float64 `json:"fees"`
	NetProfit   float64 `json:"net_profit"`

	// Close breakdown; zero-valued on OPEN entries.
	CloseDiffPercent float64 `json:"close_diff_percent,omitempty"`
	NetProfitPercent float64 `json:"net_profit_percent,omitempty"`
	ActualProfitUSD  float64 `json:"actual_profit_usd,omitempty"`
}

// Journal is the durable append-only event log.
type Journal interface {
	Append(ctx context.Context, entry JournalEntry) error
}

// TradeHistoryStore mirrors closed positions into a queryable store for
// reporting. It is never read during recovery.
type TradeHistoryStore interface {
	InsertClosed(ctx context.Context, res CloseResult) error
	ListRecent(ctx context.Context, limit int) ([]CloseResult, error)
	SumProfit(ctx context.Context, since time.Time) (float64, error)
}
