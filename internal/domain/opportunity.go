package domain

import "time"

// Opportunity is one candidate spread for an ordered venue pair: buy at
// BuyVenue's ask, sell at SellVenue's bid. DiffPercent is the relative gap
// as a percentage of the ask.
type Opportunity struct {
	Symbol      string
	BuyVenue    Venue
	SellVenue   Venue
	BuyPrice    float64 // BuyVenue ask
	SellPrice   float64 // SellVenue bid
	DiffPercent float64
	ObservedAt  time.Time
}

// Key identifies the ordered venue pair for dedup and suppression.
func (o Opportunity) Key() string {
	return string(o.BuyVenue) + ">" + string(o.SellVenue) + ":" + o.Symbol
}

// OrderBookLevel is a single price+size entry from a venue orderbook,
// used by liquidity-aware sizing.
type OrderBookLevel struct {
	Price float64
	Size  float64
}

// OrderBookSnapshot holds the top levels needed to cap a candidate volume by
// visible liquidity. Venues that cannot provide depth leave the slices empty.
type OrderBookSnapshot struct {
	Venue     Venue
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// BidVolume returns total size on the bid side.
func (s OrderBookSnapshot) BidVolume() float64 {
	var v float64
	for _, l := range s.Bids {
		v += l.Size
	}
	return v
}

// AskVolume returns total size on the ask side.
func (s OrderBookSnapshot) AskVolume() float64 {
	var v float64
	for _, l := range s.Asks {
		v += l.Size
	}
	return v
}
