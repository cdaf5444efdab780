package models

import "time"

// AbsorptionZone is a price bucket whose executed volume crossed the detector threshold
type AbsorptionZone struct {
	Price       float64   `json:"price_bucket"`
	TotalVolume int64     `json:"total_volume"`
	BuyVolume   int64     `json:"buy_volume"`
	SellVolume  int64     `json:"sell_volume"`
	TradeCount  int64     `json:"trade_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Dominance   Direction `json:"dominance"`
	Strength    float64   `json:"strength"`
	Confidence  float64   `json:"confidence"`
}

// SweepType classifies which side of liquidity a sweep ran
type SweepType string

const (
	BuySideSweep  SweepType = "BUY_SIDE_SWEEP"
	SellSideSweep SweepType = "SELL_SIDE_SWEEP"
)

// Thesis is the direction a sweep argues for: running buy stops above a high and
// closing back inside is bearish, the mirror image is bullish.
func (t SweepType) Thesis() Direction {
	switch t {
	case BuySideSweep:
		return DirectionSell
	case SellSideSweep:
		return DirectionBuy
	}
	return DirectionNeutral
}

// Sweep is an immutable break-and-reject event
type Sweep struct {
	Type           SweepType `json:"type"`
	BreachedLevel  float64   `json:"breached_level"`
	BreakExtreme   float64   `json:"break_extreme"`
	RejectionClose float64   `json:"rejection_close"`
	OvershootPips  float64   `json:"overshoot_pips"`
	Volume         float64   `json:"volume"`
	Time           time.Time `json:"time"`
	Strength       float64   `json:"strength"`
}
