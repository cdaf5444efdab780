package models

import "time"

// Feed status labels
const (
	StatusLive    = "live"
	StatusWaiting = "waiting for data"
)

// DecisionEvent is the scoring outcome of one closed live bar
type DecisionEvent struct {
	Symbol        string         `json:"symbol"`
	Time          time.Time      `json:"time"`
	Bar           Bar            `json:"bar"`
	Context       ScoringContext `json:"context"`
	Scored        *Decision      `json:"scored"`
	Decision      *Decision      `json:"decision"`
	FilterReasons []string       `json:"filter_reasons"`
	Signal        *SignalRecord  `json:"signal,omitempty"`
}

// Status is the live feed summary served by /status
type Status struct {
	Status       string    `json:"status"`
	Symbol       string    `json:"symbol"`
	CurrentPrice float64   `json:"current_price"`
	Session      Session   `json:"session"`
	KillZone     bool      `json:"kill_zone"`
	BuyVolume    int64     `json:"buy_volume"`
	SellVolume   int64     `json:"sell_volume"`
	Delta        int64     `json:"delta"`
	Bias         Direction `json:"bias"`
	BuyCount     int       `json:"buy_count"`
	SellCount    int       `json:"sell_count"`
	FeedStale    bool      `json:"feed_stale"`
	SampledMode  bool      `json:"sampled_mode"`
	LastTick     time.Time `json:"last_tick,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
