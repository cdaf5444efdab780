package models

import "time"

// Session is a UTC trading session label
type Session string

const (
	SessionAsia    Session = "ASIA"
	SessionLondon  Session = "LONDON"
	SessionNewYork Session = "NEW_YORK"
	SessionOff     Session = "OFF_SESSION"
)

// NewsImpact ranks economic events
type NewsImpact string

const (
	ImpactHigh   NewsImpact = "HIGH"
	ImpactMedium NewsImpact = "MEDIUM"
	ImpactLow    NewsImpact = "LOW"
)

// Rank orders impacts so the strongest active event wins
func (i NewsImpact) Rank() int {
	switch i {
	case ImpactHigh:
		return 3
	case ImpactMedium:
		return 2
	case ImpactLow:
		return 1
	}
	return 0
}

// NewsWindow describes the news state at a timestamp
type NewsWindow struct {
	Active       bool       `json:"active"`
	Impact       NewsImpact `json:"impact,omitempty"`
	Event        string     `json:"event,omitempty"`
	MinutesSince float64    `json:"minutes_since"`
}

// ScoringContext is the input record of one scoring call. Decisions copy it by value.
type ScoringContext struct {
	Time                    time.Time          `json:"time"`
	Symbol                  string             `json:"symbol,omitempty"`
	CurrentPrice            float64            `json:"current_price"`
	AbsorptionZones         []AbsorptionZone   `json:"absorption_zones"`
	Sweeps                  []Sweep            `json:"sweeps"`
	MemoryZones             []MemoryZone       `json:"memory_zones"`
	Session                 Session            `json:"session"`
	KillZone                bool               `json:"kill_zone"`
	News                    NewsWindow         `json:"news_window"`
	IcebergPersistenceScore float64            `json:"iceberg_persistence_score"`
	Volume                  float64            `json:"volume"`
	OrderFlow               *OrderFlowSnapshot `json:"order_flow,omitempty"`
	FeedStale               bool               `json:"feed_stale,omitempty"`
}
